// README: Summary service tests: view preference, scan fallback, redis cache.
package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmadispatch/internal/modules/dispatch"
	"pharmadispatch/internal/modules/fleet"
)

type staticLister struct {
	mu    sync.Mutex
	rows  []dispatch.Dispatch
	calls int
}

func (l *staticLister) ListRegistered(_ context.Context, from, to time.Time, pharmacyID string) ([]dispatch.Dispatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	var out []dispatch.Dispatch
	for _, d := range l.rows {
		if d.RegisteredAt.Before(from) || !d.RegisteredAt.Before(to) {
			continue
		}
		if pharmacyID != "" && d.OriginPharmacyID != pharmacyID {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type stubView struct {
	buckets []Bucket
	err     error
	calls   int
}

func (v *stubView) Buckets(context.Context, Period, string) ([]Bucket, error) {
	v.calls++
	return v.buckets, v.err
}

func testFleet() *fleet.Service {
	store := fleet.NewMemoryStore()
	store.PutPharmacy(fleet.Pharmacy{LocalID: "756", Name: "Farmacia Providencia", Commune: "Providencia", Active: true})
	store.PutPharmacy(fleet.Pharmacy{LocalID: "812", Name: "Farmacia Ñuñoa", Commune: "Ñuñoa", Active: true})
	return fleet.NewService(store)
}

func newTestService(view Source, lister *staticLister, cache *Cache) *Service {
	svc := NewService(view, NewScanSource(lister, time.UTC), cache, testFleet(), time.UTC, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC) }
	return svc
}

func TestSummary_ScanPath(t *testing.T) {
	lister := &staticLister{rows: sampleDispatches()}
	svc := newTestService(nil, lister, nil)
	ctx := context.Background()

	s, err := svc.Summary(ctx, Query{Period: "mes", Date: "2025-03"})
	require.NoError(t, err)
	assert.Equal(t, SourceScan, s.Source)
	require.Len(t, s.Rows, 3)
	assert.Equal(t, "Farmacia Providencia", s.Rows[0].PharmacyName)
	assert.Equal(t, "Providencia", s.Rows[0].Commune)

	day, err := svc.Summary(ctx, Query{Period: "dia"})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", day.Period.Label)
	total := int64(0)
	for _, r := range day.Rows {
		total += r.Total
	}
	assert.Equal(t, int64(4), total)

	one, err := svc.Summary(ctx, Query{Period: "mes", Date: "2025-03", PharmacyID: " 812 "})
	require.NoError(t, err)
	require.Len(t, one.Rows, 1)
	assert.Equal(t, "812", one.PharmacyID)

	empty, err := svc.Summary(ctx, Query{Period: "anio", Date: "2019"})
	require.NoError(t, err)
	assert.Empty(t, empty.Rows)

	_, err = svc.Summary(ctx, Query{Period: "trimestre"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestSummary_Idempotent(t *testing.T) {
	svc := newTestService(nil, &staticLister{rows: sampleDispatches()}, nil)
	ctx := context.Background()

	first, err := svc.Summary(ctx, Query{Period: "mes", Date: "2025-03"})
	require.NoError(t, err)
	second, err := svc.Summary(ctx, Query{Period: "mes", Date: "2025-03"})
	require.NoError(t, err)
	assert.Equal(t, first.Period, second.Period)
	assertRowsEqual(t, first.Rows, second.Rows)
}

func TestSummary_ViewPreferredWhenItHasRows(t *testing.T) {
	lister := &staticLister{rows: sampleDispatches()}
	view := &stubView{buckets: BucketsFromDispatches(sampleDispatches(), time.UTC)}
	svc := newTestService(view, lister, nil)

	s, err := svc.Summary(context.Background(), Query{Period: "mes", Date: "2025-03"})
	require.NoError(t, err)
	assert.Equal(t, SourceView, s.Source)
	assert.Equal(t, 0, lister.calls)

	scan := newTestService(nil, lister, nil)
	fromScan, err := scan.Summary(context.Background(), Query{Period: "mes", Date: "2025-03"})
	require.NoError(t, err)
	assertRowsEqual(t, fromScan.Rows, s.Rows)
}

func TestSummary_FallsBack(t *testing.T) {
	for name, view := range map[string]*stubView{
		"missing view": {err: ErrSourceUnavailable},
		"empty view":   {},
	} {
		t.Run(name, func(t *testing.T) {
			lister := &staticLister{rows: sampleDispatches()}
			svc := newTestService(view, lister, nil)

			s, err := svc.Summary(context.Background(), Query{Period: "mes", Date: "2025-03"})
			require.NoError(t, err)
			assert.Equal(t, SourceScan, s.Source)
			assert.Equal(t, 1, lister.calls)
			assert.Len(t, s.Rows, 3)
		})
	}
}

func TestSummary_ViewFailureSurfaces(t *testing.T) {
	boom := errors.New("connection reset")
	lister := &staticLister{rows: sampleDispatches()}
	svc := newTestService(&stubView{err: boom}, lister, nil)

	_, err := svc.Summary(context.Background(), Query{Period: "mes", Date: "2025-03"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, lister.calls)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Cache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewCache(client, 30*time.Second, zap.NewNop())
}

func TestSummary_Cached(t *testing.T) {
	mr, cache := setupTestRedis(t)
	lister := &staticLister{rows: sampleDispatches()}
	svc := newTestService(nil, lister, cache)
	ctx := context.Background()
	q := Query{Period: "mes", Date: "2025-03"}

	first, err := svc.Summary(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)
	assert.True(t, mr.Exists(cacheKey(first.Period, "")))

	lister.mu.Lock()
	lister.rows = nil
	lister.mu.Unlock()

	second, err := svc.Summary(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls, "served from cache")
	assertRowsEqual(t, first.Rows, second.Rows)

	mr.FastForward(31 * time.Second)
	third, err := svc.Summary(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
	assert.Empty(t, third.Rows)
}

func TestCache_FailuresAreMisses(t *testing.T) {
	mr, cache := setupTestRedis(t)
	ctx := context.Background()
	p, err := ParsePeriod("dia", "2025-03-10", time.UTC, time.Now())
	require.NoError(t, err)
	key := cacheKey(p, "756")
	assert.Equal(t, "pharmadispatch:report:summary:dia:2025-03-10:756", key)

	require.NoError(t, mr.Set(key, "{not json"))
	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)

	down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = down.Close() })
	unreachable := NewCache(down, time.Second, zap.NewNop())
	unreachable.Set(ctx, key, &Summary{Period: p})
	_, ok = unreachable.Get(ctx, key)
	assert.False(t, ok)

	var disabled *Cache
	_, ok = disabled.Get(ctx, key)
	assert.False(t, ok)
	disabled.Set(ctx, key, &Summary{})
}
