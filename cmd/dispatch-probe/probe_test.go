// README: Probe runner tests against an in-memory API server.
package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "pharmadispatch/internal/http"
	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/modules/dispatch"
	"pharmadispatch/internal/modules/fleet"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fleetStore := fleet.NewMemoryStore()
	fleetStore.PutPharmacy(fleet.Pharmacy{LocalID: "756", Name: "Farmacia Providencia", Active: true})
	fleetStore.PutRider(fleet.Rider{
		ID: 1, FirstName: "Ana", LastName: "Rojas",
		LicenseExpiresOn: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC), Active: true,
	})
	fleetSvc := fleet.NewService(fleetStore)
	auditLog := audit.NewMemoryStore()
	store := dispatch.NewMemoryStore(auditLog, 2*time.Second)
	srv := httptransport.NewServer(httptransport.ServerDeps{
		Dispatch: dispatch.NewService(store, fleetSvc, dispatch.Options{}, zap.NewNop()),
		Audit:    audit.NewService(auditLog, zap.NewNop()),
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestProbe_SingleWinner(t *testing.T) {
	ts := newTestAPI(t)
	p := NewProbe(Config{BaseURL: ts.URL, State: "ASIGNADO", Concurrency: 12, ActorID: 9, PharmacyID: "756", RiderID: 1})
	ctx := context.Background()

	id, code, err := p.CreateDispatch(ctx)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.NotEmpty(t, code)
	p.cfg.DispatchID = id

	rep := p.Run(ctx)
	assert.Equal(t, 1, rep.Successes())
	assert.Equal(t, 11, rep.ByStatus[http.StatusConflict])
	assert.True(t, rep.OK())
	assert.Empty(t, rep.Errors)
}

func TestReport_FailsOnDoubleSuccess(t *testing.T) {
	rep := Report{ByStatus: map[int]int{200: 1, 201: 1, 409: 3, 0: 1}, Errors: []string{"connection refused"}}
	assert.Equal(t, 2, rep.Successes())
	assert.False(t, rep.OK())
	lines := rep.Lines()
	require.Len(t, lines, 6)
	assert.Equal(t, "error  1", lines[0])
	assert.Contains(t, lines[4], "FAIL success=2")
}

func TestCreateDispatch_SurfacesRejection(t *testing.T) {
	ts := newTestAPI(t)
	p := NewProbe(Config{BaseURL: ts.URL, ActorID: 9, PharmacyID: "999", RiderID: 1})
	_, _, err := p.CreateDispatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
