// README: Period parsing tests.
package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC) // still March 9 in Santiago

	cases := []struct {
		kind, value string
		label       string
		start, end  time.Time
	}{
		{"dia", "", "2025-03-09", time.Date(2025, 3, 9, 0, 0, 0, 0, loc), time.Date(2025, 3, 10, 0, 0, 0, 0, loc)},
		{"day", "2025-02-28", "2025-02-28", time.Date(2025, 2, 28, 0, 0, 0, 0, loc), time.Date(2025, 3, 1, 0, 0, 0, 0, loc)},
		{"mes", "2025-02", "2025-02", time.Date(2025, 2, 1, 0, 0, 0, 0, loc), time.Date(2025, 3, 1, 0, 0, 0, 0, loc)},
		{"MES", "", "2025-03", time.Date(2025, 3, 1, 0, 0, 0, 0, loc), time.Date(2025, 4, 1, 0, 0, 0, 0, loc)},
		{"anio", "2024", "2024", time.Date(2024, 1, 1, 0, 0, 0, 0, loc), time.Date(2025, 1, 1, 0, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		p, err := ParsePeriod(tc.kind, tc.value, loc, now)
		require.NoError(t, err, tc.kind)
		assert.Equal(t, tc.label, p.Label)
		assert.True(t, p.Start.Equal(tc.start), "%s start %s", tc.kind, p.Start)
		assert.True(t, p.End.Equal(tc.end), "%s end %s", tc.kind, p.End)
	}

	_, err = ParsePeriod("semana", "", loc, now)
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = ParsePeriod("mes", "2025-13", loc, now)
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = ParsePeriod("dia", "10/03/2025", loc, now)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPeriodDays(t *testing.T) {
	p, err := ParsePeriod("mes", "2024-12", time.UTC, time.Now())
	require.NoError(t, err)
	from, to := p.Days()
	assert.Equal(t, "2024-12-01", from)
	assert.Equal(t, "2025-01-01", to)
}
