// README: Correction request/approval tests, including the lookback window.
package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmadispatch/internal/modules/audit"
)

func preparedDispatch(t *testing.T, env *testEnv) *Dispatch {
	t.Helper()
	d := mustCreate(t, env.svc, homeDelivery())
	moveThrough(t, env.svc, d.ID, StatusAssigned, StatusPreparing, StatusPrepared)
	return d
}

func TestCorrection_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := preparedDispatch(t, env)
	operator, supervisor := int64(11), int64(99)

	c, err := env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Reason: "marcado por error", ActorID: &operator})
	require.NoError(t, err)
	assert.Equal(t, CorrectionRequested, c.State)
	assert.Equal(t, StatusPrepared, c.From)
	assert.Equal(t, StatusPreparing, c.Target)
	assertStatus(t, env.svc, d.ID, StatusPrepared)

	env.clock.Advance(10 * time.Minute)
	got, err := env.svc.ApproveCorrection(ctx, CorrectionApproval{DispatchID: d.ID, ActorID: &supervisor})
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, got.Status)
	assert.Equal(t, &supervisor, got.ModifiedBy)
	assertTrailConsistent(t, env.store, d.ID)

	status, err := env.svc.CorrectionStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, CorrectionApproved, status.State)
	assert.Equal(t, &supervisor, status.ApprovedBy)

	ops := auditOps(t, env.store, d.ID)
	assert.Equal(t, audit.OpCorrectionRequested, ops[len(ops)-2])
	assert.Equal(t, audit.OpCorrectionApproved, ops[len(ops)-1])

	_, err = env.svc.ApproveCorrection(ctx, CorrectionApproval{DispatchID: d.ID, ActorID: &supervisor})
	assert.ErrorIs(t, err, ErrStaleCorrection)
	assert.Equal(t, ReasonNoPendingCorrection, Reason(err))

	// the normal flow continues from the corrected state
	mustMove(t, env.svc, d.ID, StatusPrepared)
}

func TestCorrection_StaleAfterMovement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := preparedDispatch(t, env)

	_, err := env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Reason: "se adelantó el estado"})
	require.NoError(t, err)
	mustMove(t, env.svc, d.ID, StatusInTransit)

	_, err = env.svc.ApproveCorrection(ctx, CorrectionApproval{DispatchID: d.ID})
	assert.ErrorIs(t, err, ErrStaleCorrection)
	assert.Equal(t, ReasonCorrectionStateMismatch, Reason(err))
	assertStatus(t, env.svc, d.ID, StatusInTransit)
	assertTrailConsistent(t, env.store, d.ID)
}

func TestCorrection_Expires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := preparedDispatch(t, env)

	_, err := env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Reason: "estado equivocado"})
	require.NoError(t, err)

	env.clock.Advance(12 * time.Hour)
	status, err := env.svc.CorrectionStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, CorrectionRequested, status.State, "the window is inclusive")

	env.clock.Advance(time.Minute)
	status, err = env.svc.CorrectionStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, CorrectionExpired, status.State)

	_, err = env.svc.ApproveCorrection(ctx, CorrectionApproval{DispatchID: d.ID})
	assert.ErrorIs(t, err, ErrStaleCorrection)
	assert.Equal(t, ReasonNoPendingCorrection, Reason(err))
	assertStatus(t, env.svc, d.ID, StatusPrepared)
}

func TestCorrection_RequestRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := mustCreate(t, env.svc, homeDelivery())
	_, err := env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: pending.ID, Reason: "no corresponde"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ReasonCorrectionNotPossible, Reason(err))

	voided := mustCreate(t, env.svc, homeDelivery())
	mustMove(t, env.svc, voided.ID, StatusVoided)
	_, err = env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: voided.ID, Reason: "no corresponde"})
	assert.Equal(t, ReasonCorrectionNotPossible, Reason(err))

	d := preparedDispatch(t, env)
	_, err = env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Reason: "abc"})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Target: "ASIGNADO", Reason: "dos pasos atrás"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ReasonOneStepOnly, Reason(err))

	c, err := env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Target: "preparando", Reason: "un paso atrás"})
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, c.Target)

	_, err = env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: 5555, Reason: "no existe"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorrection_ApproveWithoutRequest(t *testing.T) {
	env := newTestEnv(t)
	d := preparedDispatch(t, env)

	_, err := env.svc.ApproveCorrection(context.Background(), CorrectionApproval{DispatchID: d.ID})
	assert.ErrorIs(t, err, ErrStaleCorrection)
	assert.Equal(t, ReasonNoPendingCorrection, Reason(err))

	status, err := env.svc.CorrectionStatus(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, CorrectionNone, status.State)
}

func TestCorrection_LatestRequestWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := preparedDispatch(t, env)

	_, err := env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Reason: "primer intento"})
	require.NoError(t, err)
	_, err = env.svc.ApproveCorrection(ctx, CorrectionApproval{DispatchID: d.ID})
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	c, err := env.svc.RequestCorrection(ctx, CorrectionRequest{DispatchID: d.ID, Reason: "segundo intento"})
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, c.From)
	assert.Equal(t, StatusAssigned, c.Target)

	status, err := env.svc.CorrectionStatus(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, CorrectionRequested, status.State)
	assert.Equal(t, "segundo intento", status.Reason)
}
