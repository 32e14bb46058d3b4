// README: Movement recorder; the only writer of dispatch state outside creation and corrections.
package dispatch

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/types"
)

type MovementCommand struct {
	DispatchID int64
	State      string
	ActorID    *int64
	Note       string
	// Method and Kind describe how the change was reported (radio, app...).
	Method   string
	Kind     string
	RiderLat *float64
	RiderLng *float64
}

func (cmd MovementCommand) observation() string {
	note := strings.TrimSpace(cmd.Note)
	method := strings.ToLower(strings.TrimSpace(cmd.Method))
	kind := strings.ToUpper(strings.TrimSpace(cmd.Kind))
	if method == "" && kind == "" {
		return note
	}
	return "modo=" + method + "; tipo=" + kind + "; " + note
}

// RecordMovement validates and applies one state change. The movement row,
// the dispatch update and the audit row are written in one transaction.
func (s *Service) RecordMovement(ctx context.Context, cmd MovementCommand) (*Movement, error) {
	if cmd.DispatchID <= 0 {
		return nil, ErrBadRequest
	}
	to, err := ParseStatus(cmd.State)
	if err != nil {
		return nil, err
	}
	pos, err := types.PointFromPair(cmd.RiderLat, cmd.RiderLng)
	if err != nil {
		return nil, &ValidationError{Field: "motorista_coordenadas", Reason: err.Error()}
	}
	note := cmd.observation()

	var mv Movement
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Lock(ctx, cmd.DispatchID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(d.Status, to, d.Type, d.HasRetainedPrescription, d.ReturnedToPharmacy); err != nil {
			return err
		}

		now := s.now()
		from := d.Status
		mv = Movement{
			DispatchID:    d.ID,
			From:          from,
			To:            to,
			At:            now,
			UserID:        cmd.ActorID,
			RiderPosition: pos,
			Note:          note,
		}
		if err := tx.InsertMovement(ctx, &mv); err != nil {
			return err
		}

		d.Status = to
		applyLifecycle(d, to, now, note)
		d.touch(cmd.ActorID, now)
		if err := tx.Update(ctx, d); err != nil {
			return err
		}

		return tx.InsertAudit(ctx, &audit.Entry{
			Table:     audit.TableDispatch,
			RecordID:  recordID(d.ID),
			Operation: audit.OpMovement,
			UserID:    cmd.ActorID,
			At:        now,
			Old:       audit.Snapshot{"estado": string(from)},
			New:       audit.Snapshot{"estado": string(to), "mensaje": note},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("movement recorded",
		zap.Int64("dispatch_id", mv.DispatchID),
		zap.String("from", string(mv.From)),
		zap.String("to", string(mv.To)),
		zap.Int64p("actor", cmd.ActorID),
	)
	return &mv, nil
}

// applyLifecycle stamps the timestamp that belongs to the new state.
func applyLifecycle(d *Dispatch, to Status, now time.Time, note string) {
	switch to {
	case StatusAssigned:
		d.AssignedAt = timePtr(now)
	case StatusInTransit:
		d.LeftPharmacyAt = timePtr(now)
	case StatusDelivered:
		if d.ArrivedAt == nil {
			d.ArrivedAt = timePtr(now)
		}
		d.CompletedAt = timePtr(now)
		minutes := int(now.Sub(d.RegisteredAt) / time.Minute)
		d.TotalMinutes = &minutes
	case StatusFailed:
		d.CompletedAt = timePtr(now)
	case StatusVoided:
		d.AnnulledAt = timePtr(now)
		d.AnnulmentReason = note
	}
}
