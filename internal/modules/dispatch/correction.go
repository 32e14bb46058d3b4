// README: Two-phase correction workflow (request, supervisor approval) over the audit log.
package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"pharmadispatch/internal/modules/audit"
)

type CorrectionState string

const (
	CorrectionNone      CorrectionState = "NONE"
	CorrectionRequested CorrectionState = "REQUESTED"
	CorrectionApproved  CorrectionState = "APPROVED"
	CorrectionExpired   CorrectionState = "EXPIRED"
)

const minCorrectionReason = 5

// Correction is the latest correction request of a dispatch and where it
// stands.
type Correction struct {
	DispatchID  int64           `json:"despacho_id"`
	State       CorrectionState `json:"estado_correccion"`
	RequestID   int64           `json:"solicitud_id,omitempty"`
	From        Status          `json:"estado_actual,omitempty"`
	Target      Status          `json:"estado_objetivo,omitempty"`
	Reason      string          `json:"motivo,omitempty"`
	RequestedAt *time.Time      `json:"fecha_solicitud,omitempty"`
	RequestedBy *int64          `json:"solicitado_por,omitempty"`
	ApprovedAt  *time.Time      `json:"fecha_aprobacion,omitempty"`
	ApprovedBy  *int64          `json:"aprobado_por,omitempty"`
}

var correctionOps = []audit.Operation{audit.OpCorrectionRequested, audit.OpCorrectionApproved}

// resolveCorrection folds correction entries (newest first) into the
// current state object.
func resolveCorrection(dispatchID int64, entries []audit.Entry, now time.Time, window time.Duration) Correction {
	c := Correction{DispatchID: dispatchID, State: CorrectionNone}
	for i, e := range entries {
		if e.Operation != audit.OpCorrectionRequested {
			continue
		}
		at := e.At
		c.RequestID = e.ID
		c.From = Status(e.Old.String("estado_actual"))
		c.Target = Status(e.New.String("estado_objetivo"))
		c.Reason = e.New.String("motivo")
		c.RequestedAt = &at
		c.RequestedBy = e.UserID
		c.State = CorrectionRequested

		// anything listed before the request is newer than it
		for _, later := range entries[:i] {
			if later.Operation == audit.OpCorrectionApproved {
				approvedAt := later.At
				c.State = CorrectionApproved
				c.ApprovedAt = &approvedAt
				c.ApprovedBy = later.UserID
				break
			}
		}
		if c.State == CorrectionRequested && now.Sub(at) > window {
			c.State = CorrectionExpired
		}
		return c
	}
	return c
}

func correctionFilter(dispatchID int64) audit.Filter {
	return audit.Filter{
		Table:      audit.TableDispatch,
		RecordID:   recordID(dispatchID),
		Operations: correctionOps,
	}
}

// CorrectionStatus reports the latest correction of a dispatch.
func (s *Service) CorrectionStatus(ctx context.Context, dispatchID int64) (*Correction, error) {
	if _, err := s.Get(ctx, dispatchID); err != nil {
		return nil, err
	}
	entries, err := s.store.Audit(ctx, correctionFilter(dispatchID))
	if err != nil {
		return nil, err
	}
	c := resolveCorrection(dispatchID, entries, s.now(), s.correctionWindow)
	return &c, nil
}

type CorrectionRequest struct {
	DispatchID int64
	// Target is optional; when given it must equal the one-step-back state.
	Target  string
	Reason  string
	ActorID *int64
}

// RequestCorrection records a request to walk the dispatch back one step.
// The dispatch itself is not modified.
func (s *Service) RequestCorrection(ctx context.Context, req CorrectionRequest) (*Correction, error) {
	if req.DispatchID <= 0 {
		return nil, ErrBadRequest
	}
	reason := strings.TrimSpace(req.Reason)
	if utf8.RuneCountInString(reason) < minCorrectionReason {
		return nil, &ValidationError{Field: "motivo", Reason: "El motivo debe tener al menos 5 caracteres"}
	}
	var explicit Status
	if strings.TrimSpace(req.Target) != "" {
		t, err := ParseStatus(req.Target)
		if err != nil {
			return nil, err
		}
		explicit = t
	}

	var out Correction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Lock(ctx, req.DispatchID)
		if err != nil {
			return err
		}
		target, ok := PreviousStep(d.Status)
		if !ok {
			return &CorrectionError{Kind: ErrInvalidTransition, Reason: ReasonCorrectionNotPossible}
		}
		if explicit != "" && explicit != target {
			return &CorrectionError{Kind: ErrInvalidTransition, Reason: ReasonOneStepOnly}
		}

		now := s.now()
		e := &audit.Entry{
			Table:     audit.TableDispatch,
			RecordID:  recordID(d.ID),
			Operation: audit.OpCorrectionRequested,
			UserID:    req.ActorID,
			At:        now,
			Old:       audit.Snapshot{"estado_actual": string(d.Status)},
			New:       audit.Snapshot{"estado_objetivo": string(target), "motivo": reason},
		}
		if err := tx.InsertAudit(ctx, e); err != nil {
			return err
		}
		out = Correction{
			DispatchID:  d.ID,
			State:       CorrectionRequested,
			From:        d.Status,
			Target:      target,
			Reason:      reason,
			RequestedAt: timePtr(now),
			RequestedBy: req.ActorID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("correction requested",
		zap.Int64("dispatch_id", out.DispatchID),
		zap.String("from", string(out.From)),
		zap.String("to", string(out.Target)),
	)
	return &out, nil
}

type CorrectionApproval struct {
	DispatchID int64
	ActorID    *int64
}

// ApproveCorrection applies the pending correction if the dispatch is still
// in the state the request was made from. It bypasses the transition table.
func (s *Service) ApproveCorrection(ctx context.Context, req CorrectionApproval) (*Dispatch, error) {
	if req.DispatchID <= 0 {
		return nil, ErrBadRequest
	}
	var (
		out *Dispatch
		c   Correction
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Lock(ctx, req.DispatchID)
		if err != nil {
			return err
		}
		now := s.now()
		entries, err := tx.Audit(ctx, correctionFilter(d.ID))
		if err != nil {
			return err
		}
		c = resolveCorrection(d.ID, entries, now, s.correctionWindow)
		if c.State != CorrectionRequested {
			return &CorrectionError{Kind: ErrStaleCorrection, Reason: ReasonNoPendingCorrection}
		}
		if d.Status != c.From {
			return &CorrectionError{Kind: ErrStaleCorrection, Reason: ReasonCorrectionStateMismatch}
		}
		if prev, ok := PreviousStep(c.From); !ok || prev != c.Target {
			return &CorrectionError{Kind: ErrStaleCorrection, Reason: ReasonCorrectionStateMismatch}
		}

		// keeps the movement trail in step with estado
		mv := Movement{
			DispatchID: d.ID,
			From:       d.Status,
			To:         c.Target,
			At:         now,
			UserID:     req.ActorID,
			Note:       "corrección aprobada: " + c.Reason,
		}
		if err := tx.InsertMovement(ctx, &mv); err != nil {
			return err
		}

		d.Status = c.Target
		d.touch(req.ActorID, now)
		if err := tx.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return tx.InsertAudit(ctx, &audit.Entry{
			Table:     audit.TableDispatch,
			RecordID:  recordID(d.ID),
			Operation: audit.OpCorrectionApproved,
			UserID:    req.ActorID,
			At:        now,
			Old:       audit.Snapshot{"estado": string(c.From)},
			New: audit.Snapshot{
				"estado":       string(c.Target),
				"motivo":       c.Reason,
				"solicitud_id": strconv.FormatInt(c.RequestID, 10),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("correction approved",
		zap.Int64("dispatch_id", out.ID),
		zap.String("from", string(c.From)),
		zap.String("to", string(c.Target)),
		zap.Int64p("supervisor", req.ActorID),
	)
	return out, nil
}
