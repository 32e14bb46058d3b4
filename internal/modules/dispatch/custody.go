// README: Prescription custody; return of retained prescriptions and edits of custody fields.
package dispatch

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"pharmadispatch/internal/modules/audit"
)

type MarkReturnedCommand struct {
	DispatchID int64
	ReceivedBy string
	Notes      string
	ActorID    *int64
}

// MarkPrescriptionReturned records that the retained prescription is back
// at the pharmacy. Only allowed while the dispatch is in preparation.
func (s *Service) MarkPrescriptionReturned(ctx context.Context, cmd MarkReturnedCommand) (*Dispatch, error) {
	if cmd.DispatchID <= 0 {
		return nil, ErrBadRequest
	}
	var out *Dispatch
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Lock(ctx, cmd.DispatchID)
		if err != nil {
			return err
		}
		if !InPreparation(d.Status) {
			return &CustodyError{Reason: ReasonReturnNotInProcess}
		}
		if !(d.HasRetainedPrescription && d.RequiresReturn) {
			return &CustodyError{Reason: ReasonReturnNotApplicable}
		}

		now := s.now()
		before := custodySnapshot(d)
		d.ReturnedToPharmacy = true
		d.ReturnedAt = timePtr(now)
		if v := strings.TrimSpace(cmd.ReceivedBy); v != "" {
			d.ReturnReceivedBy = v
		}
		if v := strings.TrimSpace(cmd.Notes); v != "" {
			d.PrescriptionNotes = v
		}
		d.touch(cmd.ActorID, now)
		if err := tx.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return tx.InsertAudit(ctx, &audit.Entry{
			Table:     audit.TableDispatch,
			RecordID:  recordID(d.ID),
			Operation: audit.OpUpdate,
			UserID:    cmd.ActorID,
			At:        now,
			Old:       before,
			New:       custodySnapshot(d),
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("prescription returned",
		zap.Int64("dispatch_id", out.ID),
		zap.String("recibe", out.ReturnReceivedBy),
	)
	return out, nil
}

type UpdatePrescriptionCommand struct {
	DispatchID              int64
	HasRetainedPrescription bool
	PrescriptionNumber      string
	RequiresReturn          bool
	ActorID                 *int64
}

// UpdatePrescription edits the custody fields. Retained always implies
// requires-return, and custody cannot be switched off after the return.
func (s *Service) UpdatePrescription(ctx context.Context, cmd UpdatePrescriptionCommand) (*Dispatch, error) {
	if cmd.DispatchID <= 0 {
		return nil, ErrBadRequest
	}
	var out *Dispatch
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Lock(ctx, cmd.DispatchID)
		if err != nil {
			return err
		}
		if !InPreparation(d.Status) {
			return &CustodyError{Reason: ReasonEditNotInProcess}
		}

		before := custodySnapshot(d)
		d.HasRetainedPrescription = cmd.HasRetainedPrescription
		d.RequiresReturn = cmd.RequiresReturn
		d.PrescriptionNumber = strings.TrimSpace(cmd.PrescriptionNumber)
		d.applyPrescriptionDefaults()
		if err := d.checkCustodyInvariant(); err != nil {
			return err
		}

		now := s.now()
		d.touch(cmd.ActorID, now)
		if err := tx.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return tx.InsertAudit(ctx, &audit.Entry{
			Table:     audit.TableDispatch,
			RecordID:  recordID(d.ID),
			Operation: audit.OpUpdate,
			UserID:    cmd.ActorID,
			At:        now,
			Old:       before,
			New:       custodySnapshot(d),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type IncidentCommand struct {
	DispatchID  int64
	Type        string
	Description string
	ActorID     *int64
}

// ReportIncident flags an incident on a dispatch that has not been voided.
func (s *Service) ReportIncident(ctx context.Context, cmd IncidentCommand) (*Dispatch, error) {
	if cmd.DispatchID <= 0 {
		return nil, ErrBadRequest
	}
	typ := strings.ToUpper(strings.TrimSpace(cmd.Type))
	if typ == "" {
		return nil, &ValidationError{Field: "tipo_incidencia", Reason: "Tipo de incidencia requerido"}
	}
	var out *Dispatch
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.Lock(ctx, cmd.DispatchID)
		if err != nil {
			return err
		}
		if d.Status == StatusVoided {
			return &ValidationError{Field: "estado", Reason: "El despacho está anulado"}
		}
		now := s.now()
		old := audit.Snapshot{
			"hubo_incidencia": d.HadIncident,
			"tipo_incidencia": d.IncidentType,
		}
		d.HadIncident = true
		d.IncidentType = typ
		d.IncidentDescription = strings.TrimSpace(cmd.Description)
		d.touch(cmd.ActorID, now)
		if err := tx.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return tx.InsertAudit(ctx, &audit.Entry{
			Table:     audit.TableDispatch,
			RecordID:  recordID(d.ID),
			Operation: audit.OpUpdate,
			UserID:    cmd.ActorID,
			At:        now,
			Old:       old,
			New: audit.Snapshot{
				"hubo_incidencia":        true,
				"tipo_incidencia":        typ,
				"descripcion_incidencia": d.IncidentDescription,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("incident reported", zap.Int64("dispatch_id", out.ID), zap.String("tipo", typ))
	return out, nil
}

func custodySnapshot(d *Dispatch) audit.Snapshot {
	return audit.Snapshot{
		"tiene_receta_retenida":      d.HasRetainedPrescription,
		"numero_receta":              d.PrescriptionNumber,
		"requiere_devolucion_receta": d.RequiresReturn,
		"receta_devuelta_farmacia":   d.ReturnedToPharmacy,
		"quien_recibe_receta":        d.ReturnReceivedBy,
	}
}
