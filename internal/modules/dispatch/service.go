// README: Dispatch service; creation, reads and the shared wiring for the lifecycle operations.
package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/modules/fleet"
	"pharmadispatch/internal/types"
)

// Geocoder resolves a street address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*types.Point, error)
}

type Options struct {
	CorrectionWindow time.Duration
	// Location is used for code years and pharmacy opening hours.
	Location *time.Location
	Geocoder Geocoder
}

type Service struct {
	store            Store
	fleet            *fleet.Service
	geocoder         Geocoder
	logger           *zap.Logger
	loc              *time.Location
	correctionWindow time.Duration
	now              func() time.Time
}

func NewService(store Store, fleetSvc *fleet.Service, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CorrectionWindow <= 0 {
		opts.CorrectionWindow = 12 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		store:            store,
		fleet:            fleetSvc,
		geocoder:         opts.Geocoder,
		logger:           logger,
		loc:              opts.Location,
		correctionWindow: opts.CorrectionWindow,
		now:              time.Now,
	}
}

var phonePattern = regexp.MustCompile(`^[0-9+\- ]{7,15}$`)

type CreateCommand struct {
	Code                    string
	OrderNumber             string
	OriginPharmacyID        string
	DestinationPharmacyID   string
	RiderID                 int64
	Type                    string
	Priority                string
	CustomerName            string
	CustomerPhone           string
	Address                 string
	AddressReference        string
	Lat                     *float64
	Lng                     *float64
	HasRetainedPrescription bool
	PrescriptionNumber      string
	RequiresReturn          bool
	ProductDescription      string
	DeclaredValue           *decimal.Decimal
	RequiresApproval        bool
	ActorID                 *int64
}

// build validates the command and returns the dispatch it describes,
// without touching reference data.
func (cmd CreateCommand) build() (*Dispatch, error) {
	d := &Dispatch{
		Code:               NormalizeCode(cmd.Code),
		OrderNumber:        strings.TrimSpace(cmd.OrderNumber),
		OriginPharmacyID:   strings.TrimSpace(cmd.OriginPharmacyID),
		RiderID:            cmd.RiderID,
		Status:             StatusPending,
		CustomerName:       strings.TrimSpace(cmd.CustomerName),
		CustomerPhone:      strings.TrimSpace(cmd.CustomerPhone),
		Address:            strings.TrimSpace(cmd.Address),
		AddressReference:   strings.TrimSpace(cmd.AddressReference),
		PrescriptionNumber: strings.TrimSpace(cmd.PrescriptionNumber),
		ProductDescription: strings.TrimSpace(cmd.ProductDescription),
		RequiresApproval:   cmd.RequiresApproval,

		HasRetainedPrescription: cmd.HasRetainedPrescription,
		RequiresReturn:          cmd.RequiresReturn,
	}
	if d.Code != "" && !ValidCode(d.Code) {
		return nil, &ValidationError{Field: "codigo_despacho", Reason: "Formato inválido (DSP-YYYY-NNNNNN)"}
	}
	if d.OriginPharmacyID == "" {
		return nil, &ValidationError{Field: "farmacia_origen_local_id", Reason: "Farmacia de origen requerida"}
	}
	if d.RiderID <= 0 {
		return nil, &ValidationError{Field: "motorista_id", Reason: "Motorista requerido"}
	}
	if d.CustomerName == "" || d.Address == "" {
		return nil, &ValidationError{Field: "cliente_nombre", Reason: "Cliente y dirección de destino son requeridos"}
	}
	if d.CustomerPhone != "" && !phonePattern.MatchString(d.CustomerPhone) {
		return nil, &ValidationError{Field: "cliente_telefono", Reason: "Teléfono inválido"}
	}

	typ, err := ParseType(cmd.Type)
	if err != nil {
		return nil, err
	}
	d.Type = typ
	if d.Priority, err = ParsePriority(cmd.Priority); err != nil {
		return nil, err
	}

	if dest := strings.TrimSpace(cmd.DestinationPharmacyID); dest != "" {
		d.DestinationPharmacyID = &dest
	}
	if d.Type == TypeBranchExchange {
		if d.DestinationPharmacyID == nil || *d.DestinationPharmacyID == d.OriginPharmacyID {
			return nil, &ValidationError{Field: "farmacia_destino_local_id", Reason: "Intercambio requiere una farmacia de destino distinta"}
		}
	}

	point, err := types.PointFromPair(cmd.Lat, cmd.Lng)
	if err != nil {
		return nil, &ValidationError{Field: "destino_coordenadas", Reason: err.Error()}
	}
	if point != nil {
		d.Destination = point
		d.CoordinatesValidated = true
	}

	if cmd.DeclaredValue != nil {
		if cmd.DeclaredValue.IsNegative() {
			return nil, &ValidationError{Field: "valor_declarado", Reason: "Debe ser mayor o igual a 0"}
		}
		m := types.CLP(*cmd.DeclaredValue)
		d.DeclaredValue = &m
	}

	d.applyPrescriptionDefaults()
	return d, nil
}

// Create registers a new dispatch in PENDIENTE.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Dispatch, error) {
	d, err := cmd.build()
	if err != nil {
		return nil, err
	}
	now := s.now()

	origin, err := s.fleet.RequireActivePharmacy(ctx, d.OriginPharmacyID)
	if err != nil {
		return nil, referenceError("farmacia_origen_local_id", err)
	}
	if d.DestinationPharmacyID != nil {
		if _, err := s.fleet.Pharmacy(ctx, *d.DestinationPharmacyID); err != nil {
			return nil, referenceError("farmacia_destino_local_id", err)
		}
	}
	if _, err := s.fleet.RequireAssignableRider(ctx, d.RiderID, now.In(s.loc)); err != nil {
		return nil, referenceError("motorista_id", err)
	}
	if !origin.OpenAt(now.In(s.loc)) {
		s.logger.Warn("dispatch registered outside pharmacy hours",
			zap.String("farmacia", origin.LocalID))
	}

	if d.Destination == nil && s.geocoder != nil {
		p, err := s.geocoder.Geocode(ctx, d.Address)
		if err != nil {
			s.logger.Warn("geocoding failed", zap.String("direccion", d.Address), zap.Error(err))
		} else if p != nil {
			d.Destination = p
			d.CoordinatesValidated = true
		}
	}

	d.RegisteredAt = now
	d.RegisteredBy = cmd.ActorID
	d.touch(cmd.ActorID, now)

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if d.Code == "" {
			seq, err := tx.NextCodeSequence(ctx)
			if err != nil {
				return err
			}
			if d.Code, err = FormatCode(now.In(s.loc).Year(), seq); err != nil {
				return persistenceError("generate code", err)
			}
		}
		if err := tx.Insert(ctx, d); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, &audit.Entry{
			Table:     audit.TableDispatch,
			RecordID:  recordID(d.ID),
			Operation: audit.OpInsert,
			UserID:    cmd.ActorID,
			At:        now,
			New: audit.Snapshot{
				"codigo_despacho": d.Code,
				"estado":          string(d.Status),
				"tipo_despacho":   string(d.Type),
				"prioridad":       string(d.Priority),
				"farmacia_origen": d.OriginPharmacyID,
				"motorista_id":    d.RiderID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("dispatch created",
		zap.Int64("dispatch_id", d.ID),
		zap.String("codigo", d.Code),
		zap.String("tipo", string(d.Type)),
	)
	return d, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Dispatch, error) {
	if id <= 0 {
		return nil, ErrBadRequest
	}
	return s.store.Get(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Dispatch, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, &ValidationError{Field: "codigo_despacho", Reason: "Formato inválido (DSP-YYYY-NNNNNN)"}
	}
	return s.store.GetByCode(ctx, code)
}

func (s *Service) Movements(ctx context.Context, id int64) ([]Movement, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Movements(ctx, id)
}

// referenceError maps fleet lookups onto dispatch error kinds.
func referenceError(field string, err error) error {
	switch err {
	case fleet.ErrNotFound:
		return fmt.Errorf("%s: %w", field, ErrNotFound)
	case fleet.ErrPharmacyInactive:
		return &ValidationError{Field: field, Reason: "Farmacia inactiva"}
	case fleet.ErrRiderInactive:
		return &ValidationError{Field: field, Reason: "Motorista inactivo"}
	case fleet.ErrLicenseExpired:
		return &ValidationError{Field: field, Reason: "Licencia vencida"}
	}
	return err
}

func recordID(id int64) string {
	return strconv.FormatInt(id, 10)
}
