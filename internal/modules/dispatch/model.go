// README: Dispatch aggregate, movement events and the enums they use.
package dispatch

import (
	"strings"
	"time"

	"pharmadispatch/internal/types"
)

type Status string

const (
	StatusPending   Status = "PENDIENTE"
	StatusAssigned  Status = "ASIGNADO"
	StatusPreparing Status = "PREPARANDO"
	StatusPrepared  Status = "PREPARADO"
	StatusInTransit Status = "EN_CAMINO"
	StatusDelivered Status = "ENTREGADO"
	StatusFailed    Status = "FALLIDO"
	StatusVoided    Status = "ANULADO"

	// statusInProcess only exists on rows imported from the legacy system.
	// It has no transitions but counts as an in-preparation state.
	statusInProcess Status = "EN_PROCESO"
)

// AllStatuses lists the requestable states in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusAssigned, StatusPreparing, StatusPrepared,
	StatusInTransit, StatusDelivered, StatusFailed, StatusVoided,
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusVoided
}

// ParseStatus normalizes operator input ("en camino" -> EN_CAMINO).
func ParseStatus(raw string) (Status, error) {
	s := Status(normalizeEnum(raw))
	for _, known := range AllStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", &ValidationError{Field: "estado", Reason: "Estado desconocido: " + strings.TrimSpace(raw)}
}

type Type string

const (
	TypeHomeDelivery       Type = "DOMICILIO"
	TypePrescriptionResend Type = "REENVIO_RECETA"
	TypeBranchExchange     Type = "INTERCAMBIO_FARMACIAS"
	TypeDispatchError      Type = "ERROR_DESPACHO"
)

var AllTypes = []Type{TypeHomeDelivery, TypePrescriptionResend, TypeBranchExchange, TypeDispatchError}

func ParseType(raw string) (Type, error) {
	t := Type(normalizeEnum(raw))
	if t == "INTERCAMBIO" {
		return TypeBranchExchange, nil
	}
	for _, known := range AllTypes {
		if t == known {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "tipo_despacho", Reason: "Tipo de despacho desconocido"}
}

type Priority string

const (
	PriorityHigh   Priority = "ALTA"
	PriorityMedium Priority = "MEDIA"
	PriorityLow    Priority = "BAJA"
)

func ParsePriority(raw string) (Priority, error) {
	p := Priority(normalizeEnum(raw))
	switch p {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", &ValidationError{Field: "prioridad", Reason: "Prioridad debe ser ALTA, MEDIA o BAJA"}
}

// Rank orders priorities for listings, highest first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

func normalizeEnum(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(s), "_")
}

type Dispatch struct {
	ID                    int64    `json:"id"`
	Code                  string   `json:"codigo_despacho"`
	OrderNumber           string   `json:"numero_orden_farmacia,omitempty"`
	OriginPharmacyID      string   `json:"farmacia_origen_local_id"`
	DestinationPharmacyID *string  `json:"farmacia_destino_local_id,omitempty"`
	RiderID               int64    `json:"motorista_id"`
	Status                Status   `json:"estado"`
	Type                  Type     `json:"tipo_despacho"`
	Priority              Priority `json:"prioridad"`

	CustomerName         string       `json:"cliente_nombre"`
	CustomerPhone        string       `json:"cliente_telefono,omitempty"`
	Address              string       `json:"destino_direccion"`
	AddressReference     string       `json:"destino_referencia,omitempty"`
	Destination          *types.Point `json:"destino_coordenadas,omitempty"`
	CoordinatesValidated bool         `json:"coordenadas_validadas"`

	HasRetainedPrescription bool       `json:"tiene_receta_retenida"`
	PrescriptionNumber      string     `json:"numero_receta,omitempty"`
	RequiresReturn          bool       `json:"requiere_devolucion_receta"`
	ReturnedToPharmacy      bool       `json:"receta_devuelta_farmacia"`
	ReturnedAt              *time.Time `json:"fecha_devolucion_receta,omitempty"`
	ReturnReceivedBy        string     `json:"quien_recibe_receta,omitempty"`
	PrescriptionNotes       string     `json:"observaciones_receta,omitempty"`

	ProductDescription string       `json:"descripcion_productos,omitempty"`
	DeclaredValue      *types.Money `json:"valor_declarado,omitempty"`
	RequiresApproval   bool         `json:"requiere_aprobacion_operadora"`
	ApprovedByOperator bool         `json:"aprobado_por_operadora"`

	HadIncident         bool   `json:"hubo_incidencia"`
	IncidentType        string `json:"tipo_incidencia,omitempty"`
	IncidentDescription string `json:"descripcion_incidencia,omitempty"`
	AnnulmentReason     string `json:"motivo_anulacion,omitempty"`

	RegisteredBy   *int64     `json:"usuario_registro_id,omitempty"`
	ModifiedBy     *int64     `json:"usuario_modificacion_id,omitempty"`
	RegisteredAt   time.Time  `json:"fecha_registro"`
	ModifiedAt     time.Time  `json:"fecha_modificacion"`
	AssignedAt     *time.Time `json:"fecha_asignacion,omitempty"`
	LeftPharmacyAt *time.Time `json:"fecha_salida_farmacia,omitempty"`
	ArrivedAt      *time.Time `json:"fecha_llegada_destino,omitempty"`
	CompletedAt    *time.Time `json:"fecha_completado,omitempty"`
	AnnulledAt     *time.Time `json:"fecha_anulacion,omitempty"`
	TotalMinutes   *int       `json:"tiempo_total_minutos,omitempty"`

	Version int `json:"version"`
}

// checkCustodyInvariant: a returned prescription implies retained and
// requiring return.
func (d *Dispatch) checkCustodyInvariant() error {
	if d.ReturnedToPharmacy && !(d.HasRetainedPrescription && d.RequiresReturn) {
		return &CustodyError{Reason: ReasonCustodyLocked}
	}
	return nil
}

// applyPrescriptionDefaults derives the custody flags: a resend always
// carries a retained prescription, and a retained one must be returned.
func (d *Dispatch) applyPrescriptionDefaults() {
	if d.Type == TypePrescriptionResend {
		d.HasRetainedPrescription = true
	}
	if d.HasRetainedPrescription {
		d.RequiresReturn = true
	}
}

func (d *Dispatch) touch(actor *int64, at time.Time) {
	d.ModifiedAt = at
	d.ModifiedBy = actor
}

type Movement struct {
	ID            int64        `json:"id"`
	DispatchID    int64        `json:"despacho_id"`
	From          Status       `json:"estado_anterior"`
	To            Status       `json:"estado_nuevo"`
	At            time.Time    `json:"fecha_movimiento"`
	UserID        *int64       `json:"usuario_id,omitempty"`
	RiderPosition *types.Point `json:"motorista_coordenadas,omitempty"`
	Note          string       `json:"observacion,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	return &t
}
