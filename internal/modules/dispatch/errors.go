// README: Error kinds surfaced by the dispatch core.
package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrStaleCorrection     = errors.New("stale correction")
	ErrCustodyPrecondition = errors.New("custody precondition failed")
	ErrNotFound            = errors.New("dispatch not found")
	ErrContention          = errors.New("dispatch is being modified concurrently")
	ErrPersistence         = errors.New("persistence failure")
	ErrBadRequest          = errors.New("bad request")
	ErrDuplicateCode       = errors.New("codigo_despacho already exists")
)

// User-facing reasons.
const (
	ReasonNotPermitted            = "Transición de estado no permitida"
	ReasonPrescriptionNotReturned = "Receta retenida requiere devolución antes de PREPARADO"
	ReasonReturnNotInProcess      = "Solo puedes marcar devolución cuando el despacho está EN PROCESO"
	ReasonReturnNotApplicable     = "La devolución aplica solo para receta retenida con devolución requerida"
	ReasonEditNotInProcess        = "Solo puedes editar la receta cuando el despacho está EN PROCESO"
	ReasonCustodyLocked           = "La receta ya fue devuelta; no se puede desactivar su custodia"
	ReasonCorrectionNotPossible   = "No es posible solicitar corrección desde este estado"
	ReasonOneStepOnly             = "Solo se permite volver un paso atrás"
	ReasonNoPendingCorrection     = "No hay correcciones pendientes"
	ReasonCorrectionStateMismatch = "El estado actual no coincide con la solicitud de corrección"
)

type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s (%s -> %s)", e.Reason, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type CustodyError struct {
	Reason string
}

func (e *CustodyError) Error() string { return e.Reason }

func (e *CustodyError) Unwrap() error { return ErrCustodyPrecondition }

// CorrectionError is raised by either correction phase. Kind is
// ErrInvalidTransition for request rejections and ErrStaleCorrection for
// approval rejections.
type CorrectionError struct {
	Kind   error
	Reason string
}

func (e *CorrectionError) Error() string { return e.Reason }

func (e *CorrectionError) Unwrap() error { return e.Kind }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrBadRequest }

// Reason extracts the user-facing message of a domain error, or "".
func Reason(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Reason
	}
	var ce *CustodyError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	var cre *CorrectionError
	if errors.As(err, &cre) {
		return cre.Reason
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrStaleCorrection) ||
		errors.Is(err, ErrCustodyPrecondition) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrDuplicateCode)
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrPersistence, err)
}
