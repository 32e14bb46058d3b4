// README: Audit log entries; the generic immutable change log shared by every table.
package audit

import (
	"fmt"
	"strings"
	"time"
)

type Operation string

const (
	OpInsert              Operation = "INSERT"
	OpUpdate              Operation = "UPDATE"
	OpMovement            Operation = "MOV"
	OpCorrectionRequested Operation = "CORRECCION_SOLICITADA"
	OpCorrectionApproved  Operation = "CORRECCION_APROBADA"
	OpNotice              Operation = "AVISO_MOV"
	OpNoticeRead          Operation = "AVISO_MOV_LEIDO"
)

const (
	TableDispatch      = "despacho"
	TableCommunication = "comunicacion"
)

// Snapshot is a before/after image stored as JSON.
type Snapshot map[string]any

func (s Snapshot) String(key string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

type Entry struct {
	ID        int64     `json:"id"`
	Table     string    `json:"nombre_tabla"`
	RecordID  string    `json:"id_registro_afectado"`
	Operation Operation `json:"tipo_operacion"`
	UserID    *int64    `json:"usuario_id,omitempty"`
	At        time.Time `json:"fecha_evento"`
	Old       Snapshot  `json:"datos_antiguos,omitempty"`
	New       Snapshot  `json:"datos_nuevos,omitempty"`
}

// Filter selects entries; zero fields do not constrain.
type Filter struct {
	Table      string
	RecordID   string
	Operations []Operation
	Since      time.Time
	Limit      int
}

func (f Filter) Match(e *Entry) bool {
	if f.Table != "" && e.Table != f.Table {
		return false
	}
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	if len(f.Operations) == 0 {
		return true
	}
	for _, op := range f.Operations {
		if e.Operation == op {
			return true
		}
	}
	return false
}

// Notice is a rider-to-operator message about a dispatch.
type Notice struct {
	ID      int64     `json:"id"`
	Code    string    `json:"codigo_despacho"`
	Kind    string    `json:"tipo_movimiento"`
	Method  string    `json:"metodo"`
	Message string    `json:"mensaje"`
	UserID  *int64    `json:"usuario_id,omitempty"`
	At      time.Time `json:"fecha_evento"`
	Read    bool      `json:"leido"`
}

func noticeFromEntry(e Entry) Notice {
	return Notice{
		ID:      e.ID,
		Code:    e.New.String("codigo"),
		Kind:    e.New.String("tipo_mov"),
		Method:  e.New.String("metodo"),
		Message: e.New.String("mensaje"),
		UserID:  e.UserID,
		At:      e.At,
	}
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
