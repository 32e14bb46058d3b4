// README: Dispatch handlers: creation, reads, movements, custody and corrections.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmadispatch/internal/http/middleware"
	"pharmadispatch/internal/modules/dispatch"
)

type DispatchHandler struct {
	dispatch *dispatch.Service
	logger   *zap.Logger
}

func NewDispatchHandler(svc *dispatch.Service, logger *zap.Logger) *DispatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchHandler{dispatch: svc, logger: logger}
}

type createDispatchReq struct {
	Code                    string           `json:"codigo_despacho"`
	OrderNumber             string           `json:"numero_orden_farmacia"`
	OriginPharmacyID        string           `json:"farmacia_origen_local_id"`
	DestinationPharmacyID   string           `json:"farmacia_destino_local_id"`
	RiderID                 int64            `json:"motorista_id"`
	Type                    string           `json:"tipo_despacho"`
	Priority                string           `json:"prioridad"`
	CustomerName            string           `json:"cliente_nombre"`
	CustomerPhone           string           `json:"cliente_telefono"`
	Address                 string           `json:"destino_direccion"`
	AddressReference        string           `json:"destino_referencia"`
	Lat                     *float64         `json:"destino_lat"`
	Lng                     *float64         `json:"destino_lng"`
	HasRetainedPrescription bool             `json:"tiene_receta_retenida"`
	PrescriptionNumber      string           `json:"numero_receta"`
	RequiresReturn          bool             `json:"requiere_devolucion_receta"`
	ProductDescription      string           `json:"descripcion_productos"`
	DeclaredValue           *decimal.Decimal `json:"valor_declarado"`
	RequiresApproval        bool             `json:"requiere_aprobacion_operadora"`
}

func (h *DispatchHandler) Create(c *gin.Context) {
	var req createDispatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := dispatch.CreateCommand{
		Code:                    req.Code,
		OrderNumber:             req.OrderNumber,
		OriginPharmacyID:        req.OriginPharmacyID,
		DestinationPharmacyID:   req.DestinationPharmacyID,
		RiderID:                 req.RiderID,
		Type:                    req.Type,
		Priority:                req.Priority,
		CustomerName:            req.CustomerName,
		CustomerPhone:           req.CustomerPhone,
		Address:                 req.Address,
		AddressReference:        req.AddressReference,
		Lat:                     req.Lat,
		Lng:                     req.Lng,
		HasRetainedPrescription: req.HasRetainedPrescription,
		PrescriptionNumber:      req.PrescriptionNumber,
		RequiresReturn:          req.RequiresReturn,
		ProductDescription:      req.ProductDescription,
		DeclaredValue:           req.DeclaredValue,
		RequiresApproval:        req.RequiresApproval,
		ActorID:                 middleware.CallerRef(c),
	}
	d, err := withRetry(c, h.logger, "create", func(ctx context.Context) (*dispatch.Dispatch, error) {
		return h.dispatch.Create(ctx, cmd)
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (h *DispatchHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.dispatch.Get(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DispatchHandler) GetByCode(c *gin.Context) {
	d, err := h.dispatch.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DispatchHandler) Movements(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ms, err := h.dispatch.Movements(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ms)
}

type movementReq struct {
	State  string   `json:"estado"`
	Note   string   `json:"observacion"`
	Method string   `json:"modo"`
	Kind   string   `json:"tipo"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

func (h *DispatchHandler) RecordMovement(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req movementReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.State == "" {
		writeError(c, http.StatusBadRequest, "missing estado")
		return
	}
	cmd := dispatch.MovementCommand{
		DispatchID: id,
		State:      req.State,
		ActorID:    middleware.CallerRef(c),
		Note:       req.Note,
		Method:     req.Method,
		Kind:       req.Kind,
		RiderLat:   req.Lat,
		RiderLng:   req.Lng,
	}
	m, err := withRetry(c, h.logger, "movement", func(ctx context.Context) (*dispatch.Movement, error) {
		return h.dispatch.RecordMovement(ctx, cmd)
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, m)
}

func (h *DispatchHandler) ListActive(c *gin.Context) {
	var f dispatch.ActiveFilter
	if raw := c.Query("prioridad"); raw != "" {
		p, err := dispatch.ParsePriority(raw)
		if err != nil {
			writeDispatchError(c, err)
			return
		}
		f.Priority = p
	}
	var err error
	if f.WithPrescription, err = queryBool(c, "receta"); err != nil {
		writeError(c, http.StatusBadRequest, "invalid receta")
		return
	}
	if f.WithIncident, err = queryBool(c, "incidencia"); err != nil {
		writeError(c, http.StatusBadRequest, "invalid incidencia")
		return
	}
	rows, err := h.dispatch.ListActive(c.Request.Context(), f)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rows)
}

func (h *DispatchHandler) PendingReturns(c *gin.Context) {
	rows, err := h.dispatch.PendingReturns(c.Request.Context())
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rows)
}

type prescriptionReq struct {
	HasRetainedPrescription bool   `json:"tiene_receta_retenida"`
	PrescriptionNumber      string `json:"numero_receta"`
	RequiresReturn          bool   `json:"requiere_devolucion_receta"`
}

func (h *DispatchHandler) UpdatePrescription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req prescriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := dispatch.UpdatePrescriptionCommand{
		DispatchID:              id,
		HasRetainedPrescription: req.HasRetainedPrescription,
		PrescriptionNumber:      req.PrescriptionNumber,
		RequiresReturn:          req.RequiresReturn,
		ActorID:                 middleware.CallerRef(c),
	}
	d, err := withRetry(c, h.logger, "prescription", func(ctx context.Context) (*dispatch.Dispatch, error) {
		return h.dispatch.UpdatePrescription(ctx, cmd)
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type returnReq struct {
	ReceivedBy string `json:"quien_recibe_receta"`
	Notes      string `json:"observaciones_receta"`
}

func (h *DispatchHandler) MarkReturned(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req returnReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	cmd := dispatch.MarkReturnedCommand{
		DispatchID: id,
		ReceivedBy: req.ReceivedBy,
		Notes:      req.Notes,
		ActorID:    middleware.CallerRef(c),
	}
	d, err := withRetry(c, h.logger, "prescription_return", func(ctx context.Context) (*dispatch.Dispatch, error) {
		return h.dispatch.MarkPrescriptionReturned(ctx, cmd)
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type incidentReq struct {
	Type        string `json:"tipo_incidencia"`
	Description string `json:"descripcion_incidencia"`
}

func (h *DispatchHandler) ReportIncident(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req incidentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := dispatch.IncidentCommand{
		DispatchID:  id,
		Type:        req.Type,
		Description: req.Description,
		ActorID:     middleware.CallerRef(c),
	}
	d, err := withRetry(c, h.logger, "incident", func(ctx context.Context) (*dispatch.Dispatch, error) {
		return h.dispatch.ReportIncident(ctx, cmd)
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type correctionReq struct {
	Target string `json:"estado_objetivo"`
	Reason string `json:"motivo"`
}

func (h *DispatchHandler) RequestCorrection(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req correctionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cr, err := h.dispatch.RequestCorrection(c.Request.Context(), dispatch.CorrectionRequest{
		DispatchID: id,
		Target:     req.Target,
		Reason:     req.Reason,
		ActorID:    middleware.CallerRef(c),
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, cr)
}

func (h *DispatchHandler) CorrectionStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cr, err := h.dispatch.CorrectionStatus(c.Request.Context(), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, cr)
}

func (h *DispatchHandler) ApproveCorrection(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	approval := dispatch.CorrectionApproval{DispatchID: id, ActorID: middleware.CallerRef(c)}
	d, err := withRetry(c, h.logger, "correction_approve", func(ctx context.Context) (*dispatch.Dispatch, error) {
		return h.dispatch.ApproveCorrection(ctx, approval)
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}
