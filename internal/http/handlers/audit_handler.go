// README: Audit history and rider notice handlers.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pharmadispatch/internal/http/middleware"
	"pharmadispatch/internal/modules/audit"
)

const defaultHistoryLimit = 200

type AuditHandler struct {
	audit *audit.Service
}

func NewAuditHandler(svc *audit.Service) *AuditHandler {
	return &AuditHandler{audit: svc}
}

// DispatchHistory lists the audit trail of one dispatch, newest first.
func (h *AuditHandler) DispatchHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.audit.History(c.Request.Context(), audit.TableDispatch, strconv.FormatInt(id, 10), queryLimit(c, defaultHistoryLimit))
	if err != nil {
		writeAuditError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, entries)
}

type noticeReq struct {
	Code    string `json:"codigo_despacho"`
	Kind    string `json:"tipo_movimiento"`
	Method  string `json:"metodo"`
	Message string `json:"mensaje"`
}

func (h *AuditHandler) Notify(c *gin.Context) {
	var req noticeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	n, err := h.audit.Notify(c.Request.Context(), audit.NoticeCommand{
		DispatchCode: req.Code,
		Kind:         req.Kind,
		Method:       req.Method,
		Message:      req.Message,
		ActorID:      middleware.CallerRef(c),
	})
	if err != nil {
		writeAuditError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, n)
}

// Notices accepts codigo, desde (RFC3339), no_leidos and limit.
func (h *AuditHandler) Notices(c *gin.Context) {
	f := audit.NoticeFilter{
		Code:  c.Query("codigo"),
		Limit: queryLimit(c, 0),
	}
	if raw := c.Query("desde"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid desde")
			return
		}
		f.Since = since
	}
	unread, err := queryBool(c, "no_leidos")
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid no_leidos")
		return
	}
	f.UnreadOnly = unread != nil && *unread

	notices, err := h.audit.Notices(c.Request.Context(), f)
	if err != nil {
		writeAuditError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, notices)
}

func (h *AuditHandler) MarkNoticeRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.audit.MarkNoticeRead(c.Request.Context(), id, middleware.CallerRef(c)); err != nil {
		writeAuditError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
