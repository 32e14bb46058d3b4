// README: Base handler utilities (JSON helpers, error mapping, contention retry).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pharmadispatch/internal/http/middleware"
	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/modules/dispatch"
	"pharmadispatch/internal/modules/report"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"campo,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDispatchError maps dispatch error kinds to status codes. Rejections
// carry the operator-facing reason in the body.
func writeDispatchError(c *gin.Context, err error) {
	_ = c.Error(err)
	msg := dispatch.Reason(err)
	if msg == "" {
		msg = err.Error()
	}
	switch {
	case !dispatch.IsClientError(err) && !dispatch.IsRetryable(err):
		writeError(c, http.StatusInternalServerError, "internal error")
	case errors.Is(err, dispatch.ErrBadRequest):
		resp := errorResponse{Error: msg}
		var ve *dispatch.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
		writeJSON(c, http.StatusBadRequest, resp)
	case errors.Is(err, dispatch.ErrNotFound):
		writeError(c, http.StatusNotFound, msg)
	case errors.Is(err, dispatch.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrCustodyPrecondition),
		errors.Is(err, dispatch.ErrStaleCorrection),
		errors.Is(err, dispatch.ErrDuplicateCode):
		writeError(c, http.StatusConflict, msg)
	case errors.Is(err, dispatch.ErrContention):
		writeError(c, http.StatusServiceUnavailable, "despacho en uso, reintente")
	}
}

func writeAuditError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, audit.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeReportError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, report.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, report.ErrSourceUnavailable):
		writeError(c, http.StatusServiceUnavailable, "reporte no disponible")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads a positive numeric path parameter; on failure it writes 400
// and returns false.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryBool parses an optional boolean filter ("", "true", "0", ...).
func queryBool(c *gin.Context, name string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// withRetry runs fn and retries it once when the dispatch row was busy.
func withRetry[T any](c *gin.Context, logger *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := fn(c.Request.Context())
	if err == nil || !dispatch.IsRetryable(err) {
		return v, err
	}
	logger.Warn("retrying after contention",
		zap.String("op", op),
		zap.String("request_id", middleware.RequestID(c)),
		zap.Error(err),
	)
	return fn(c.Request.Context())
}
