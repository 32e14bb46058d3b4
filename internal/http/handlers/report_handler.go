// README: Operational summary handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharmadispatch/internal/modules/report"
)

type ReportHandler struct {
	report *report.Service
}

func NewReportHandler(svc *report.Service) *ReportHandler {
	return &ReportHandler{report: svc}
}

// Summary: ?period=dia|mes|anio&date=...&farmacia=<local_id>
func (h *ReportHandler) Summary(c *gin.Context) {
	out, err := h.report.Summary(c.Request.Context(), report.Query{
		Period:     c.DefaultQuery("period", string(report.PeriodDay)),
		Date:       c.Query("date"),
		PharmacyID: c.Query("farmacia"),
	})
	if err != nil {
		writeReportError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}
