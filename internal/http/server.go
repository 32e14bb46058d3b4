// README: API gateway; holds the module services the routes delegate to.
package http

import (
	"go.uber.org/zap"

	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/modules/dispatch"
	"pharmadispatch/internal/modules/report"
)

type ServerDeps struct {
	Dispatch    *dispatch.Service
	Audit       *audit.Service
	Report      *report.Service
	Logger      *zap.Logger
	CORSOrigins []string
}

type Server struct {
	dispatch    *dispatch.Service
	audit       *audit.Service
	report      *report.Service
	logger      *zap.Logger
	corsOrigins []string
}

func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		dispatch:    deps.Dispatch,
		audit:       deps.Audit,
		report:      deps.Report,
		logger:      logger,
		corsOrigins: deps.CORSOrigins,
	}
}
