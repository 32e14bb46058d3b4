// README: Identity, role, logging and recovery middleware tests.
package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pharmadispatch/internal/http/middleware"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Identity())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": middleware.CallerUID(c), "role": middleware.CallerRole(c)})
	})
	r.POST("/approve", middleware.RequireRole(middleware.RoleSupervisor), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdentity_MissingHeader(t *testing.T) {
	w := serve(newTestRouter(), http.MethodGet, "/test", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestIdentity_NonNumericUser(t *testing.T) {
	for _, v := range []string{"abc", "0", "-4", "12x"} {
		w := serve(newTestRouter(), http.MethodGet, "/test", map[string]string{middleware.HeaderUserID: v})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%q: expected 401, got %d", v, w.Code)
		}
	}
}

func TestIdentity_SetsCaller(t *testing.T) {
	w := serve(newTestRouter(), http.MethodGet, "/test", map[string]string{
		middleware.HeaderUserID:   " 42 ",
		middleware.HeaderUserRole: "Operadora",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		UID  int64  `json:"uid"`
		Role string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UID != 42 {
		t.Errorf("expected uid 42, got %d", body.UID)
	}
	if body.Role != "operadora" {
		t.Errorf("expected role operadora, got %q", body.Role)
	}
}

func TestRequireRole(t *testing.T) {
	r := newTestRouter()
	w := serve(r, http.MethodPost, "/approve", map[string]string{middleware.HeaderUserID: "7"})
	if w.Code != http.StatusForbidden {
		t.Errorf("no role: expected 403, got %d", w.Code)
	}
	w = serve(r, http.MethodPost, "/approve", map[string]string{middleware.HeaderUserID: "7", middleware.HeaderUserRole: "operadora"})
	if w.Code != http.StatusForbidden {
		t.Errorf("operator: expected 403, got %d", w.Code)
	}
	w = serve(r, http.MethodPost, "/approve", map[string]string{middleware.HeaderUserID: "7", middleware.HeaderUserRole: "Supervisor"})
	if w.Code != http.StatusNoContent {
		t.Errorf("supervisor: expected 204, got %d", w.Code)
	}
}

func TestLogging_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(middleware.Logging(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := serve(r, http.MethodGet, "/ping", nil)
	generated := w.Header().Get(middleware.HeaderRequestID)
	if generated == "" {
		t.Fatal("expected a generated request id")
	}
	w = serve(r, http.MethodGet, "/ping", map[string]string{middleware.HeaderRequestID: "req-123"})
	if got := w.Header().Get(middleware.HeaderRequestID); got != "req-123" {
		t.Errorf("expected echoed request id, got %q", got)
	}

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(entries))
	}
	fields := entries[1].ContextMap()
	if fields["request_id"] != "req-123" || fields["status"] != int64(http.StatusOK) || fields["path"] != "/ping" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.ErrorLevel)
	r := gin.New()
	r.Use(middleware.Recovery(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, http.MethodGet, "/boom", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Errorf("expected the panic to be logged")
	}
}
