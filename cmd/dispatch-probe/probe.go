// README: Probe runner; concurrent movement requests released by one start signal.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Probe struct {
	cfg   Config
	httpc *http.Client
}

func NewProbe(cfg Config) *Probe {
	return &Probe{cfg: cfg, httpc: &http.Client{Timeout: 10 * time.Second}}
}

// Report counts responses by status code; transport failures are keyed 0.
type Report struct {
	ByStatus map[int]int
	Errors   []string
	Elapsed  time.Duration
}

func (r Report) Successes() int {
	n := 0
	for code, c := range r.ByStatus {
		if code >= 200 && code < 300 {
			n += c
		}
	}
	return n
}

// OK holds when no more than one request won the transition.
func (r Report) OK() bool {
	return r.Successes() <= 1
}

func (r Report) Lines() []string {
	codes := make([]int, 0, len(r.ByStatus))
	for code := range r.ByStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	lines := make([]string, 0, len(codes)+2)
	for _, code := range codes {
		label := strconv.Itoa(code)
		if code == 0 {
			label = "error"
		}
		lines = append(lines, fmt.Sprintf("%-6s %d", label, r.ByStatus[code]))
	}
	verdict := "PASS"
	if !r.OK() {
		verdict = "FAIL"
	}
	lines = append(lines, fmt.Sprintf("%s success=%d elapsed=%s", verdict, r.Successes(), r.Elapsed.Round(time.Millisecond)))
	for _, e := range r.Errors {
		lines = append(lines, "  "+e)
	}
	return lines
}

func (p *Probe) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(p.cfg.ActorID, 10))
	if p.cfg.Role != "" {
		req.Header.Set("X-User-Role", p.cfg.Role)
	}
	return req, nil
}

// Run fires cfg.Concurrency movement requests at once and tallies them.
func (p *Probe) Run(ctx context.Context) Report {
	path := fmt.Sprintf("/api/dispatches/%d/movements", p.cfg.DispatchID)
	payload := map[string]any{
		"estado":      p.cfg.State,
		"observacion": "contention probe",
	}

	rep := Report{ByStatus: map[int]int{}}
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := p.newRequest(ctx, http.MethodPost, path, payload)
			<-start
			code := 0
			if err == nil {
				var resp *http.Response
				resp, err = p.httpc.Do(req)
				if err == nil {
					_, _ = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
					code = resp.StatusCode
				}
			}
			mu.Lock()
			rep.ByStatus[code]++
			if err != nil {
				rep.Errors = append(rep.Errors, err.Error())
			}
			mu.Unlock()
		}()
	}

	began := time.Now()
	close(start)
	wg.Wait()
	rep.Elapsed = time.Since(began)
	return rep
}

// CreateDispatch registers a home delivery to probe against.
func (p *Probe) CreateDispatch(ctx context.Context) (int64, string, error) {
	req, err := p.newRequest(ctx, http.MethodPost, "/api/dispatches", map[string]any{
		"farmacia_origen_local_id": p.cfg.PharmacyID,
		"motorista_id":             p.cfg.RiderID,
		"tipo_despacho":            "DOMICILIO",
		"prioridad":                "ALTA",
		"cliente_nombre":           "Prueba de contención",
		"destino_direccion":        "Av. Libertador Bernardo O'Higgins 1449, Santiago",
	})
	if err != nil {
		return 0, "", err
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return 0, "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		ID   int64  `json:"id"`
		Code string `json:"codigo_despacho"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, "", err
	}
	return out.ID, out.Code, nil
}

// CountMovements counts movement rows of a dispatch into the given state.
func CountMovements(ctx context.Context, db *pgxpool.Pool, dispatchID int64, state string) (int, error) {
	var n int
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM movimiento_despacho WHERE despacho_id = $1 AND estado_nuevo = $2`,
		dispatchID, strings.ToUpper(strings.TrimSpace(state)),
	).Scan(&n)
	return n, err
}
