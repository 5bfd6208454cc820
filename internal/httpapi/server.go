// Package httpapi is the HTTP boundary: thin JSON glue over the security
// engine plus health, readiness and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"sentra.org/internal/engine"
	"sentra.org/internal/obs"
	"sentra.org/internal/rbac"
	"sentra.org/internal/session"
	"sentra.org/internal/subject"
	"sentra.org/internal/token"
)

// ReadyProbe checks the backing store, typically a database ping.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	engine     *engine.Engine
	subjects   subject.Directory
	readyProbe ReadyProbe
	version    string
}

func New(eng *engine.Engine, subjects subject.Directory, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		engine:     eng,
		subjects:   subjects,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/subjects", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/check", a.handleCheck)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the mux wrapped with the metrics middleware. Callers stack
// the remaining middleware (request id, logging, rate limit) on top.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sentra-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sentra-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// handleDomainError maps the sentinel errors of the core packages onto HTTP
// statuses. Detail never leaks past the boundary for auth failures.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrAuthFailed):
		writeError(w, r, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, token.ErrInvalidInput),
		errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, token.ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, token.ErrInvalidState),
		errors.Is(err, session.ErrInvalidState),
		errors.Is(err, rbac.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
