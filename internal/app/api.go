package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/memory"
)

// feedPing is how often idle event feeds are pinged.
const feedPing = 30 * time.Second

// historyResponse is the body of GET /v1/history.
type historyResponse struct {
	Records []memory.TranscriptionRecord `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the control API:
//
//	POST   /v1/session/start   start a session (202, snapshot)
//	POST   /v1/session/stop    stop the session (200, snapshot)
//	GET    /v1/session         current snapshot
//	GET    /v1/session/events  websocket feed of snapshots
//	GET    /v1/history         completed turns
//	DELETE /v1/history         clear the history (204)
//	GET    /healthz, /readyz   probes
//	GET    /metrics            Prometheus scrape endpoint
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", a.handleStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleStop)
	mux.HandleFunc("GET /v1/session", a.handleSnapshot)
	mux.HandleFunc("GET /v1/session/events", a.handleEvents)
	mux.HandleFunc("GET /v1/history", a.handleHistory)
	mux.HandleFunc("DELETE /v1/history", a.handleClearHistory)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Start(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.engine.Snapshot())
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Stop(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *App) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *App) handleHistory(w http.ResponseWriter, _ *http.Request) {
	records := a.engine.Snapshot().History
	if records == nil {
		records = []memory.TranscriptionRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: records})
}

func (a *App) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.ClearHistory(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams every published snapshot as a JSON text message until
// the client goes away or the engine stops.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("event feed: accept", "err", err)
		return
	}
	defer conn.CloseNow()

	// Read side only handles control frames; a client message or close
	// cancels ctx.
	ctx := conn.CloseRead(r.Context())

	sub, cancel := a.engine.Subscribe()
	defer cancel()

	ping := time.NewTicker(feedPing)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine stopped")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, s)
			wcancel()
			if err != nil {
				observe.Logger(r.Context()).Debug("event feed: write", "err", err)
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	observe.Logger(r.Context()).Log(r.Context(), slog.LevelWarn, "request failed", "path", r.URL.Path, "err", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
