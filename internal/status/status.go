// Package status serves the operator-facing HTTP endpoints: health,
// live sessions, prometheus metrics, and a websocket feed of session
// state changes.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/breeze-rmm/rdpd/internal/health"
	"github.com/breeze-rmm/rdpd/internal/logging"
	"github.com/breeze-rmm/rdpd/internal/rdp/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SessionLister is implemented by the RDP server.
type SessionLister interface {
	Sessions() []session.Info
}

type handler struct {
	sessions SessionLister
	health   *health.Monitor
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the status mux. Any of sessions, mon and hub may be
// nil, which disables the matching endpoint.
func NewHandler(sessions SessionLister, mon *health.Monitor, hub *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.L("status")
	}
	h := &handler{
		sessions: sessions,
		health:   mon,
		hub:      hub,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /sessions", h.listSessions)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /events", h.events)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": string(health.Unknown)})
		return
	}
	summary := h.health.Summary()
	code := http.StatusOK
	if summary["status"] == string(health.Unhealthy) {
		code = http.StatusServiceUnavailable
	}
	summary["checks"] = h.health.All()
	writeJSON(w, code, summary)
}

func (h *handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	infos := []session.Info{}
	if h.sessions != nil {
		infos = append(infos, h.sessions.Sessions()...)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "event feed disabled", http.StatusNotFound)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logging.KeyError, err)
		return
	}
	sub := h.hub.Subscribe()
	h.log.Debug("status subscriber connected", logging.KeyRemote, r.RemoteAddr)

	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump discards client frames and ends the subscription when the
// client goes away.
func (h *handler) readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("status subscriber read error", logging.KeyError, err)
			}
			return
		}
	}
}

func (h *handler) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("status subscriber write error", logging.KeyError, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve runs the status endpoints on ln until ctx ends.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
