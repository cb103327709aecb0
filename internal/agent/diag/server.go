// Package diag serves the agent's read-only diagnostics API: slot layout,
// boot record, session status, update history, metrics, and a websocket
// stream of transfer progress. It presents state, never mutates it.
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/internal/ota"
	"github.com/updrift-io/updrift/internal/pkg/metrics"
	"github.com/updrift-io/updrift/pkg/log"
)

const defaultHistoryLimit = 20

// SlotInfo is one catalog entry plus its boot-record standing.
type SlotInfo struct {
	Label   string `json:"label"`
	Type    string `json:"type"`
	Base    uint64 `json:"base"`
	Size    uint64 `json:"size"`
	Role    string `json:"role"`
	Active  bool   `json:"active"`
	Pending bool   `json:"pending"`
}

// BootInfo is the persisted boot record as the selector sees it.
type BootInfo struct {
	Active        string `json:"active"`
	Pending       string `json:"pending,omitempty"`
	PendingVerify bool   `json:"pending_verify"`
	BootAttempts  uint8  `json:"boot_attempts"`
	RollbackCount uint8  `json:"rollback_count"`
	Seq           uint64 `json:"seq"`
}

// Server is the diagnostics HTTP server.
type Server struct {
	manager *ota.Manager
	journal *history.Journal
	events  *Broadcaster

	srv *http.Server
}

// NewServer wires the routes. journal may be nil; /v1/history then returns
// an empty list.
func NewServer(addr string, manager *ota.Manager, journal *history.Journal, events *Broadcaster) *Server {
	s := &Server{
		manager: manager,
		journal: journal,
		events:  events,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/slots", s.handleSlots).Methods(http.MethodGet)
	r.HandleFunc("/v1/boot", s.handleBoot).Methods(http.MethodGet)
	r.HandleFunc("/v1/session", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/v1/session/events", s.handleEvents)
	r.HandleFunc("/v1/history", s.handleHistory).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		log.Info("Diagnostics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return <-errs
	case err := <-errs:
		return err
	}
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	rec := s.manager.Selector().Record()

	var out []SlotInfo
	for _, slot := range s.manager.Catalog().Slots() {
		out = append(out, SlotInfo{
			Label:   slot.Label,
			Type:    slot.Type,
			Base:    slot.Base,
			Size:    slot.Size,
			Role:    slot.Role.String(),
			Active:  slot.Label == rec.Active,
			Pending: rec.PendingVerify && slot.Label == rec.Pending,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	rec := s.manager.Selector().Record()
	writeJSON(w, http.StatusOK, BootInfo{
		Active:        rec.Active,
		Pending:       rec.Pending,
		PendingVerify: rec.PendingVerify,
		BootAttempts:  rec.BootAttempts,
		RollbackCount: rec.RollbackCount,
		Seq:           rec.Seq,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.manager.Current()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries := []history.Entry{}
	if s.journal != nil {
		got, err := s.journal.Recent(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if got != nil {
			entries = got
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Diagnostics are served on a local or management network.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(err, "Websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	ch, cancel := s.events.subscribe()
	defer cancel()

	// Drain inbound frames so close handshakes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}
