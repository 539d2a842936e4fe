// Package server exposes the event pipeline over HTTP to the transport
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mechdocs/docgate/internal/logger"
	"github.com/mechdocs/docgate/pkg/auth"
	"github.com/mechdocs/docgate/pkg/dispatch"
	"github.com/mechdocs/docgate/pkg/store"
)

// Server is the HTTP adapter between the chat transport and the event
// pipeline. It knows nothing about the transport's wire format: inbound
// events come in as JSON, rendering instructions go back out as JSON,
// and out-of-band notifications wait in the outbox until polled.
type Server struct {
	dispatcher *dispatch.Dispatcher
	machine    *auth.Machine
	store      *store.Store
	outbox     *Outbox
	log        *logger.Logger
	httpServer *http.Server
}

// NewServer wires the HTTP adapter.
func NewServer(addr string, d *dispatch.Dispatcher, m *auth.Machine, st *store.Store, outbox *Outbox, log *logger.Logger) *Server {
	s := &Server{
		dispatcher: d,
		machine:    m,
		store:      st,
		outbox:     outbox,
		log:        log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"docgate"}`))
	}).Methods("GET")
	r.HandleFunc("/v1/events", s.handleEvent).Methods("POST")
	r.HandleFunc("/v1/outbox/{userID}", s.handleOutbox).Methods("GET")
	r.HandleFunc("/v1/admin/users", s.handleAdminUsers).Methods("GET")
	r.HandleFunc("/v1/admin/approve", s.handleApprove).Methods("POST")
	r.HandleFunc("/v1/admin/deny", s.handleDeny).Methods("POST")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type eventResponse struct {
	Dropped bool            `json:"dropped"`
	Reply   *dispatch.Reply `json:"reply,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev dispatch.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if ev.UserID == 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	reply, err := s.dispatcher.Handle(r.Context(), ev)
	if err != nil {
		// The dispatcher already produced a user-facing reply; the
		// error is server-side context for the logs.
		s.log.GetZerolog().Error().Err(err).Int64("user_id", ev.UserID).Msg("event handling failed")
	}

	writeJSON(w, eventResponse{Dropped: reply == nil, Reply: reply})
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	queued := s.outbox.Drain(userID)
	if queued == nil {
		queued = []Notification{}
	}
	writeJSON(w, queued)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	users, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.GetZerolog().Error().Err(err).Msg("listing users failed")
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []store.Binding{}
	}
	writeJSON(w, users)
}

type approvalAction struct {
	AdminID int64  `json:"adminId"`
	UserID  int64  `json:"userId"`
	Number  string `json:"number"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	act, ok := s.decodeAction(w, r)
	if !ok {
		return
	}
	if act.Number == "" {
		http.Error(w, "number is required", http.StatusBadRequest)
		return
	}
	if err := s.machine.Approve(r.Context(), act.UserID, act.Number); err != nil {
		s.log.GetZerolog().Error().Err(err).Int64("user_id", act.UserID).Msg("approve failed")
		http.Error(w, "approve failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "approved"})
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	act, ok := s.decodeAction(w, r)
	if !ok {
		return
	}
	if err := s.machine.Deny(r.Context(), act.UserID); err != nil {
		s.log.GetZerolog().Error().Err(err).Int64("user_id", act.UserID).Msg("deny failed")
		http.Error(w, "deny failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "denied"})
}

// decodeAction parses an approval action and enforces that the caller
// is an admin. A non-admin caller gets 403 and the action is refused;
// unlike chat commands this carries no violation block, since the HTTP
// surface is deployment-internal.
func (s *Server) decodeAction(w http.ResponseWriter, r *http.Request) (approvalAction, bool) {
	var act approvalAction
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		http.Error(w, "invalid action payload", http.StatusBadRequest)
		return act, false
	}
	if act.UserID == 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return act, false
	}
	if !s.machine.IsAdmin(act.AdminID) {
		http.Error(w, "admin id required", http.StatusForbidden)
		return act, false
	}
	return act, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already committed; nothing to recover.
		return
	}
}
