package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire-protocol/agentwire/internal/dispatch"
	"github.com/agentwire-protocol/agentwire/internal/dispense"
	"github.com/agentwire-protocol/agentwire/internal/envelope"
	"github.com/agentwire-protocol/agentwire/internal/metrics"
	"github.com/agentwire-protocol/agentwire/internal/store"
)

// DefaultSyncTimeout bounds how long a synchronous submit waits for the
// handler's reply.
const DefaultSyncTimeout = 30 * time.Second

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	dispatcher  *dispatch.Dispatcher
	history     *envelope.History
	mirror      *store.RedisHistory // optional durable mirror of the history log
	pending     *PendingResponses
	log         zerolog.Logger
	syncTimeout time.Duration
}

// NewHandler creates a Handler over the given runtime pieces. mirror may be
// nil.
func NewHandler(d *dispatch.Dispatcher, history *envelope.History, mirror *store.RedisHistory, pending *PendingResponses, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatcher:  d,
		history:     history,
		mirror:      mirror,
		pending:     pending,
		log:         logger,
		syncTimeout: DefaultSyncTimeout,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Submit accepts one inbound envelope and routes it to the hosted agent it
// addresses. Synchronous requests (x-uagents-connection: sync) are answered
// with the handler's reply envelope inline.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var env envelope.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.Error(w, http.StatusBadRequest, "malformed envelope")
		return
	}

	// Unsigned envelopes are never accepted over the network.
	if err := env.Verify(); err != nil {
		h.log.Warn().Str("sender", env.Sender).Str("session", env.Session).Err(err).Msg("rejecting envelope")
		h.Error(w, http.StatusForbidden, "envelope signature missing or invalid")
		return
	}

	if env.Expires != nil && time.Now().Unix() > *env.Expires {
		h.Error(w, http.StatusBadRequest, "envelope expired")
		return
	}

	payload, err := env.DecodePayload()
	if err != nil {
		h.Error(w, http.StatusBadRequest, "malformed payload")
		return
	}

	sync := r.Header.Get(dispense.SyncHeader) == "sync"

	var reply <-chan *envelope.Envelope
	if sync {
		var ok bool
		if reply, ok = h.pending.Register(env.Session); !ok {
			h.Error(w, http.StatusConflict, "session is already awaiting a response")
			return
		}
		defer h.pending.Unregister(env.Session)
	}

	if err := h.dispatcher.Dispatch(r.Context(), env.Sender, env.Target, env.SchemaDigest, payload, env.Session); err != nil {
		if errors.Is(err, dispatch.ErrNoSink) {
			h.Error(w, http.StatusNotFound, "no local agent for target")
			return
		}
		h.log.Warn().Str("target", env.Target).Str("session", env.Session).Err(err).Msg("dispatch failed")
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.EnvelopesReceived.Inc()
	entry := envelope.NewHistoryEntry(&env)
	h.history.Add(entry)
	if h.mirror != nil {
		if err := h.mirror.Add(r.Context(), entry); err != nil {
			h.log.Warn().Err(err).Msg("history mirror write failed")
		}
	}

	if !sync {
		h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	select {
	case response := <-reply:
		h.JSON(w, http.StatusOK, response)
	case <-time.After(h.syncTimeout):
		h.Error(w, http.StatusGatewayTimeout, "timed out waiting for response")
	case <-r.Context().Done():
	}
}

// Messages returns the retained envelope history.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	entries := h.history.Entries()
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"messages": entries,
		"total":    len(entries),
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
