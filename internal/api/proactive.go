package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/companion/internal/agent"
	"github.com/quantumlife/companion/internal/core"
)

// ProactiveHandlers provides HTTP handlers for system-initiated messages
type ProactiveHandlers struct {
	server *Server
}

// NewProactiveHandlers creates handlers for proactive endpoints
func NewProactiveHandlers(server *Server) *ProactiveHandlers {
	return &ProactiveHandlers{server: server}
}

// RegisterRoutes registers proactive routes on the router
func (h *ProactiveHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/proactive", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/respond", h.handleRespond)
	})
}

// proactiveList separates what is queued from what waits for an answer.
type proactiveList struct {
	Pending    []*core.ProactiveMessage `json:"pending"`
	Unanswered []*core.ProactiveMessage `json:"unanswered"`
}

// handleList returns queued messages and those sent within the response
// window that have no answer yet.
func (h *ProactiveHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	out := proactiveList{
		Pending:    []*core.ProactiveMessage{},
		Unanswered: []*core.ProactiveMessage{},
	}

	pending, err := h.server.messages.Pending(r.Context(), userID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if pending != nil {
		out.Pending = pending
	}

	since := h.server.clock.Now().Add(-agent.ResponseWindow)
	unanswered, err := h.server.messages.Unanswered(r.Context(), userID, since, queryInt(r, "limit", 20))
	if err != nil {
		respondErr(w, err)
		return
	}
	if unanswered != nil {
		out.Unanswered = unanswered
	}

	respondJSON(w, http.StatusOK, out)
}

func (h *ProactiveHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, err)
		return
	}
	m, err := h.server.messages.Get(r.Context(), userFrom(r), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// handleRespond records the user's answer to a sent message.
func (h *ProactiveHandlers) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, err)
		return
	}
	var input struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		respondError(w, http.StatusBadRequest, "content required")
		return
	}

	userID := userFrom(r)
	m, err := h.server.messages.Get(r.Context(), userID, id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if m.SentAt == nil {
		respondError(w, http.StatusConflict, "message has not been sent yet")
		return
	}
	if m.UserResponded {
		respondError(w, http.StatusConflict, "message already has a response")
		return
	}

	if err := h.server.messages.MarkResponded(r.Context(), userID, id, content, h.server.clock.Now()); err != nil {
		respondErr(w, err)
		return
	}
	m, err = h.server.messages.Get(r.Context(), userID, id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}
