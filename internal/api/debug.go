package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
)

// DebugHandlers exposes pipeline executions and fake-time control
type DebugHandlers struct {
	server *Server
}

// NewDebugHandlers creates handlers for debug endpoints
func NewDebugHandlers(server *Server) *DebugHandlers {
	return &DebugHandlers{server: server}
}

// RegisterRoutes registers debug routes on the router
func (h *DebugHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/debug", func(r chi.Router) {
		r.Get("/executions", h.handleExecutions)
		r.Get("/executions/{id}", h.handleExecution)

		r.Get("/time", h.handleTime)
		r.Post("/time/start", h.handleTimeStart)
		r.Post("/time/stop", h.handleTimeStop)
		r.Post("/time/multiplier", h.handleTimeMultiplier)
		r.Post("/time/jump", h.handleTimeJump)
	})
}

func (h *DebugHandlers) handleExecutions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.server.agent.Executions().Recent(queryInt(r, "limit", 20)))
}

func (h *DebugHandlers) handleExecution(w http.ResponseWriter, r *http.Request) {
	e, ok := h.server.agent.Executions().Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "execution not found")
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// timeStatus adds the derived rate to the clock status.
type timeStatus struct {
	clock.Status
	Enabled              bool    `json:"enabled"`
	FakeMinutesPerSecond float64 `json:"fake_minutes_per_real_second"`
}

func (h *DebugHandlers) status() timeStatus {
	if h.server.fakeClock == nil {
		now := h.server.clock.Now()
		return timeStatus{
			Status:               clock.Status{Multiplier: 1, FakeNow: now, RealNow: time.Now()},
			FakeMinutesPerSecond: 1.0 / 60,
		}
	}
	st := h.server.fakeClock.Status()
	return timeStatus{
		Status:               st,
		Enabled:              true,
		FakeMinutesPerSecond: h.server.fakeClock.Multiplier() / 60,
	}
}

func (h *DebugHandlers) handleTime(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status())
}

// fake returns the accelerated clock or writes a conflict.
func (h *DebugHandlers) fake(w http.ResponseWriter) (*clock.Accelerated, bool) {
	if h.server.fakeClock == nil {
		respondError(w, http.StatusConflict, "fake time is not enabled; start the server in fake scheduler mode")
		return nil, false
	}
	return h.server.fakeClock, true
}

func (h *DebugHandlers) handleTimeStart(w http.ResponseWriter, r *http.Request) {
	fc, ok := h.fake(w)
	if !ok {
		return
	}
	var input struct {
		FakeStartTime  string  `json:"fake_start_time"`
		TimeMultiplier float64 `json:"time_multiplier"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	start := fc.Now()
	if input.FakeStartTime != "" {
		t, err := parseTime(input.FakeStartTime, start.Location())
		if err != nil {
			respondErr(w, err)
			return
		}
		start = t
	}
	if input.TimeMultiplier < 0 {
		respondError(w, http.StatusBadRequest, "time_multiplier must be positive")
		return
	}

	fc.Start(start, input.TimeMultiplier)
	h.server.log.WithFields(map[string]interface{}{
		"fake_start": start,
		"multiplier": fc.Multiplier(),
	}).Info("fake time started")
	respondJSON(w, http.StatusOK, h.status())
}

func (h *DebugHandlers) handleTimeStop(w http.ResponseWriter, r *http.Request) {
	fc, ok := h.fake(w)
	if !ok {
		return
	}
	fc.Stop()
	h.server.log.Info("fake time stopped")
	respondJSON(w, http.StatusOK, h.status())
}

func (h *DebugHandlers) handleTimeMultiplier(w http.ResponseWriter, r *http.Request) {
	fc, ok := h.fake(w)
	if !ok {
		return
	}
	var input struct {
		Multiplier float64 `json:"multiplier"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}
	if err := fc.SetMultiplier(input.Multiplier); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.status())
}

// handleTimeJump moves fake time to target_time, or forward by advance
// (a Go duration such as "26h").
func (h *DebugHandlers) handleTimeJump(w http.ResponseWriter, r *http.Request) {
	fc, ok := h.fake(w)
	if !ok {
		return
	}
	var input struct {
		TargetTime string `json:"target_time"`
		Advance    string `json:"advance"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	var target time.Time
	switch {
	case input.TargetTime != "":
		t, err := parseTime(input.TargetTime, fc.Now().Location())
		if err != nil {
			respondErr(w, err)
			return
		}
		target = t
	case input.Advance != "":
		d, err := time.ParseDuration(input.Advance)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "advance must be a positive duration")
			return
		}
		target = fc.Now().Add(d)
	default:
		respondError(w, http.StatusBadRequest, "target_time or advance required")
		return
	}

	if err := fc.JumpTo(target); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.status())
}

// parseTime accepts RFC 3339, a local date-time, or a calendar date.
func parseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04", core.DateLayout} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized time %q", core.ErrInvalidInput, raw)
}
