package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/companion/internal/commitments"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/retrieval"
	"github.com/quantumlife/companion/internal/storage"
	"github.com/quantumlife/companion/internal/vectors"
)

// streakLookbackDays bounds the completion history read for one commitment.
const streakLookbackDays = 30

// CommitmentHandlers provides HTTP handlers for commitments and habits
type CommitmentHandlers struct {
	server *Server
}

// NewCommitmentHandlers creates handlers for commitment endpoints
func NewCommitmentHandlers(server *Server) *CommitmentHandlers {
	return &CommitmentHandlers{server: server}
}

// RegisterRoutes registers commitment routes on the router
func (h *CommitmentHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/commitments", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)

		r.Post("/{id}/complete", h.handleComplete)
		r.Post("/{id}/skip", h.handleSkip)
		r.Post("/{id}/dismiss", h.handleDismiss)
		r.Post("/{id}/postpone", h.handlePostpone)
	})
}

// commitmentInput is the writable subset of a commitment. Nil fields are
// left unchanged on update.
type commitmentInput struct {
	TaskDescription   *string   `json:"task_description"`
	Deadline          *string   `json:"deadline"` // YYYY-MM-DD or an expression like "tomorrow"
	Priority          *string   `json:"priority"`
	Status            *string   `json:"status"`
	RecurrencePattern *string   `json:"recurrence_pattern"`
	RecurrenceDays    *[]string `json:"recurrence_days"`
	DueTime           *string   `json:"due_time"`
}

// apply copies the set fields onto c.
func (in commitmentInput) apply(c *core.Commitment, now time.Time) error {
	if in.TaskDescription != nil {
		c.TaskDescription = strings.TrimSpace(*in.TaskDescription)
	}
	if in.Priority != nil {
		switch p := core.Priority(strings.ToLower(*in.Priority)); p {
		case core.PriorityHigh, core.PriorityMedium, core.PriorityLow:
			c.Priority = p
		default:
			return fmt.Errorf("%w: priority %q", core.ErrInvalidInput, *in.Priority)
		}
	}
	if in.Status != nil {
		status := core.CommitmentStatus(strings.ToLower(*in.Status))
		if !status.Valid() {
			return fmt.Errorf("%w: %q", core.ErrInvalidStatus, *in.Status)
		}
		c.Status = status
	}
	if in.RecurrencePattern != nil {
		c.RecurrencePattern = core.ParseRecurrence(*in.RecurrencePattern)
		if c.IsRecurring() {
			c.DeadlineType = core.DeadlineRecurring
		}
	}
	if in.RecurrenceDays != nil {
		c.RecurrenceDays = *in.RecurrenceDays
	}
	if in.DueTime != nil {
		due := strings.TrimSpace(*in.DueTime)
		if due != "" {
			if _, err := time.Parse("15:04", due); err != nil {
				return fmt.Errorf("%w: due_time must be HH:MM", core.ErrInvalidInput)
			}
		}
		c.DueTime = due
	}
	if in.Deadline != nil {
		if strings.TrimSpace(*in.Deadline) == "" {
			c.Deadline = nil
		} else {
			d := parseDeadline(*in.Deadline, now)
			c.Deadline = &d
			c.DeadlineType = core.DeadlineSpecific
		}
	}
	return nil
}

// parseDeadline accepts a calendar date or a relative expression.
func parseDeadline(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseInLocation(core.DateLayout, raw, now.Location()); err == nil {
		return core.EndOfDay(d)
	}
	return commitments.ResolveDeadline(raw, now)
}

// commitmentDetail adds per-day progress to recurring commitments.
type commitmentDetail struct {
	*core.Commitment
	CompletedToday *bool                       `json:"completed_today,omitempty"`
	CurrentStreak  *int                        `json:"current_streak,omitempty"`
	Completions    []core.CommitmentCompletion `json:"completions,omitempty"`
}

func (h *CommitmentHandlers) detail(ctx context.Context, c *core.Commitment) (*commitmentDetail, error) {
	d := &commitmentDetail{Commitment: c}
	if !c.IsRecurring() {
		return d, nil
	}

	now := h.server.clock.Now()
	from := core.DateOf(now.AddDate(0, 0, -streakLookbackDays))
	completions, err := h.server.completions.Since(ctx, c.ID, from)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(completions))
	for _, cc := range completions {
		if cc.Status == core.CompletionDone {
			done[cc.CompletionDate] = true
		}
	}
	today := done[core.DateOf(now)]
	streak := retrieval.Streak(done, now, streakLookbackDays)
	d.CompletedToday = &today
	d.CurrentStreak = &streak
	d.Completions = completions
	return d, nil
}

func (h *CommitmentHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	filter := storage.CommitmentFilter{Limit: queryInt(r, "limit", 100)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := core.CommitmentStatus(strings.TrimSpace(part))
			if !status.Valid() {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	switch r.URL.Query().Get("recurring") {
	case "true":
		v := true
		filter.Recurring = &v
	case "false":
		v := false
		filter.Recurring = &v
	}

	list, err := h.server.commitments.List(r.Context(), userFrom(r), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	if list == nil {
		list = []*core.Commitment{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *CommitmentHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input commitmentInput
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	now := h.server.clock.Now()
	c := &core.Commitment{UserID: userFrom(r), CreatedAt: now}
	if err := input.apply(c, now); err != nil {
		respondErr(w, err)
		return
	}
	if c.IsRecurring() {
		if _, err := h.server.commitments.FindByName(r.Context(), c.UserID, c.TaskDescription); err == nil {
			respondErr(w, fmt.Errorf("%w: %s", core.ErrHabitExists, c.TaskDescription))
			return
		}
	}
	if err := h.server.commitments.Create(r.Context(), c); err != nil {
		respondErr(w, err)
		return
	}
	h.index(r.Context(), c)
	respondJSON(w, http.StatusCreated, c)
}

func (h *CommitmentHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	d, err := h.detail(r.Context(), c)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *CommitmentHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	var input commitmentInput
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	now := h.server.clock.Now()
	if err := input.apply(c, now); err != nil {
		respondErr(w, err)
		return
	}
	if c.TaskDescription == "" {
		respondErr(w, fmt.Errorf("%w: task_description", core.ErrMissingRequired))
		return
	}
	if err := h.server.commitments.Update(r.Context(), c, now); err != nil {
		respondErr(w, err)
		return
	}
	h.index(r.Context(), c)
	respondJSON(w, http.StatusOK, c)
}

func (h *CommitmentHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}

	err := h.server.db.TransactionContext(r.Context(), func(tx *sql.Tx) error {
		if _, err := h.server.messages.WithTx(tx).CancelForCommitment(r.Context(), c.ID); err != nil {
			return err
		}
		return h.server.commitments.WithTx(tx).Delete(r.Context(), c.UserID, c.ID)
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	for _, collection := range []string{vectors.CollectionCommitments, vectors.CollectionHabits} {
		if err := h.server.memory.Forget(r.Context(), collection, c.ID); err != nil {
			h.server.log.WithFields(map[string]interface{}{
				"commitment_id": c.ID,
				"collection":    collection,
				"error":         err,
			}).Warn("forget commitment failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleComplete records today's completion. One-time commitments close
// and their queued reminders are cancelled.
func (h *CommitmentHandlers) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, core.CompletionDone)
}

// handleSkip records a skipped day for a recurring commitment.
func (h *CommitmentHandlers) handleSkip(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, core.CompletionSkipped)
}

func (h *CommitmentHandlers) record(w http.ResponseWriter, r *http.Request, status core.CompletionStatus) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if c.IsTerminal() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("commitment is already %s", c.Status))
		return
	}
	if status == core.CompletionSkipped && !c.IsRecurring() {
		respondError(w, http.StatusBadRequest, "only recurring commitments can be skipped")
		return
	}

	var input struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	now := h.server.clock.Now()
	today := core.DateOf(now)
	var recorded bool
	err := h.server.db.TransactionContext(r.Context(), func(tx *sql.Tx) error {
		var err error
		recorded, err = h.server.completions.WithTx(tx).Record(r.Context(), c, today, status, input.Notes, now)
		if err != nil || !recorded {
			return err
		}
		if !c.IsRecurring() {
			_, err = h.server.messages.WithTx(tx).CancelForCommitment(r.Context(), c.ID)
		}
		return err
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	if !recorded {
		respondError(w, http.StatusBadRequest, "already recorded for today")
		return
	}

	d, err := h.detail(r.Context(), c)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *CommitmentHandlers) handleDismiss(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}

	now := h.server.clock.Now()
	err := h.server.db.TransactionContext(r.Context(), func(tx *sql.Tx) error {
		if err := h.server.commitments.WithTx(tx).SetStatus(r.Context(), c.UserID, c.ID, core.StatusDismissed, now); err != nil {
			return err
		}
		_, err := h.server.messages.WithTx(tx).CancelForCommitment(r.Context(), c.ID)
		return err
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	c.Status = core.StatusDismissed
	respondJSON(w, http.StatusOK, c)
}

// handlePostpone moves a one-time commitment's deadline and restarts its
// reminders.
func (h *CommitmentHandlers) handlePostpone(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if c.IsRecurring() {
		respondError(w, http.StatusBadRequest, "recurring commitments have no deadline to postpone")
		return
	}

	var input struct {
		Deadline string `json:"deadline"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}
	if strings.TrimSpace(input.Deadline) == "" {
		input.Deadline = "tomorrow"
	}

	now := h.server.clock.Now()
	deadline := parseDeadline(input.Deadline, now)
	if err := h.server.commitments.Postpone(r.Context(), c.UserID, c.ID, deadline, now); err != nil {
		respondErr(w, err)
		return
	}

	updated, err := h.server.commitments.Get(r.Context(), c.UserID, c.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// load fetches the commitment named by the URL for the caller, writing the
// error response when it cannot.
func (h *CommitmentHandlers) load(w http.ResponseWriter, r *http.Request) (*core.Commitment, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	c, err := h.server.commitments.Get(r.Context(), userFrom(r), id)
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return c, true
}

// index refreshes the commitment's vectors. Failures are logged only.
func (h *CommitmentHandlers) index(ctx context.Context, c *core.Commitment) {
	if err := h.server.memory.IndexCommitment(ctx, c); err != nil {
		h.server.log.WithFields(map[string]interface{}{
			"commitment_id": c.ID,
			"error":         err,
		}).Warn("index commitment failed")
	}
}
