package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/storage"
	"github.com/quantumlife/companion/internal/testutil"
)

// seedMessage stores a proactive message. A nil sentAt leaves it queued.
func seedMessage(t *testing.T, db *storage.DB, content string, scheduled time.Time, sentAt *time.Time) *core.ProactiveMessage {
	t.Helper()
	m := &core.ProactiveMessage{
		UserID:       core.DefaultUserID,
		MessageType:  core.ProactiveFollowUp,
		Content:      content,
		ScheduledFor: &scheduled,
		SentAt:       sentAt,
		CreatedAt:    scheduled,
	}
	require.NoError(t, storage.NewProactiveStore(db).Create(testutil.TestContext(t), m))
	return m
}

// =============================================================================
// Proactive Tests
// =============================================================================

func TestProactive_ListAndRespond(t *testing.T) {
	srv, db, clk := testServer(t)

	sent := clk.Now().Add(-2 * time.Hour)
	stale := clk.Now().Add(-30 * time.Hour)
	open := seedMessage(t, db, "How did the call go?", sent, &sent)
	seedMessage(t, db, "Old question", stale, &stale)
	queued := seedMessage(t, db, "Check in later", clk.Now().Add(3*time.Hour), nil)

	rr := do(t, srv, "GET", "/api/v1/proactive", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[proactiveList](t, rr)
	require.Len(t, list.Pending, 1)
	assert.Equal(t, queued.ID, list.Pending[0].ID)
	require.Len(t, list.Unanswered, 1)
	assert.Equal(t, open.ID, list.Unanswered[0].ID)

	path := fmt.Sprintf("/api/v1/proactive/%d/respond", open.ID)
	rr = do(t, srv, "POST", path, `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, "POST", path, `{"content":"It went well"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	answered := decode[core.ProactiveMessage](t, rr)
	assert.True(t, answered.UserResponded)
	assert.Equal(t, "It went well", answered.ResponseContent)
	require.NotNil(t, answered.RespondedAt)
	assert.Equal(t, testutil.Now, answered.RespondedAt.UTC())

	rr = do(t, srv, "POST", path, `{"content":"again"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, "GET", "/api/v1/proactive", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[proactiveList](t, rr).Unanswered)
}

func TestProactive_RespondErrors(t *testing.T) {
	srv, db, clk := testServer(t)
	queued := seedMessage(t, db, "Later", clk.Now().Add(time.Hour), nil)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"not sent yet", fmt.Sprintf("/api/v1/proactive/%d/respond", queued.ID), "1", http.StatusConflict},
		{"other user", fmt.Sprintf("/api/v1/proactive/%d/respond", queued.ID), "2", http.StatusNotFound},
		{"unknown id", "/api/v1/proactive/999/respond", "1", http.StatusNotFound},
		{"bad id", "/api/v1/proactive/x/respond", "1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, "POST", tt.path, `{"content":"ok"}`, UserHeader, tt.header)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestProactive_EmptyListsAreArrays(t *testing.T) {
	srv, _, _ := testServer(t)

	rr := do(t, srv, "GET", "/api/v1/proactive", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"pending":[],"unanswered":[]}`, rr.Body.String())
}

// =============================================================================
// Debug Time Tests
// =============================================================================

func TestDebugTime_Disabled(t *testing.T) {
	srv, _, _ := testServer(t)

	rr := do(t, srv, "GET", "/api/v1/debug/time", "")
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[timeStatus](t, rr)
	assert.False(t, st.Enabled)
	assert.False(t, st.Running)
	assert.Equal(t, testutil.Now, st.FakeNow.UTC())

	for _, action := range []string{"start", "stop", "multiplier", "jump"} {
		rr = do(t, srv, "POST", "/api/v1/debug/time/"+action, `{}`)
		assert.Equal(t, http.StatusConflict, rr.Code, action)
	}
}

func TestDebugTime_Control(t *testing.T) {
	fake := clock.NewAccelerated()
	srv, _, _ := testServer(t, func(cfg *Config) {
		cfg.Clock = fake
		cfg.FakeClock = fake
	})

	// Changing speed or jumping needs running fake time.
	rr := do(t, srv, "POST", "/api/v1/debug/time/jump", `{"advance":"1h"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, "POST", "/api/v1/debug/time/start", `{"fake_start_time":"2025-03-12T09:00:00Z","time_multiplier":60}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	st := decode[timeStatus](t, rr)
	assert.True(t, st.Enabled)
	assert.True(t, st.Running)
	assert.Equal(t, 60.0, st.Multiplier)
	assert.Equal(t, 1.0, st.FakeMinutesPerSecond)

	start := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	rr = do(t, srv, "POST", "/api/v1/debug/time/jump", `{"advance":"48h"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	st = decode[timeStatus](t, rr)
	assert.False(t, st.FakeNow.Before(start.Add(48*time.Hour)))

	rr = do(t, srv, "POST", "/api/v1/debug/time/jump", `{"target_time":"2025-04-01"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "2025-04-01", core.DateOf(fake.Now().UTC()))

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"zero multiplier", "multiplier", `{"multiplier":0}`, http.StatusBadRequest},
		{"new multiplier", "multiplier", `{"multiplier":3600}`, http.StatusOK},
		{"jump without target", "jump", `{}`, http.StatusBadRequest},
		{"jump bad duration", "jump", `{"advance":"soon"}`, http.StatusBadRequest},
		{"jump bad time", "jump", `{"target_time":"next tuesday"}`, http.StatusBadRequest},
		{"start negative", "start", `{"time_multiplier":-1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, "POST", "/api/v1/debug/time/"+tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
	assert.Equal(t, 3600.0, fake.Multiplier())

	rr = do(t, srv, "POST", "/api/v1/debug/time/stop", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[timeStatus](t, rr).Running)
	assert.False(t, fake.Running())
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2025-03-12T09:30:00Z", time.Date(2025, 3, 12, 9, 30, 0, 0, time.UTC), false},
		{"2025-03-12T09:30:00", time.Date(2025, 3, 12, 9, 30, 0, 0, time.UTC), false},
		{"2025-03-12 18:45", time.Date(2025, 3, 12, 18, 45, 0, 0, time.UTC), false},
		{"2025-03-12", time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), false},
		{"soon", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in, time.UTC)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
