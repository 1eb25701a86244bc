package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/agent"
	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/notifications"
	"github.com/quantumlife/companion/internal/proactive"
	"github.com/quantumlife/companion/internal/scheduler"
	"github.com/quantumlife/companion/internal/storage"
	"github.com/quantumlife/companion/internal/testutil"
)

// testServer creates a server over an in-memory database and a manual
// clock. opts may adjust the config before the server is built.
func testServer(t *testing.T, opts ...func(*Config)) (*Server, *storage.DB, *clock.Manual) {
	t.Helper()

	db := testutil.TestDB(t)
	clk := testutil.Clock()
	a, err := agent.New(agent.Config{DB: db, Clock: clk})
	require.NoError(t, err)

	cfg := Config{Agent: a, DB: db, Clock: clk}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv, db, clk
}

// do sends a request through the full router.
func do(t *testing.T, srv *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// =============================================================================
// Server Tests
// =============================================================================

func TestNew_RequiresComponents(t *testing.T) {
	db := testutil.TestDB(t)
	clk := testutil.Clock()
	a, err := agent.New(agent.Config{DB: db, Clock: clk})
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no agent", Config{DB: db, Clock: clk}},
		{"no db", Config{Agent: a, Clock: clk}},
		{"no clock", Config{Agent: a, DB: db}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, core.ErrMissingRequired)
		})
	}
}

func TestAPI_Health(t *testing.T) {
	srv, _, _ := testServer(t)

	rr := do(t, srv, "GET", "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decode[map[string]interface{}](t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["memory"])
}

func TestAPI_UserHeader(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusOK},
		{"numeric", "7", http.StatusOK},
		{"not a number", "alice", http.StatusBadRequest},
		{"zero", "0", http.StatusBadRequest},
		{"negative", "-3", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, "GET", "/api/v1/health", "", UserHeader, tt.header)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrCommitmentNotFound, http.StatusNotFound},
		{core.ErrRecordNotFound, http.StatusNotFound},
		{core.ErrInvalidInput, http.StatusBadRequest},
		{core.ErrInvalidStatus, http.StatusBadRequest},
		{core.ErrMissingRequired, http.StatusBadRequest},
		{core.ErrHabitExists, http.StatusConflict},
		{core.ErrClockNotRunning, http.StatusConflict},
		{core.ErrTransaction, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// =============================================================================
// Chat Tests
// =============================================================================

func TestAPI_Chat(t *testing.T) {
	srv, _, _ := testServer(t)

	rr := do(t, srv, "POST", "/api/v1/chat", `{"message":"hello there","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp agent.ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "hello there", resp.Message)
	assert.NotEmpty(t, resp.Response)
	assert.Equal(t, testutil.Now, resp.Timestamp.UTC())
	assert.NotNil(t, resp.Proactive)
	assert.NotEmpty(t, resp.ExecutionID)

	// The turn shows up in history and the debug log.
	rr = do(t, srv, "GET", "/api/v1/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[[]core.Conversation](t, rr)
	require.Len(t, history, 1)
	assert.Equal(t, "s1", history[0].SessionID)

	rr = do(t, srv, "GET", "/api/v1/debug/executions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	execs := decode[[]map[string]interface{}](t, rr)
	require.Len(t, execs, 1)
	assert.Equal(t, resp.ExecutionID, execs[0]["id"])

	rr = do(t, srv, "GET", "/api/v1/debug/executions/"+resp.ExecutionID, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, srv, "GET", "/api/v1/debug/executions/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_ChatRejectsBadInput(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":""}`},
		{"whitespace message", `{"message":"   "}`},
		{"no body", ``},
		{"invalid json", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, "POST", "/api/v1/chat", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestAPI_CheckIn(t *testing.T) {
	srv, _, _ := testServer(t)

	rr := do(t, srv, "POST", "/api/v1/checkin", `{"mood":4,"notes":"good day"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	checkIn := decode[core.DailyCheckIn](t, rr)
	assert.Equal(t, "2025-03-12", checkIn.CheckInDate)

	rr = do(t, srv, "POST", "/api/v1/checkin", `{"mood":2}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, "POST", "/api/v1/checkin", `{"mood":9}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// Scheduler Tests
// =============================================================================

func TestAPI_SchedulerDisabled(t *testing.T) {
	srv, _, _ := testServer(t)

	rr := do(t, srv, "GET", "/api/v1/scheduler", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAPI_Scheduler(t *testing.T) {
	var sched *scheduler.Scheduler
	srv, db, clk := testServer(t, func(cfg *Config) {
		sched = scheduler.NewScheduler(cfg.Clock, scheduler.DefaultConfig())
		cfg.Scheduler = sched
		svc := proactive.NewService(cfg.DB, cfg.Clock, nil, proactive.DefaultServiceConfig())
		require.NoError(t, svc.RegisterTasks(sched))
		cfg.Proactive = svc
	})

	rr := do(t, srv, "GET", "/api/v1/scheduler", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Stats scheduler.Stats  `json:"stats"`
		Tasks []scheduler.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Stats.TotalTasks)
	require.Len(t, body.Tasks, 3)

	// A queued follow-up goes out when the delivery sweep runs.
	due := clk.Now().Add(-time.Minute)
	msg := &core.ProactiveMessage{
		UserID:       core.DefaultUserID,
		MessageType:  core.ProactiveFollowUp,
		Content:      "How did the interview go?",
		ScheduledFor: &due,
		CreatedAt:    due,
	}
	require.NoError(t, storage.NewProactiveStore(db).Create(testutil.TestContext(t), msg))

	rr = do(t, srv, "POST", "/api/v1/scheduler/"+proactive.TaskDelivery+"/run", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	task := decode[scheduler.Task](t, rr)
	assert.Equal(t, int64(1), task.RunCount)

	got, err := storage.NewProactiveStore(db).Get(testutil.TestContext(t), core.DefaultUserID, msg.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.SentAt)

	rr = do(t, srv, "POST", "/api/v1/scheduler/nope/run", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// WebSocket Tests
// =============================================================================

func TestAPI_WebSocketDisabled(t *testing.T) {
	srv, _, _ := testServer(t)

	rr := do(t, srv, "GET", "/api/v1/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAPI_WebSocketStreamsUserMessages(t *testing.T) {
	hub := notifications.NewHub()
	srv, _, _ := testServer(t, func(cfg *Config) { cfg.Hub = hub })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	header := http.Header{}
	header.Set(UserHeader, "3")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	read := func() notifications.Event {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev notifications.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}
	require.Equal(t, notifications.EventHello, read().Type)

	hub.Deliver(&core.ProactiveMessage{ID: 1, UserID: 2, Content: "not yours"})
	hub.Deliver(&core.ProactiveMessage{ID: 2, UserID: 3, Content: "Time for a walk?"})

	ev := read()
	require.NotNil(t, ev.Payload)
	assert.Equal(t, "Time for a walk?", ev.Payload.Content)
}
