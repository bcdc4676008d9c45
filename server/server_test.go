package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbtest "github.com/teranos/zbulk/internal/testing"
	"github.com/teranos/zbulk/pulse/bulk"
)

const (
	echoJob  = "test.echo"
	blockJob = "test.block"
)

// testHandlers registers an echo job that fails rows with "fail": true and a
// job whose items wait until their context is cancelled
func testHandlers() *bulk.HandlerRegistry {
	reg := bulk.NewHandlerRegistry()
	reg.Register(bulk.HandlerFunc{
		JobType: echoJob,
		Build: func(context.Context, bulk.ProcessorRequest) (bulk.Processor, error) {
			return bulk.ProcessorFunc(func(_ context.Context, item bulk.Item) bulk.Outcome {
				if item.Data["fail"] == true {
					return bulk.Failed(item, bulk.FailureHTTP, "rejected")
				}
				return bulk.Succeeded(item, "echo "+item.Identifier, nil)
			}), nil
		},
	})
	reg.Register(bulk.HandlerFunc{
		JobType: blockJob,
		Build: func(context.Context, bulk.ProcessorRequest) (bulk.Processor, error) {
			return bulk.ProcessorFunc(func(ctx context.Context, item bulk.Item) bulk.Outcome {
				<-ctx.Done()
				return bulk.FailedWithError(item, ctx.Err())
			}), nil
		},
	})
	return reg
}

type testServer struct {
	srv    *BulkServer
	engine *bulk.Engine
	http   *httptest.Server
}

func newTestServer(t *testing.T, store *bulk.Store, origins ...string) *testServer {
	t.Helper()
	engine := bulk.NewEngine(bulk.EngineConfig{Handlers: testHandlers(), Store: store})
	return newTestServerWith(t, Config{Engine: engine, AllowedOrigins: origins})
}

func newTestServerWith(t *testing.T, cfg Config) *testServer {
	t.Helper()
	engine := cfg.Engine
	srv, err := New(cfg)
	require.NoError(t, err)

	go srv.Run()
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		hs.Close()
	})
	return &testServer{srv: srv, engine: engine, http: hs}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
}

// dial connects and consumes the hello message
func (ts *testServer) dial(t *testing.T) (*websocket.Conn, HelloMessage) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello HelloMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	return conn, hello
}

// inbound is the union of every message the server sends
type inbound struct {
	Type     string          `json:"type"`
	Command  string          `json:"command"`
	Message  string          `json:"message"`
	Result   *bulk.Outcome   `json:"result"`
	Summary  *bulk.Summary   `json:"summary"`
	Reason   string          `json:"reason"`
	Jobs     []bulk.Snapshot `json:"jobs"`
	RunID    string          `json:"run_id"`
	JobType  string          `json:"job_type"`
	Profile  string          `json:"profile_name"`
	Request  string          `json:"request_id"`
	Failures int             `json:"failures"`
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil reads messages up to and including the first of type want
func readUntil(t *testing.T, conn *websocket.Conn, want string) []inbound {
	t.Helper()
	var msgs []inbound
	for {
		msg := read(t, conn)
		msgs = append(msgs, msg)
		if msg.Type == want {
			return msgs
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func types(msgs []inbound) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestWebSocket_HelloListsJobTypes(t *testing.T) {
	ts := newTestServer(t, nil)
	_, hello := ts.dial(t)

	assert.NotEmpty(t, hello.ClientID)
	assert.Equal(t, []string{blockJob, echoJob}, hello.JobTypes)
}

func TestWebSocket_StartJobStreamsEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)

	send(t, conn, ClientMessage{
		Type:            MsgStartJob,
		ProfileName:     "acme",
		JobType:         echoJob,
		IdentifierField: "email",
		Items: []map[string]any{
			{"email": "a@x.com"},
			{"email": "b@x.com", "fail": true},
			{"email": "c@x.com"},
		},
	})

	msgs := readUntil(t, conn, string(bulk.EventComplete))
	require.Equal(t, []string{"bulk_result", "bulk_result", "bulk_result", "bulk_complete"}, types(msgs))

	assert.Equal(t, "a@x.com", msgs[0].Result.Identifier)
	assert.True(t, msgs[0].Result.Success)
	assert.False(t, msgs[1].Result.Success)
	assert.Equal(t, bulk.FailureHTTP, msgs[1].Result.FailureReason)
	assert.Equal(t, "c@x.com", msgs[2].Result.Identifier)

	done := msgs[3]
	assert.Equal(t, "acme", done.Profile)
	assert.Equal(t, echoJob, done.JobType)
	assert.Equal(t, bulk.Summary{Total: 3, Processed: 3, Succeeded: 2, Failed: 1}, *done.Summary)
}

func TestWebSocket_SetupErrorIsJobEvent(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)

	send(t, conn, ClientMessage{Type: MsgStartJob, ProfileName: "acme", JobType: "nope.create"})
	msg := read(t, conn)
	assert.Equal(t, string(bulk.EventError), msg.Type)
	assert.Contains(t, msg.Message, "nope.create")
}

func TestWebSocket_DuplicateStartIsRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)

	start := ClientMessage{
		Type:        MsgStartJob,
		RequestID:   "r-2",
		ProfileName: "acme",
		JobType:     blockJob,
		Items:       []map[string]any{{"id": 1}},
	}
	send(t, conn, start)
	send(t, conn, start)

	msg := read(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, MsgStartJob, msg.Command)
	assert.Equal(t, "r-2", msg.Request)
	assert.Contains(t, msg.Message, "already active")
}

func TestWebSocket_JobControl(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)

	send(t, conn, ClientMessage{
		Type:        MsgStartJob,
		ProfileName: "acme",
		JobType:     blockJob,
		Items:       []map[string]any{{"id": 1}, {"id": 2}},
	})
	control := func(action string) {
		send(t, conn, ClientMessage{Type: MsgJobControl, ProfileName: "acme", JobType: blockJob, Action: action})
	}

	control(ActionPause)
	paused := read(t, conn)
	assert.Equal(t, string(bulk.EventJobPaused), paused.Type)
	assert.Equal(t, bulk.PauseReasonUser, paused.Reason)

	control(ActionResume)
	assert.Equal(t, string(bulk.EventJobResumed), read(t, conn).Type)

	control(ActionEnd)
	ended := read(t, conn)
	assert.Equal(t, string(bulk.EventEnded), ended.Type)
	assert.Zero(t, ended.Summary.Succeeded)

	require.Eventually(t, func() bool { return ts.engine.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ControlOtherConnectionsJobIsIgnored(t *testing.T) {
	ts := newTestServer(t, nil)
	owner, _ := ts.dial(t)
	other, _ := ts.dial(t)

	send(t, owner, ClientMessage{Type: MsgStartJob, ProfileName: "acme", JobType: blockJob, Items: []map[string]any{{"id": 1}}})
	send(t, owner, ClientMessage{Type: MsgListJobs})
	require.Len(t, read(t, owner).Jobs, 1)

	send(t, other, ClientMessage{Type: MsgJobControl, ProfileName: "acme", JobType: blockJob, Action: ActionEnd})
	send(t, other, ClientMessage{Type: MsgListJobs, RequestID: "list"})
	jobs := read(t, other)
	assert.Equal(t, "jobs", jobs.Type)
	assert.Empty(t, jobs.Jobs)

	assert.Equal(t, 1, ts.engine.Registry().Len(), "the owner's job still runs")
}

func TestWebSocket_ListJobsReportsOwnJobs(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, hello := ts.dial(t)

	send(t, conn, ClientMessage{Type: MsgStartJob, ProfileName: "acme", JobType: blockJob, Items: []map[string]any{{"id": 1}}})
	send(t, conn, ClientMessage{Type: MsgListJobs, RequestID: "l-1"})

	msg := read(t, conn)
	assert.Equal(t, "jobs", msg.Type)
	assert.Equal(t, "l-1", msg.Request)
	require.Len(t, msg.Jobs, 1)
	assert.Equal(t, hello.ClientID, msg.Jobs[0].Key.ConnectionID)
	assert.Equal(t, bulk.StatusRunning, msg.Jobs[0].Status)
}

func TestWebSocket_DisconnectEndsJobs(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)

	send(t, conn, ClientMessage{Type: MsgStartJob, ProfileName: "acme", JobType: blockJob, Items: []map[string]any{{"id": 1}}})
	send(t, conn, ClientMessage{Type: MsgPing})
	require.Equal(t, "pong", read(t, conn).Type)
	require.Equal(t, 1, ts.engine.Registry().Len())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return ts.engine.Registry().Len() == 0 && ts.srv.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RejectedCommands(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Message, "malformed")

	send(t, conn, ClientMessage{Type: "upload"})
	msg = read(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "upload", msg.Command)

	send(t, conn, ClientMessage{Type: MsgJobControl, ProfileName: "acme", JobType: echoJob, Action: "explode"})
	msg = read(t, conn)
	assert.Contains(t, msg.Message, "explode")
}

func TestWebSocket_DelaySecondsAndCountdown(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)

	delay := 0.05
	countdown := false
	send(t, conn, ClientMessage{
		Type:         MsgStartJob,
		ProfileName:  "acme",
		JobType:      echoJob,
		Items:        []map[string]any{{"id": 1}, {"id": 2}},
		DelaySeconds: &delay,
		Countdown:    &countdown,
	})

	msgs := readUntil(t, conn, string(bulk.EventComplete))
	assert.Equal(t, []string{"bulk_result", "bulk_result", "bulk_complete"}, types(msgs))
}

func TestWebSocket_RejectsClientsOverLimit(t *testing.T) {
	engine := bulk.NewEngine(bulk.EngineConfig{Handlers: testHandlers()})
	ts := newTestServerWith(t, Config{Engine: engine, MaxClients: 1})
	first, _ := ts.dial(t)

	second, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	defer second.Close()

	// No hello: the first frame is the close
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assert.Equal(t, 1, ts.srv.ClientCount())

	send(t, first, ClientMessage{
		Type:        MsgStartJob,
		ProfileName: "acme",
		JobType:     echoJob,
		Items:       []map[string]any{{"name": "a"}},
	})
	msgs := readUntil(t, first, string(bulk.EventComplete))
	assert.Equal(t, []string{"bulk_result", "bulk_complete"}, types(msgs))
	assert.Zero(t, engine.Registry().Len())
}

func TestServer_AdmitAfterStopIsRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Stop(ctx))

	err := ts.srv.admit(&Client{id: "late"})
	assert.ErrorIs(t, err, errServerDraining)
	assert.Zero(t, ts.srv.ClientCount())
}

func TestServer_StopWhileClientsConnect(t *testing.T) {
	ts := newTestServer(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
			if err != nil {
				return
			}
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Stop(ctx))
	wg.Wait()
	assert.Zero(t, ts.srv.ClientCount())
}

func TestWebSocket_OriginCheck(t *testing.T) {
	ts := newTestServer(t, nil, "https://app.example.com")

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), http.Header{"Origin": {"https://app.example.com:8443"}})
	require.NoError(t, err)
	conn.Close()
}

func TestOriginMatches(t *testing.T) {
	tests := []struct {
		origin, allowed string
		want            bool
	}{
		{"http://localhost", "http://localhost", true},
		{"http://localhost:5173", "http://localhost", true},
		{"http://localhost.evil.com", "http://localhost", false},
		{"https://localhost:5173", "http://localhost", false},
		{"http://localhost:5174", "http://localhost:5173", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originMatches(tt.origin, tt.allowed), tt.origin)
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHTTP_HealthJobsHandlers(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := ts.dial(t)
	send(t, conn, ClientMessage{Type: MsgStartJob, ProfileName: "acme", JobType: blockJob, Items: []map[string]any{{"id": 1}}})
	send(t, conn, ClientMessage{Type: MsgPing})
	require.Equal(t, "pong", read(t, conn).Type)

	var health map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.http.URL+"/health", &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["clients"])
	assert.EqualValues(t, 1, health["active_jobs"])

	var jobs struct {
		Jobs []bulk.Snapshot `json:"jobs"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.http.URL+"/api/jobs", &jobs))
	require.Len(t, jobs.Jobs, 1)
	assert.Equal(t, blockJob, jobs.Jobs[0].Key.JobType)

	var handlers struct {
		Handlers []bulk.HandlerInfo `json:"handlers"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.http.URL+"/api/handlers", &handlers))
	assert.Len(t, handlers.Handlers, 2)

	resp, err := http.Post(ts.http.URL+"/api/jobs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTP_RunsWithoutStore(t *testing.T) {
	ts := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.http.URL+"/api/runs", nil))
}

func TestHTTP_RunHistory(t *testing.T) {
	store := bulk.NewStore(dbtest.CreateTestDB(t))
	ts := newTestServer(t, store)
	conn, _ := ts.dial(t)

	send(t, conn, ClientMessage{
		Type:        MsgStartJob,
		ProfileName: "acme",
		JobType:     echoJob,
		Items:       []map[string]any{{"id": 1}, {"id": 2, "fail": true}},
	})
	complete := readUntil(t, conn, string(bulk.EventComplete))
	runID := complete[len(complete)-1].RunID
	require.NotEmpty(t, runID)

	var runs struct {
		Runs []bulk.RunRecord `json:"runs"`
	}
	require.Eventually(t, func() bool {
		getJSON(t, ts.http.URL+"/api/runs?profile=acme&job_type="+echoJob+"&limit=5", &runs)
		return len(runs.Runs) == 1 && runs.Runs[0].Status == bulk.RunStatusComplete
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, runID, runs.Runs[0].ID)
	assert.Equal(t, 1, runs.Runs[0].Summary.Failed)

	var detail struct {
		Run      bulk.RunRecord `json:"run"`
		Outcomes []bulk.Outcome `json:"outcomes"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.http.URL+"/api/runs/"+runID, &detail))
	assert.Len(t, detail.Outcomes, 2)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.http.URL+"/api/runs/missing", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.http.URL+"/api/runs?limit=zero", nil))

	getJSON(t, ts.http.URL+"/api/runs?profile=other", &runs)
	assert.Empty(t, runs.Runs)
}

func TestHTTP_CORS(t *testing.T) {
	ts := newTestServer(t, nil, "http://localhost")

	req, err := http.NewRequest(http.MethodOptions, ts.http.URL+"/api/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ts.http.URL+"/api/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ServeAndStop(t *testing.T) {
	engine := bulk.NewEngine(bulk.EngineConfig{Handlers: testHandlers()})
	srv, err := New(Config{Engine: engine})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, <-served)
	assert.Equal(t, ServerStateStopped, srv.getState())
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
