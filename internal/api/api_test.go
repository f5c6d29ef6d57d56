package api

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/orchestrator"
	"github.com/dusk-indust/loanflow/internal/service"
	"github.com/dusk-indust/loanflow/internal/session"
	"github.com/dusk-indust/loanflow/internal/stages"
	"github.com/dusk-indust/loanflow/internal/status"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newTestRouterWithLogger(t, quietLogger())
}

func newTestRouterWithLogger(t *testing.T, log *slog.Logger) *gin.Engine {
	t.Helper()
	agents, err := stages.Builtins(orchestrator.DefaultStages())
	require.NoError(t, err)
	p, err := orchestrator.NewPipeline(orchestrator.DefaultStages(), agents,
		orchestrator.WithLogger(quietLogger()))
	require.NoError(t, err)
	svc := service.New(session.NewMemStore(), p, service.WithLogger(quietLogger()))
	return NewRouter(svc, log)
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	return decode[service.Turn](t, w).Session.ID
}

func say(t *testing.T, r http.Handler, id, msg string) service.Turn {
	t.Helper()
	body, err := json.Marshal(MessageRequest{Message: msg})
	require.NoError(t, err)
	w := do(t, r, http.MethodPost, "/api/sessions/"+id+"/messages", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[service.Turn](t, w)
}

func completeIntake(t *testing.T, r http.Handler, id string) {
	t.Helper()
	for _, m := range []string{"hi", "$300,000", "20", "$120,000",
		`{"name":"Jane Doe","email":"jane@example.com","idLast4":"1234"}`} {
		say(t, r, id, m)
	}
}

// sseFrame is one parsed Server-Sent Event.
type sseFrame struct {
	event string
	data  string
}

func readFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var (
		frames []sseFrame
		cur    sseFrame
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "trace-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-42", w.Header().Get(RequestIDHeader))
}

func TestCreateAndGetSession(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)

	turn := decode[service.Turn](t, w)
	assert.Equal(t, conversation.StateGreeting, turn.Response.NextStep)
	assert.NotEmpty(t, turn.Response.Message)

	w = do(t, r, http.MethodGet, "/api/sessions/"+turn.Session.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, turn.Session.ID, decode[session.Session](t, w).ID)
}

func TestGetUnknownSession(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode[map[string]string](t, w)
	assert.Contains(t, body["error"], "not found")
	assert.NotEmpty(t, body["request_id"])
}

func TestSendMessage(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)

	say(t, r, id, "hello")
	turn := say(t, r, id, "350k")
	assert.Equal(t, conversation.StateCollectingDownPayment, turn.Response.NextStep)
	assert.Equal(t, 25, turn.Response.CompletionPercentage)
	require.NotNil(t, turn.Response.CollectedData.HomePrice)
	assert.Equal(t, 350000.0, *turn.Response.CollectedData.HomePrice)
}

func TestSendMessage_BadBody(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)

	w := do(t, r, http.MethodPost, "/api/sessions/"+id+"/messages", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcess_NotReady(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)

	w := do(t, r, http.MethodPost, "/api/sessions/"+id+"/process", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProcess_StreamsUpdates(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)
	completeIntake(t, r, id)

	w := do(t, r, http.MethodPost, "/api/sessions/"+id+"/process", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := readFrames(t, w.Body.String())
	require.Len(t, frames, 10)

	var progress []int
	for _, f := range frames[:9] {
		assert.Empty(t, f.event)
		var u orchestrator.ProcessingUpdate
		require.NoError(t, json.Unmarshal([]byte(f.data), &u))
		progress = append(progress, u.Progress)
	}
	assert.Equal(t, []int{0, 25, 25, 50, 50, 75, 75, 100, 100}, progress)

	var final orchestrator.ProcessingUpdate
	require.NoError(t, json.Unmarshal([]byte(frames[8].data), &final))
	require.NotNil(t, final.AssessmentData)
	assert.Equal(t, "approved", final.AssessmentData.Decision.Status)

	assert.Equal(t, "done", frames[9].event)
	assert.Contains(t, frames[9].data, `"status":"completed"`)

	// The decision is on the session and a second run is refused.
	w = do(t, r, http.MethodGet, "/api/sessions/"+id, "")
	sess := decode[session.Session](t, w)
	assert.True(t, sess.Processed)
	require.NotNil(t, sess.Decision)
	assert.Equal(t, "approved", sess.Decision.Status)

	w = do(t, r, http.MethodPost, "/api/sessions/"+id+"/process", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

// closingRecorder fails every write that starts the "done" event, like a
// client that hung up after the last update.
type closingRecorder struct {
	*httptest.ResponseRecorder
}

func (w closingRecorder) Write(p []byte) (int, error) {
	if strings.HasPrefix(string(p), "event: done") {
		return 0, io.ErrClosedPipe
	}
	return w.ResponseRecorder.Write(p)
}

func TestProcess_DoneWriteFailureIsLogged(t *testing.T) {
	var buf strings.Builder
	r := newTestRouterWithLogger(t, slog.New(slog.NewTextHandler(&buf,
		&slog.HandlerOptions{Level: slog.LevelDebug})))
	id := createSession(t, r)
	completeIntake(t, r, id)

	w := closingRecorder{httptest.NewRecorder()}
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/process", nil))

	assert.Len(t, readFrames(t, w.Body.String()), 9)
	assert.Contains(t, buf.String(), "client went away before done event")
	assert.Contains(t, buf.String(), "closed pipe")
}

func TestResetListDelete(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)
	createSession(t, r)
	say(t, r, id, "hi")
	say(t, r, id, "200000")

	w := do(t, r, http.MethodPost, "/api/sessions/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	turn := decode[service.Turn](t, w)
	assert.Equal(t, conversation.StateGreeting, turn.Session.State)
	assert.Nil(t, turn.Session.Data.HomePrice)

	w = do(t, r, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]session.Session](t, w)["sessions"], 2)

	w = do(t, r, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusAndStats(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)
	createSession(t, r)
	say(t, r, id, "hi")
	say(t, r, id, "$300,000")

	w := do(t, r, http.MethodGet, "/api/sessions/"+id+"/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[status.SessionStatus](t, w)
	assert.Equal(t, "collecting_down_payment", st.State)
	assert.Equal(t, 2, st.NextStep)
	assert.True(t, st.Steps[0].Complete)

	w = do(t, r, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[status.Summary](t, w)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.ByState["greeting"])
	assert.Equal(t, 1, sum.ByState["collecting_down_payment"])
}

func TestExport(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r)
	completeIntake(t, r, id)
	do(t, r, http.MethodPost, "/api/sessions/"+id+"/process", "")

	w := do(t, r, http.MethodGet, "/api/sessions/"+id+"/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	body := decode[map[string]any](t, w)
	assert.Equal(t, "approved", body["decision"].(map[string]any)["status"])

	w = do(t, r, http.MethodGet, "/api/sessions/"+id+"/export?format=markdown", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "**approved**")

	w = do(t, r, http.MethodGet, "/api/sessions/"+id+"/export?format=mermaid", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "class ready_for_processing current")

	w = do(t, r, http.MethodGet, "/api/sessions/"+id+"/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodGet, "/api/sessions/missing/export", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(quietLogger()))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := do(t, r, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, w.Header().Get(RequestIDHeader), body["request_id"])
}

func TestRequestLogger(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestID(), RequestLogger(log))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	do(t, r, http.MethodGet, "/ok", "")
	do(t, r, http.MethodGet, "/missing", "")

	out := buf.String()
	assert.Contains(t, out, "level=INFO msg=\"request completed\" status=200")
	assert.Contains(t, out, "level=WARN msg=\"request completed\" status=404")
}
