package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/embedder"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/search"
	"github.com/soundprediction/recall/pkg/server/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// fixedLLM extracts one triple from every extraction prompt and answers
// everything else with a summary.
type fixedLLM struct{}

func (fixedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "<CONTENT>") {
		return `{"triples": [{"subject": "Alice", "subject_type": "Person", "predicate": "works_at",
			"object": "Acme", "object_type": "Organization", "fact": "Alice works at Acme"}]}`, nil
	}
	return `{"overview": "Works at Acme", "themes": ["work"], "summary": "Alice talked about Acme"}`, nil
}

func newTestServer(t *testing.T) (*Server, *recall.Client) {
	t.Helper()
	queue, err := ingest.OpenSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	client, err := recall.NewClient(
		driver.NewMemoryStore(driver.Options{}, nil),
		fixedLLM{},
		embedder.NewHashingEmbedder(128),
		&recall.Config{Queue: queue},
		nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close(context.Background())
		queue.Close()
	})

	s := New(testConfig(), client, nil)
	s.Setup()
	return s, client
}

func do(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-Workspace-ID", "w1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestNew(t *testing.T) {
	cfg := testConfig()

	server := New(cfg, nil, nil)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.NotNil(t, server.logger)
}

func TestServerConfig(t *testing.T) {
	tests := []struct {
		name         string
		host         string
		port         int
		expectedAddr string
	}{
		{"localhost:8080", "localhost", 8080, "localhost:8080"},
		{"0.0.0.0:3000", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"127.0.0.1:9090", "127.0.0.1", 9090, "127.0.0.1:9090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Server: config.ServerConfig{Host: tt.host, Port: tt.port}}

			server := New(cfg, nil, nil)
			server.Setup()

			require.NotNil(t, server.router)
			assert.Equal(t, tt.expectedAddr, server.server.Addr)
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := New(testConfig(), nil, nil)
	server.Setup()

	tests := []struct {
		path   string
		status int
	}{
		{"/health", http.StatusOK},
		{"/healthcheck", http.StatusOK},
		{"/live", http.StatusOK},
		// Without a client the dependency checks fail.
		{"/ready", http.StatusServiceUnavailable},
		{"/health/detailed", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestReadyWithClient(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	server := New(testConfig(), nil, nil)
	server.Setup()

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Workspace-ID")
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.Server.CORSOrigins = []string{"https://app.example.com"}
	server := New(cfg, nil, nil)
	server.Setup()

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.example.com", "https://app.example.com"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestAPIRequiresTenantHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"x"}`))
	req.Header.Set("X-User-ID", "alice")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.CodeValidation, resp.Code)
}

func TestIngestSearchDelete(t *testing.T) {
	s, client := newTestServer(t)
	ctx := context.Background()

	w := do(s, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{EpisodeBody: "Alice works at Acme", Source: "chat", SessionID: "chat-1"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var queued dto.QueueItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &queued))
	require.NotEmpty(t, queued.QueueItemID)

	_, err := client.Orchestrator().RunOnce(ctx)
	require.NoError(t, err)

	w = do(s, http.MethodGet, "/api/v1/ingest/"+queued.QueueItemID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var item ingest.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	require.Equal(t, ingest.StatusCompleted, item.Status, item.Error)
	require.Len(t, item.Output.EpisodeUUIDs, 1)

	w = do(s, http.MethodPost, "/api/v1/ingest/"+queued.QueueItemID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(s, http.MethodPost, "/api/v1/search", dto.SearchRequest{Query: "Alice works at Acme"})
	require.Equal(t, http.StatusOK, w.Code)
	var res search.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Facts)
	assert.Equal(t, "Alice works at Acme", res.Facts[0].Triple.Statement.Fact)

	episodeID := item.Output.EpisodeUUIDs[0]
	w = do(s, http.MethodGet, "/api/v1/episode/"+episodeID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodDelete, "/api/v1/episode/"+episodeID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deleted driver.DeleteResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deleted))
	assert.Equal(t, 1, deleted.StatementsDeleted)

	w = do(s, http.MethodDelete, "/api/v1/episode/"+episodeID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodGet, "/api/v1/ingest/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestValidation(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{Source: "chat"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("{not json"))
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-Workspace-ID", "w1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpacesAndJobs(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/v1/spaces", dto.SpaceRequest{Name: "Career"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(s, http.MethodGet, "/api/v1/spaces", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Spaces []json.RawMessage `json:"spaces"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Spaces, 1)

	w = do(s, http.MethodPut, "/api/v1/spaces/assignments", dto.AssignmentRequest{Intent: "shuffle"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPost, "/api/v1/persona/synthesize", dto.SynthesizeRequest{Mode: "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodGet, "/api/v1/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodDelete, "/api/v1/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompactUnknownSession(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/v1/sessions/nothing-here/compact", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestStatusStream(t *testing.T) {
	s, client := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	w := do(s, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{EpisodeBody: "Alice works at Acme", Source: "chat"})
	require.Equal(t, http.StatusAccepted, w.Code)
	var queued dto.QueueItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &queued))

	header := http.Header{}
	header.Set("X-User-ID", "alice")
	header.Set("X-Workspace-ID", "w1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ingest/" + queued.QueueItemID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var ev ingest.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, ingest.StatusPending, ev.Status)

	_, err = client.Orchestrator().RunOnce(context.Background())
	require.NoError(t, err)

	var seen []ingest.Status
	for !ev.Status.Terminal() {
		require.NoError(t, conn.ReadJSON(&ev))
		seen = append(seen, ev.Status)
	}
	assert.Equal(t, []ingest.Status{ingest.StatusProcessing, ingest.StatusCompleted}, seen)
	require.NotNil(t, ev.Output)

	// The server closes the stream after the terminal event.
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestIngestStreamUnknownItem(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	header := http.Header{}
	header.Set("X-User-ID", "alice")
	header.Set("X-Workspace-ID", "w1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ingest/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
