// Package server_test exercises the HTTP server against a real engine backed
// by in-memory SQLite.
package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/llm"
	"github.com/scrypster/engram/internal/server"
	"github.com/scrypster/engram/internal/storage/chromem"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/internal/storage/tiered"
	"github.com/scrypster/engram/pkg/types"
)

// keywordExtractor remembers "my <key> is <value>" statements.
type keywordExtractor struct{}

func (keywordExtractor) Extract(_ context.Context, message string, turn int) types.Extraction {
	fields := strings.Fields(strings.ToLower(strings.TrimSuffix(message, ".")))
	if len(fields) != 4 || fields[0] != "my" || fields[2] != "is" {
		return types.Extraction{}
	}
	m := types.NewMemory(types.KindFact, fields[1], fields[3], turn, 0.9)
	return types.Extraction{Candidates: []*types.Memory{m}, FilteredIn: []*types.Memory{m}}
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, _, message string, _ []types.Message) string {
	return "you said: " + message
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	durable, err := sqlite.NewMemoryStore(":memory:", nil)
	require.NoError(t, err)
	index, err := chromem.NewIndex(llm.NewHashEmbedder(0))
	require.NoError(t, err)
	store, err := tiered.New(context.Background(), durable, index, tiered.DefaultConfig())
	require.NoError(t, err)

	eng, err := engine.New(store, durable.Turns(), keywordExtractor{}, echoGenerator{}, engine.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = eng.Close()
		_ = store.Close()
	})
	return eng
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.RateLimit = 0
	return cfg
}

// startTestServer starts a server on a random port and returns its base URL.
func startTestServer(t *testing.T, cfg *config.Config) (string, *server.Server) {
	t.Helper()
	srv := server.New(cfg, newTestEngine(t), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	addr, err := srv.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		<-srv.Done()
	})
	return "http://" + addr, srv
}

func request(t *testing.T, method, url, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_HealthEndpoint(t *testing.T) {
	base, _ := startTestServer(t, testConfig())

	resp := request(t, http.MethodGet, base+"/api/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"healthy","version":"`+server.Version+`"}`, string(body))
}

func TestServer_SecurityHeaders(t *testing.T) {
	base, _ := startTestServer(t, testConfig())

	resp := request(t, http.MethodGet, base+"/api/stats", "", "")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestServer_ChatRemembersAcrossTurns(t *testing.T) {
	base, _ := startTestServer(t, testConfig())

	resp := request(t, http.MethodPost, base+"/api/chat", `{"message":"my city is Lisbon"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first types.TurnResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	assert.Equal(t, 1, first.Turn)
	assert.Equal(t, "you said: my city is Lisbon", first.Response)
	require.Len(t, first.MemoriesAdded, 1)

	resp = request(t, http.MethodGet, base+"/api/memories?kind=fact", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Memories []*types.Memory `json:"memories"`
		Total    int             `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "lisbon", list.Memories[0].Value)

	resp = request(t, http.MethodGet, base+"/api/turns/1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = request(t, http.MethodGet, base+"/api/turns/2", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RememberStatsReset(t *testing.T) {
	base, _ := startTestServer(t, testConfig())

	resp := request(t, http.MethodPost, base+"/api/memories", `{"kind":"constraint","key":"diet","value":"vegan"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = request(t, http.MethodGet, base+"/api/stats", "", "")
	var stats engine.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalMemories)
	assert.Equal(t, 1, stats.ByKind["constraint"])

	resp = request(t, http.MethodPost, base+"/api/reset", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = request(t, http.MethodGet, base+"/api/stats", "", "")
	stats = engine.Stats{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Zero(t, stats.TotalMemories)
}

func TestServer_RequiresTokenWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Security.APIToken = "secret"
	base, _ := startTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, request(t, http.MethodGet, base+"/api/stats", "", "").StatusCode)
	assert.Equal(t, http.StatusOK, request(t, http.MethodGet, base+"/api/stats", "", "secret").StatusCode)
	assert.Equal(t, http.StatusOK, request(t, http.MethodGet, base+"/api/health", "", "").StatusCode,
		"health is always public")
}

func TestServer_MethodRouting(t *testing.T) {
	base, _ := startTestServer(t, testConfig())

	assert.Equal(t, http.StatusMethodNotAllowed, request(t, http.MethodGet, base+"/api/chat", "", "").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, request(t, http.MethodDelete, base+"/api/memories", "", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, request(t, http.MethodGet, base+"/api/unknown", "", "").StatusCode)
}

func TestServer_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = 1
	cfg.Server.RateBurst = 2
	base, _ := startTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, request(t, http.MethodGet, base+"/api/health", "", "").StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv := server.New(testConfig(), newTestEngine(t), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	addr, err := srv.Start(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get("http://" + addr + "/api/health")
	assert.Error(t, err)
}
