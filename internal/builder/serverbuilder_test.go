package builder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FreePeak/golang-mcp-gateway/internal/config"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
	"github.com/FreePeak/golang-mcp-gateway/internal/testutil"
)

// MockToolExecutor is a mock for the ToolExecutor interface
type MockToolExecutor struct {
	mock.Mock
}

func (m *MockToolExecutor) ListTools(ctx context.Context) ([]shared.Tool, error) {
	args := m.Called(ctx)
	tools, _ := args.Get(0).([]shared.Tool)
	return tools, args.Error(1)
}

func (m *MockToolExecutor) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	args := m.Called(ctx, name, arguments)
	return args.Get(0), args.Error(1)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func TestBuild(t *testing.T) {
	exec := new(MockToolExecutor)
	exec.On("ListTools", mock.Anything).Return([]shared.Tool{{Name: "lookup"}}, nil).Once()

	gw, err := NewServerBuilder(testConfig()).
		WithExecutor(exec).
		WithName("mail-gateway").
		WithVersion("1.2.3").
		WithLogger(logging.NewNop()).
		Build(context.Background())
	require.NoError(t, err)
	defer gw.Close()

	exec.AssertExpectations(t)
	assert.Equal(t, "mail-gateway", gw.Config.ServerName)
	assert.Equal(t, 1, gw.Catalog.Len())
	assert.NotNil(t, gw.Metrics)
	assert.NotNil(t, gw.Stdio)
	assert.Equal(t, "/mcp", gw.Streamable.Endpoint())
	assert.Equal(t, "/sse", gw.SSE.CompleteSsePath())

	rec := httptest.NewRecorder()
	gw.HTTP.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Tools   int    `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "mail-gateway", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, 1, info.Tools)
}

func TestBuildWithBasePathAndNoMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.BasePath = "/gw"
	cfg.MetricsEnabled = false

	gw, err := NewServerBuilder(cfg).
		WithExecutor(testutil.NewMockExecutor()).
		WithLogger(logging.NewNop()).
		Build(context.Background())
	require.NoError(t, err)

	assert.Nil(t, gw.Metrics)
	assert.Equal(t, "/gw/mcp", gw.Streamable.Endpoint())
	assert.Equal(t, "/gw/message", gw.SSE.CompleteMessagePath())

	rec := httptest.NewRecorder()
	gw.HTTP.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gw/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildErrors(t *testing.T) {
	_, err := NewServerBuilder(testConfig()).WithLogger(logging.NewNop()).Build(context.Background())
	assert.EqualError(t, err, "no tool executor configured")

	cfg := testConfig()
	cfg.MaxInFlightCalls = 0
	_, err = NewServerBuilder(cfg).WithExecutor(testutil.NewMockExecutor()).Build(context.Background())
	assert.EqualError(t, err, "max_inflight_calls must be positive")

	exec := new(MockToolExecutor)
	exec.On("ListTools", mock.Anything).Return(nil, errors.New("backend down"))
	_, err = NewServerBuilder(testConfig()).WithExecutor(exec).WithLogger(logging.NewNop()).Build(context.Background())
	assert.ErrorContains(t, err, "backend down")

	cfg = testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1"
	_, err = NewServerBuilder(cfg).
		WithExecutor(testutil.NewMockExecutor()).
		WithLogger(logging.NewNop()).
		Build(context.Background())
	assert.Error(t, err)
}

func TestBuildWithRedisDirectory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	gw, err := NewServerBuilder(cfg).
		WithExecutor(testutil.NewMockExecutor()).
		WithLogger(logging.NewNop()).
		Build(context.Background())
	require.NoError(t, err)
	defer gw.Close()

	sess := gw.Manager.Create(domain.TransportStreamable, testutil.NewMockOutbound())
	assert.True(t, mr.Exists("mcpgw:session:"+sess.ID()))
	assert.Equal(t, cfg.DirectoryTTL(), mr.TTL("mcpgw:session:"+sess.ID()))

	sess.Close(session.ReasonClientClose)
	assert.False(t, mr.Exists("mcpgw:session:"+sess.ID()))
}

func TestServeStdio(t *testing.T) {
	gw, err := NewServerBuilder(testConfig()).
		WithExecutor(testutil.NewMockExecutor()).
		WithLogger(logging.NewNop()).
		Build(context.Background())
	require.NoError(t, err)

	var out strings.Builder
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	require.NoError(t, gw.ServeStdio(context.Background(), in, &out))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, strings.TrimSpace(out.String()))
	assert.Equal(t, 0, gw.Manager.Count())
}

func TestServeStopsOnCancel(t *testing.T) {
	gw, err := NewServerBuilder(testConfig()).
		WithExecutor(testutil.NewMockExecutor()).
		WithLogger(logging.NewNop()).
		Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
