package server_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/server"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
	"github.com/FreePeak/golang-mcp-gateway/internal/testutil"
	"github.com/FreePeak/golang-mcp-gateway/internal/usecases"
)

const waitTimeout = 2 * time.Second

type gateway struct {
	manager  *session.Manager
	exchange *server.Exchange
	exec     *testutil.MockExecutor
	metrics  *server.Metrics
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	exec := testutil.NewMockExecutor()
	catalog, err := usecases.NewCatalog(context.Background(), exec)
	require.NoError(t, err)

	metrics := server.NewMetrics()
	logger := logging.NewNop()
	dispatcher := usecases.NewDispatcher(usecases.DispatcherConfig{
		ServerInfo: shared.Implementation{Name: "mcp-gateway", Version: "test"},
		Executor:   exec,
		Catalog:    catalog,
		Logger:     logger,
		Observer:   metrics,
	})
	manager := session.NewManager(session.Config{
		DrainTimeout: time.Second,
		Logger:       logger,
		Observer:     metrics,
	})
	t.Cleanup(func() { manager.CloseAll(session.ReasonShutdown) })

	return &gateway{
		manager:  manager,
		exchange: server.NewExchange(dispatcher, logger, metrics),
		exec:     exec,
		metrics:  metrics,
	}
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func parseResponse(t *testing.T, data string) rpcResponse {
	t.Helper()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal([]byte(data), &resp), "frame: %s", data)
	require.Equal(t, "2.0", resp.JSONRPC)
	return resp
}
