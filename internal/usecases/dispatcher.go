// Package usecases implements request dispatch for the gateway.
package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/handler"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
)

// Observer receives one event per dispatched call. code is zero on success.
type Observer interface {
	ObserveCall(method string, code int, elapsed time.Duration)
}

// CallLimiter bounds concurrent tool executions for a session.
type CallLimiter interface {
	AcquireCall(ctx context.Context) (release func(), err error)
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	ServerInfo   shared.Implementation
	Instructions string
	Executor     domain.ToolExecutor
	Catalog      *Catalog
	// CallTimeout bounds a single tool execution. Zero means no limit.
	CallTimeout time.Duration
	Logger      *logging.Logger
	Observer    Observer
}

// Dispatcher routes decoded requests through the method registry and turns
// every outcome into at most one response.
type Dispatcher struct {
	registry     *Registry
	catalog      *Catalog
	executor     domain.ToolExecutor
	serverInfo   shared.Implementation
	instructions string
	callTimeout  time.Duration
	logger       *logging.Logger
	observer     Observer
}

// NewDispatcher creates a dispatcher with the standard method table.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		catalog:      config.Catalog,
		executor:     config.Executor,
		serverInfo:   config.ServerInfo,
		instructions: config.Instructions,
		callTimeout:  config.CallTimeout,
		logger:       config.Logger,
		observer:     config.Observer,
	}
	if d.logger == nil {
		d.logger = logging.Default()
	}

	d.registry = NewRegistry(map[string]handler.RequestHandler{
		shared.MethodInitialize:        d.initialize,
		shared.MethodPing:              d.ping,
		shared.MethodListTools:         d.listTools,
		shared.MethodCallTool:          d.callTool,
		shared.NotificationInitialized: d.ignore,
		shared.NotificationCancelled:   d.cancelled,
	}, nil)
	return d
}

// Dispatch runs req and returns its response, or nil for notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, req *handler.Request) *shared.JSONRPCResponse {
	start := time.Now()
	h, known := d.registry.Lookup(req.Method)

	if req.IsNotification() {
		if shared.IsCallMethod(req.Method) {
			d.observe(req.Method, known, shared.InvalidRequest, start)
			return shared.NewErrorResponse(nil, shared.NewError(shared.InvalidRequest, fmt.Sprintf("missing id on a call to %s", req.Method), nil))
		}
		if known {
			if _, err := d.run(ctx, h, req); err != nil {
				d.logger.Debug("notification failed", logging.Fields{"method": req.Method, "error": err})
			}
		} else {
			d.logger.Debug("ignoring unknown notification", logging.Fields{"method": req.Method})
		}
		return nil
	}

	result, err := d.run(ctx, h, req)
	if err != nil {
		rpcErr := sherrors.ToJSONRPC(err)
		d.observe(req.Method, known, shared.ErrorCode(rpcErr.Code), start)
		return shared.NewErrorResponse(req.ID, rpcErr)
	}

	d.observe(req.Method, known, 0, start)
	return shared.NewResultResponse(req.ID, result)
}

func (d *Dispatcher) run(ctx context.Context, h handler.RequestHandler, req *handler.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", logging.Fields{"method": req.Method, "panic": fmt.Sprint(r)})
			result = nil
			err = shared.NewError(shared.InternalError, "", nil)
		}
	}()
	return h(ctx, req)
}

func (d *Dispatcher) observe(method string, known bool, code shared.ErrorCode, start time.Time) {
	if d.observer == nil {
		return
	}
	if !known {
		method = "unknown"
	}
	d.observer.ObserveCall(method, int(code), time.Since(start))
}

func (d *Dispatcher) initialize(_ context.Context, req *handler.Request) (interface{}, error) {
	var params shared.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, shared.NewError(shared.InvalidParams, "invalid initialize params", err.Error())
		}
	}

	version := shared.NegotiateProtocolVersion(params.ProtocolVersion)
	if req.Session != nil {
		req.Session.SetClient(version, params.ClientInfo)
	}

	return shared.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    shared.ServerCapabilities{Tools: &shared.ToolsCapability{}},
		ServerInfo:      d.serverInfo,
		Instructions:    d.instructions,
	}, nil
}

func (d *Dispatcher) ping(context.Context, *handler.Request) (interface{}, error) {
	return shared.EmptyResult{}, nil
}

func (d *Dispatcher) listTools(context.Context, *handler.Request) (interface{}, error) {
	return d.catalog.ListResult(), nil
}

func (d *Dispatcher) callTool(ctx context.Context, req *handler.Request) (interface{}, error) {
	if len(req.Params) == 0 {
		return nil, shared.NewError(shared.InvalidParams, "missing params", nil)
	}

	var params shared.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, shared.NewError(shared.InvalidParams, "params must be an object with name and arguments", err.Error())
	}
	if params.Name == "" {
		return nil, shared.NewError(shared.InvalidParams, "missing tool name", nil)
	}
	if err := d.catalog.Validate(params.Name, params.Arguments); err != nil {
		return nil, err
	}

	if limiter, ok := req.Session.(CallLimiter); ok {
		release, err := limiter.AcquireCall(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "acquire call slot")
		}
		defer release()
	}

	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	result, err := d.executor.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		d.logger.Warn("tool execution failed", logging.Fields{
			"tool":       params.Name,
			"request_id": req.ID.String(),
			"error":      err,
		})
		return nil, &sherrors.ToolExecutionError{Name: params.Name, Cause: err}
	}
	return result, nil
}

func (d *Dispatcher) cancelled(_ context.Context, req *handler.Request) (interface{}, error) {
	var params shared.CancelledParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.Wrap(err, "decode cancelled params")
	}
	if req.Session != nil && !params.RequestID.IsAbsent() {
		req.Session.CancelCall(params.RequestID)
	}
	return nil, nil
}

func (d *Dispatcher) ignore(context.Context, *handler.Request) (interface{}, error) {
	return nil, nil
}
