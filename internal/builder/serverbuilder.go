// Package builder wires configuration, the tool backend and both transports
// into a runnable gateway.
package builder

import (
	"context"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/FreePeak/golang-mcp-gateway/internal/config"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/server"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
	"github.com/FreePeak/golang-mcp-gateway/internal/interfaces/rest"
	"github.com/FreePeak/golang-mcp-gateway/internal/interfaces/stdio"
	"github.com/FreePeak/golang-mcp-gateway/internal/usecases"
)

// ServerBuilder implements the Builder pattern for creating gateways
type ServerBuilder struct {
	config    config.Config
	executor  domain.ToolExecutor
	logger    *logging.Logger
	clock     clockwork.Clock
	directory domain.SessionDirectory
}

// NewServerBuilder creates a builder starting from cfg
func NewServerBuilder(cfg config.Config) *ServerBuilder {
	return &ServerBuilder{config: cfg}
}

// WithExecutor sets the tool backend. It is required.
func (b *ServerBuilder) WithExecutor(executor domain.ToolExecutor) *ServerBuilder {
	b.executor = executor
	return b
}

// WithName sets the server name
func (b *ServerBuilder) WithName(name string) *ServerBuilder {
	b.config.ServerName = name
	return b
}

// WithVersion sets the server version
func (b *ServerBuilder) WithVersion(version string) *ServerBuilder {
	b.config.ServerVersion = version
	return b
}

// WithInstructions sets the instructions returned by initialize
func (b *ServerBuilder) WithInstructions(instructions string) *ServerBuilder {
	b.config.Instructions = instructions
	return b
}

// WithAddress sets the listen address
func (b *ServerBuilder) WithAddress(address string) *ServerBuilder {
	b.config.Addr = address
	return b
}

// WithLogger replaces the logger built from the configuration
func (b *ServerBuilder) WithLogger(logger *logging.Logger) *ServerBuilder {
	b.logger = logger
	return b
}

// WithClock sets the clock used for idle reaping, drain timers and keepalives
func (b *ServerBuilder) WithClock(clock clockwork.Clock) *ServerBuilder {
	b.clock = clock
	return b
}

// WithDirectory overrides the session directory chosen from the configuration
func (b *ServerBuilder) WithDirectory(directory domain.SessionDirectory) *ServerBuilder {
	b.directory = directory
	return b
}

// Gateway is a fully wired gateway.
type Gateway struct {
	Config     config.Config
	Logger     *logging.Logger
	Catalog    *usecases.Catalog
	Dispatcher *usecases.Dispatcher
	Manager    *session.Manager
	Exchange   *server.Exchange
	// Metrics is nil when metrics are disabled.
	Metrics    *server.Metrics
	SSE        *server.SSEServer
	Streamable *server.StreamableServer
	HTTP       *rest.Server
	Stdio      *stdio.StdioServer

	closers []io.Closer
}

// Build validates the configuration, loads the tool catalog and assembles
// every component.
func (b *ServerBuilder) Build(ctx context.Context) (*Gateway, error) {
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.executor == nil {
		return nil, errors.New("no tool executor configured")
	}

	logger := b.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       logging.LogLevel(cfg.LogLevel),
			Development: cfg.LogDevelopment,
			OutputPaths: []string{"stderr"},
		})
		if err != nil {
			return nil, errors.Wrap(err, "create logger")
		}
	}
	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	gw := &Gateway{Config: cfg, Logger: logger}

	catalog, err := usecases.NewCatalog(ctx, b.executor)
	if err != nil {
		return nil, errors.Wrap(err, "load tool catalog")
	}
	gw.Catalog = catalog
	logger.Info("tool catalog loaded", logging.Fields{"tools": catalog.Len()})

	directory := b.directory
	if directory == nil && cfg.RedisURL != "" {
		rd, err := session.NewRedisDirectoryFromURL(ctx, cfg.RedisURL, session.WithTTL(cfg.DirectoryTTL()))
		if err != nil {
			return nil, err
		}
		gw.closers = append(gw.closers, rd)
		directory = rd
	}

	dispatcherConfig := usecases.DispatcherConfig{
		ServerInfo:   shared.Implementation{Name: cfg.ServerName, Version: cfg.ServerVersion},
		Instructions: cfg.Instructions,
		Executor:     b.executor,
		Catalog:      catalog,
		CallTimeout:  cfg.CallTimeout,
		Logger:       logger,
	}
	managerConfig := session.Config{
		IdleTimeout:      cfg.IdleTimeout,
		ReapInterval:     cfg.ReapInterval,
		DrainTimeout:     cfg.DrainTimeout,
		MaxInFlightCalls: cfg.MaxInFlightCalls,
		Clock:            clock,
		Directory:        directory,
		Logger:           logger,
	}
	var frameObserver server.FrameObserver
	if cfg.MetricsEnabled {
		gw.Metrics = server.NewMetrics()
		dispatcherConfig.Observer = gw.Metrics
		managerConfig.Observer = gw.Metrics
		frameObserver = gw.Metrics
	}

	gw.Dispatcher = usecases.NewDispatcher(dispatcherConfig)
	gw.Manager = session.NewManager(managerConfig)
	gw.Exchange = server.NewExchange(gw.Dispatcher, logger, frameObserver)

	gw.SSE = server.NewSSEServer(gw.Manager, gw.Exchange,
		server.WithBaseURL(cfg.BaseURL),
		server.WithBasePath(cfg.BasePath),
		server.WithSSEEndpoint(cfg.SSEPath),
		server.WithMessageEndpoint(cfg.MessagePath),
		server.WithQueueSize(cfg.OutboundQueueSize),
		server.WithKeepAlive(cfg.KeepAliveInterval),
		server.WithMaxBodyBytes(int64(cfg.MaxFrameBytes)),
		server.WithSSEClock(clock),
		server.WithSSELogger(logger),
	)
	basePath := cfg.BasePath
	if basePath == "/" {
		basePath = ""
	}
	gw.Streamable = server.NewStreamableServer(gw.Manager, gw.Exchange,
		server.WithStreamableEndpoint(basePath+cfg.StreamablePath),
		server.WithStreamableMaxFrame(cfg.MaxFrameBytes),
		server.WithStreamableLogger(logger),
	)
	gw.HTTP = rest.NewServer(rest.Config{
		Addr:       cfg.Addr,
		BaseURL:    cfg.BaseURL,
		BasePath:   basePath,
		ServerInfo: dispatcherConfig.ServerInfo,
		SSE:        gw.SSE,
		Streamable: gw.Streamable,
		Manager:    gw.Manager,
		Tools:      catalog,
		Metrics:    gw.Metrics,
		Logger:     logger,
	})
	gw.Stdio = stdio.NewStdioServer(gw.Manager, gw.Exchange,
		stdio.WithLogger(logger),
		stdio.WithMaxFrameBytes(cfg.MaxFrameBytes),
	)
	return gw, nil
}

// Serve runs the HTTP gateway and the idle reaper until ctx is cancelled
// or the listener fails, then shuts down within the shutdown timeout.
func (g *Gateway) Serve(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(g.HTTP.Start)
	eg.Go(func() error {
		return g.Manager.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.Config.ShutdownTimeout)
		defer cancel()
		g.Logger.Info("shutting down gateway")
		return g.HTTP.Stop(shutdownCtx)
	})
	return eg.Wait()
}

// ServeStdio serves one session over in and out until in ends or ctx is
// cancelled.
func (g *Gateway) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer cancel()
		return g.Stdio.Listen(ctx, in, out)
	})
	eg.Go(func() error {
		return g.Manager.Run(ctx)
	})
	return eg.Wait()
}

// Close releases external resources such as the redis directory.
func (g *Gateway) Close() error {
	var first error
	for _, c := range g.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	_ = g.Logger.Sync()
	return first
}
