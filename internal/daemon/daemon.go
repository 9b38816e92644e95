package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/seance/internal/config"
	"github.com/harun/seance/internal/logger"
	"github.com/harun/seance/internal/observability"
	"github.com/harun/seance/internal/tracing"
	"github.com/harun/seance/pkg/agent"
	"github.com/harun/seance/pkg/gateway"
	"github.com/harun/seance/pkg/llm"
	"github.com/harun/seance/pkg/toolexecutor"
)

// Version is stamped at build time.
var Version = "dev"

// Daemon represents the seance service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	modelClient  *llm.Client
	toolRegistry *toolexecutor.Registry
	toolWarmer   *toolexecutor.Warmer
	prompts      *agent.PromptStore
	runner       *agent.Runner

	// Services
	gatewayServer *gateway.Server

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Seams for tests.
var (
	newProvider = llm.NewProvider
	newDialer   = func(cfg toolexecutor.MCPConfig) toolexecutor.Dialer {
		return toolexecutor.NewMCPDialer(cfg)
	}
)

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Telemetry.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Telemetry.SampleRatio).Msg("Tracing initialized successfully")
		}
	}

	if cfg.Tools.AuditLog != "" {
		if err := observability.InitAuditLogger(cfg.Tools.AuditLog); err != nil {
			log.Warn().Err(err).Str("path", cfg.Tools.AuditLog).Msg("Failed to open audit log, auditing to stderr")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		return nil, err
	}
	if err := d.initializeServices(); err != nil {
		cancel()
		return nil, err
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	provider, err := newProvider(llm.ProviderConfig{
		Kind:      cfg.Model.Provider,
		BaseURL:   cfg.Model.BaseURL,
		APIKey:    cfg.Model.APIKey,
		KeepAlive: cfg.Model.KeepAliveDuration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	d.modelClient = llm.NewClient(provider, llm.Options{
		Temperature: cfg.Model.Temperature,
		NumCtx:      cfg.Model.NumCtx,
		NumPredict:  cfg.Model.NumPredict,
	}, zl)

	dialer := newDialer(toolexecutor.MCPConfig{
		Endpoint:  cfg.Tools.Endpoint,
		Token:     cfg.Tools.Token,
		Transport: cfg.Tools.Transport,
		Timeout:   cfg.Tools.CallTimeoutDuration(),
		Version:   Version,
	})
	d.toolRegistry = toolexecutor.NewRegistry(
		toolexecutor.NewIsolator(dialer, zl),
		toolexecutor.RegistryConfig{TTL: cfg.Tools.CacheTTLDuration()},
		zl,
	)

	if cfg.Tools.WarmSchedule != "" {
		d.toolWarmer, err = toolexecutor.NewWarmer(d.toolRegistry, cfg.Tools.WarmSchedule, cfg.Tools.CallTimeoutDuration(), zl)
		if err != nil {
			return fmt.Errorf("failed to create tool warmer: %w", err)
		}
	}

	queryTool, queryArg := cfg.Tools.DefaultQueryTool, cfg.Tools.QueryArgument
	d.prompts = agent.NewPromptStore(cfg.Chat.SystemPromptFile, agent.DefaultSystemPrompt(queryTool, queryArg), zl)

	directive := ""
	if cfg.Chat.FirstRoundDirective {
		directive = agent.DefaultDirective(queryTool, queryArg)
	}

	d.runner, err = agent.NewRunner(agent.Config{
		Model:         d.modelClient,
		Tools:         d.toolRegistry,
		Extractor:     agent.NewExtractor(queryTool, queryArg),
		Logger:        zl,
		MaxRounds:     cfg.Chat.MaxRounds,
		HistoryWindow: cfg.Chat.HistoryWindow,
		ResultLimit:   cfg.Chat.ResultLimit,
		Directive:     directive,
		QueryArgument: queryArg,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	d.logger.Info().
		Str("provider", provider.Name()).
		Str("tools_endpoint", cfg.Tools.Endpoint).
		Str("query_tool", queryTool).
		Int("max_rounds", cfg.Chat.MaxRounds).
		Msg("Core modules initialized")
	return nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	server, err := gateway.NewServer(gateway.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Runner:          d.runner,
		Models:          d.modelClient,
		Tools:           d.toolRegistry,
		DefaultModel:    cfg.Model.Default,
		Prompt:          d.prompts.Current,
		ContextQuery:    cfg.Tools.ContextQuery,
		QueryTool:       cfg.Tools.DefaultQueryTool,
		QueryArgument:   cfg.Tools.QueryArgument,
		ListTimeout:     cfg.Model.ListTimeoutDuration(),
		PreloadTimeout:  cfg.Model.PreloadTimeoutDuration(),
		WriteTimeout:    cfg.Server.WriteTimeoutDuration(),
		ShutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
		Logger:          d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server
	return nil
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Str("version", Version).Msg("Starting seance daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.prompts.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to watch system prompt file, hot reload disabled")
	}

	if d.toolWarmer != nil {
		d.toolWarmer.Start()
		logger.Info().Str("schedule", d.config.Tools.WarmSchedule).Msg("Tool cache warmer started")
	}

	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started successfully")
	return nil
}

// Stop stops the daemon
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping seance daemon")

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if d.toolWarmer != nil {
		d.toolWarmer.Stop()
		logger.Info().Msg("Tool cache warmer stopped")
	}

	if err := d.prompts.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop prompt watcher")
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Sessions = d.gatewayServer.Sessions().Count()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, or until ctx ends, then stops the daemon
func (d *Daemon) Wait(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context cancelled")
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status is a snapshot of the daemon
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Sessions  int
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetModelClient returns the model streaming client
func (d *Daemon) GetModelClient() *llm.Client {
	return d.modelClient
}

// GetToolRegistry returns the tool catalog
func (d *Daemon) GetToolRegistry() *toolexecutor.Registry {
	return d.toolRegistry
}

// GetAgentRunner returns the round controller
func (d *Daemon) GetAgentRunner() *agent.Runner {
	return d.runner
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}
