package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/voxrelay/internal/config"
	"github.com/harun/voxrelay/internal/logger"
	"github.com/harun/voxrelay/internal/mcpserver"
	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/catalog"
	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/harun/voxrelay/pkg/coretools"
	"github.com/harun/voxrelay/pkg/retell"
	"github.com/harun/voxrelay/pkg/session"
	"github.com/harun/voxrelay/pkg/toolexecutor"
	"github.com/harun/voxrelay/pkg/webhook"
)

// AuditFilename is the audit trail file under the data directory.
const AuditFilename = "audit.log"

// Daemon wires the relay: command queue, tool registry, webhook server and
// the background jobs that keep them healthy.
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	version string

	// Core modules
	queue        *commandqueue.CommandQueue
	sessions     *session.Store
	sweeper      *commandqueue.Sweeper
	catalog      *catalog.Catalog
	serviceArea  *catalog.ServiceArea
	toolExecutor *toolexecutor.ToolExecutor
	mcp          *mcpserver.Server

	// Services
	webhookServer *webhook.Server
	retellClient  *retell.Client
	watcher       *catalog.Watcher
	audit         *observability.AuditTrail

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr chan error

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger, version string) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config:   cfg,
		logger:   log,
		version:  version,
		ctx:      ctx,
		cancel:   cancel,
		serveErr: make(chan error, 1),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.Init(tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version,
			SampleRatio: cfg.Tracing.SampleRatio,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) abort() {
	d.cancel()
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.audit != nil {
		_ = d.audit.Close()
		observability.SetAudit(nil)
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// initializeCoreModules builds the queue, the data sources and the tool registry.
func (d *Daemon) initializeCoreModules() error {
	d.queue = commandqueue.New()
	d.sessions = session.NewStore()
	d.logger.Info().Msg("Command queue and session store initialized")

	sweeper, err := commandqueue.NewSweeper(d.queue, commandqueue.SweeperOptions{
		TTL:      d.config.Queue.TTL,
		Schedule: d.config.Queue.SweepSchedule,
		Also:     []commandqueue.Evictor{d.sessions},
	})
	if err != nil {
		return err
	}
	d.sweeper = sweeper

	d.catalog, d.serviceArea, err = LoadData(d.config.Catalog)
	if err != nil {
		return err
	}
	d.logger.Info().
		Int("materials", d.catalog.Len()).
		Int("zip_codes", d.serviceArea.Len()).
		Msg("Catalog loaded")

	d.toolExecutor, err = NewToolRegistry(d.config.Server, d.catalog, d.serviceArea, d.queue, d.sessions)
	if err != nil {
		return err
	}
	d.logger.Info().Int("tools", d.toolExecutor.GetToolCount()).Msg("Tool registry initialized")

	d.mcp, err = mcpserver.New(d.toolExecutor, d.version, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if d.config.DataDir != "" {
		d.audit, err = observability.OpenAuditTrail(filepath.Join(d.config.DataDir, AuditFilename))
		if err != nil {
			return fmt.Errorf("failed to open audit trail: %w", err)
		}
	}

	return nil
}

// LoadData returns the built-in catalog and service area, replaced by the
// configured files when set.
func LoadData(cfg config.CatalogConfig) (*catalog.Catalog, *catalog.ServiceArea, error) {
	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		c, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		cat = c
	}

	area := catalog.DefaultServiceArea()
	if cfg.ServiceAreaFile != "" {
		sa, err := catalog.LoadServiceArea(cfg.ServiceAreaFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load service area: %w", err)
		}
		area = sa
	}

	return cat, area, nil
}

// NewToolRegistry builds the executor with every core tool registered.
func NewToolRegistry(cfg config.ServerConfig, cat *catalog.Catalog, area *catalog.ServiceArea, queue *commandqueue.CommandQueue, sessions *session.Store) (*toolexecutor.ToolExecutor, error) {
	executor := toolexecutor.New()
	if cfg.ToolTimeout > 0 {
		executor.SetDefaultTimeout(cfg.ToolTimeout)
	}
	if err := coretools.RegisterCoreTools(executor, coretools.Options{
		Catalog:     cat,
		ServiceArea: area,
		Queue:       queue,
		Sessions:    sessions,
	}); err != nil {
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}
	return executor, nil
}

// initializeServices builds the HTTP surface and the file watcher.
func (d *Daemon) initializeServices() error {
	if d.config.Retell.APIKey != "" {
		d.retellClient = retell.NewClient(retell.Options{
			APIKey:  d.config.Retell.APIKey,
			BaseURL: d.config.Retell.BaseURL,
			Timeout: d.config.Retell.Timeout,
		})
	} else {
		d.logger.Warn().Msg("Retell API key not set, web-call registration disabled")
	}

	srv := d.config.Server
	server, err := webhook.NewServer(webhook.ServerOptions{
		Host:               srv.Host,
		Port:               srv.Port,
		RateLimitPerMinute: srv.RateLimitPerMinute,
		DefaultTimeout:     srv.RequestTimeout,
		MaxBodyBytes:       srv.MaxBodyBytes,
		ShutdownTimeout:    srv.ShutdownTimeout,
	}, d.queue, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	opts := webhook.RouteOptions{
		Dispatcher:     d.toolExecutor,
		Queue:          d.queue,
		Catalog:        d.catalog,
		ServiceArea:    d.serviceArea,
		AllowedOrigins: srv.AllowedOrigins,
	}
	if d.retellClient != nil {
		opts.Registrar = d.retellClient
	}
	if err := server.RegisterRoutes(opts); err != nil {
		return err
	}

	if d.config.Metrics.Enabled {
		server.Mount(d.config.Metrics.Path, observability.MetricsHandler())
	}
	if d.config.MCP.Enabled {
		server.Mount(d.config.MCP.Path, d.mcp.HTTPHandler(d.config.MCP.Path))
	}
	d.webhookServer = server

	if d.config.Catalog.Watch {
		if err := d.initializeWatcher(); err != nil {
			return err
		}
	}

	return nil
}

func (d *Daemon) initializeWatcher() error {
	files := map[string]string{}
	if d.config.Catalog.CatalogFile != "" {
		files["catalog"] = d.config.Catalog.CatalogFile
	}
	if d.config.Catalog.ServiceAreaFile != "" {
		files["service_area"] = d.config.Catalog.ServiceAreaFile
	}
	if len(files) == 0 {
		return nil
	}

	w, err := catalog.NewWatcher(d.config.Catalog.ReloadDelay)
	if err != nil {
		return err
	}
	for source, path := range files {
		reload := d.catalog.Reload
		if source == "service_area" {
			reload = d.serviceArea.Reload
		}
		if err := w.Add(source, path, reload); err != nil {
			_ = w.Stop()
			return err
		}
	}
	d.watcher = w
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("version", d.version).Msg("Starting voxrelay")

	if err := d.lifecycle.Start(); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.sweeper.Start()

	if d.watcher != nil {
		d.watcher.Start()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.webhookServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Relay server failed")
			d.serveErr <- err
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().
		Str("addr", d.webhookServer.Addr()).
		Bool("metrics", d.config.Metrics.Enabled).
		Bool("mcp", d.config.MCP.Enabled).
		Bool("web_calls", d.retellClient != nil).
		Msg("Daemon started")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping voxrelay")

	if err := d.webhookServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop relay server")
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop catalog watcher")
		}
	}

	d.sweeper.Stop()

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

	d.eventLoop.HandleShutdown()

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

	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close audit trail")
		}
		observability.SetAudit(nil)
	}

	logger.Info().Msg("Daemon stopped")
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
	}

	return status
}

// Wait blocks until SIGINT, SIGTERM or a fatal server error, then stops the
// daemon. The server error, if any, is returned.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case serveErr = <-d.serveErr:
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
	return serveErr
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetSessions returns the per-call session store
func (d *Daemon) GetSessions() *session.Store {
	return d.sessions
}

// GetToolExecutor returns the tool registry
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.toolExecutor
}

// GetWebhookServer returns the relay HTTP server
func (d *Daemon) GetWebhookServer() *webhook.Server {
	return d.webhookServer
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}
