// Package bootstrap wires configuration, logging, the transport, plugin
// loaders and the router into a runnable bot.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/najoast/yakr/config"
	"github.com/najoast/yakr/core"
	"github.com/najoast/yakr/logging"
	"github.com/najoast/yakr/network"
	"github.com/najoast/yakr/plugin"
	"github.com/najoast/yakr/record"
)

// Options selects the configuration and overrides parts of it. Non-empty
// Record or Replay replace the configured session mode.
type Options struct {
	ConfigFile    string
	Record        string
	Replay        string
	ReplayTimeout time.Duration

	// Logger replaces the logger built from the configuration.
	Logger logging.Logger

	// Builtins are in-process plugins registered next to autojoin.
	Builtins map[string]plugin.Func
}

// Application runs one bot session: a live connection, a recorded live
// connection, or a replay.
type Application struct {
	config     *config.Config
	configFile string
	loader     *config.Loader
	logger     logging.Logger
	logOutput  io.Closer
	registry   *plugin.Registry

	// mutex protects the fields below
	mutex   sync.RWMutex
	running bool
	router  *core.Router
	cancel  context.CancelFunc
	result  *record.Result

	// shutdownChan for graceful shutdown
	shutdownChan chan os.Signal
}

// NewApplication loads the configuration and prepares the plugin registry.
func NewApplication(opts Options) (*Application, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load(opts.ConfigFile)
	if err != nil {
		return nil, &ApplicationError{Operation: "load config", Target: opts.ConfigFile, Err: err}
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		if found, err := loader.FindConfigFile(); err == nil {
			configFile = found
		}
	}

	if opts.Record != "" {
		cfg.Session.Record = opts.Record
	}
	if opts.Replay != "" {
		cfg.Session.Replay = opts.Replay
	}
	if opts.ReplayTimeout != 0 {
		cfg.Session.ReplayTimeout = opts.ReplayTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "validate config", Err: err}
	}

	app := &Application{
		config:       cfg,
		configFile:   configFile,
		loader:       loader,
		logger:       opts.Logger,
		shutdownChan: make(chan os.Signal, 1),
	}
	if app.logger == nil {
		logger, closer, err := newLogger(cfg)
		if err != nil {
			return nil, &ApplicationError{Operation: "open log", Target: cfg.Log.Output, Err: err}
		}
		app.logger, app.logOutput = logger, closer
	}

	app.registry = plugin.NewRegistry(cfg.Network.ChannelCapacity, app.logger)
	if err := app.registry.Register("autojoin", plugin.AutoJoin(cfg.Bot.Channels)); err != nil {
		return nil, err
	}
	for name, fn := range opts.Builtins {
		if err := app.registry.Register(name, fn); err != nil {
			return nil, &ApplicationError{Operation: "register plugin", Target: name, Err: err}
		}
	}

	return app, nil
}

// newLogger builds the configured logger. Output is stdout, stderr or a
// file path opened for appending. Debug mode lowers the level to debug, and
// every entry carries the application name and version.
func newLogger(cfg *config.Config) (logging.Logger, io.Closer, error) {
	var (
		out    io.Writer
		closer io.Closer
	)
	switch cfg.Log.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Log.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out, closer = f, f
	}

	level := cfg.Log.Level.String()
	if cfg.IsDebugEnabled() && logging.ParseLevel(level) > slog.LevelDebug {
		level = config.LogLevelDebug.String()
	}

	logger := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Log.Format,
		Output: out,
	}).With(
		"app", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment.String(),
	)
	return logger, closer, nil
}

// Config returns the configuration the application was built with.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() logging.Logger {
	return app.logger
}

// Plugins returns the plugins currently loaded by the running router.
func (app *Application) Plugins() []string {
	app.mutex.RLock()
	router := app.router
	app.mutex.RUnlock()

	if router == nil {
		return nil
	}
	return router.Plugins()
}

// ReplayResult returns the outcome of a finished replay.
func (app *Application) ReplayResult() (record.Result, bool) {
	app.mutex.RLock()
	defer app.mutex.RUnlock()

	if app.result == nil {
		return record.Result{}, false
	}
	return *app.result, true
}

// Run connects (or starts the replay), loads the configured plugins and
// routes until the stream ends, ctx is cancelled, Shutdown is called or
// the process receives SIGINT/SIGTERM. A deliberate stop returns nil.
func (app *Application) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return fmt.Errorf("application is already running")
	}
	app.running = true
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	app.mutex.Unlock()

	defer func() {
		cancel()
		app.mutex.Lock()
		app.running = false
		app.router = nil
		app.mutex.Unlock()
	}()

	cfg := app.config
	transport, wait, err := app.openTransport(runCtx)
	if err != nil {
		return err
	}

	loader := plugin.Chain{
		app.registry,
		plugin.NewProcessLoader(cfg.Bot.PluginDir, cfg.Network.ChannelCapacity, app.logger),
	}
	router, err := core.NewRouter(transport, loader, core.Options{
		Nick:     cfg.Bot.Nick,
		RealName: cfg.Bot.RealName,
	}, app.logger)
	if err != nil {
		close(transport.Outbound())
		wait()
		return &ApplicationError{Operation: "create router", Err: err}
	}

	for _, name := range cfg.Bot.Plugins {
		if _, err := router.Load(name); err != nil {
			app.logger.Warn("plugin not loaded", "plugin", name, "error", err)
		}
	}

	if watcher := app.startWatcher(router); watcher != nil {
		defer watcher.Stop()
	}

	app.mutex.Lock()
	app.router = router
	app.mutex.Unlock()

	// Setup signal handling for graceful shutdown
	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)
	go func() {
		select {
		case sig := <-app.shutdownChan:
			app.logger.Info("received shutdown signal, starting graceful shutdown", "signal", sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	runErr := router.Run(runCtx)
	waitErr := wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return &ApplicationError{Operation: "route", Err: runErr}
	}
	if waitErr != nil {
		return &ApplicationError{Operation: "close session", Err: waitErr}
	}
	return nil
}

// Shutdown stops a running application. Run returns once the router and
// transport have drained.
func (app *Application) Shutdown() {
	app.mutex.RLock()
	cancel := app.cancel
	app.mutex.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// Close releases the log file, if any.
func (app *Application) Close() error {
	if app.logOutput != nil {
		return app.logOutput.Close()
	}
	return nil
}

// openTransport returns the router's transport and a function that waits
// for it to finish after the router has stopped.
func (app *Application) openTransport(ctx context.Context) (core.Transport, func() error, error) {
	cfg := app.config
	capacity := cfg.Network.ChannelCapacity

	if path := cfg.Session.Replay; path != "" {
		replayer, err := record.NewReplayer(path, capacity, app.logger,
			record.WithTimeout(cfg.Session.ReplayTimeout))
		if err != nil {
			return nil, nil, &ApplicationError{Operation: "open replay", Target: path, Err: err}
		}
		app.logger.Info("replaying session", "path", path)
		return replayer, func() error {
			res := replayer.Wait()
			app.mutex.Lock()
			app.result = &res
			app.mutex.Unlock()
			return nil
		}, nil
	}

	link, err := network.Dial(ctx, linkConfig(cfg), app.logger)
	if err != nil {
		return nil, nil, &ApplicationError{Operation: "connect", Target: cfg.Network.TCP.Address(), Err: err}
	}
	waitLink := func() {
		link.Wait()
		app.logger.Info("link finished", "stats", link.Stats().String())
	}

	if path := cfg.Session.Record; path != "" {
		recorder, err := record.NewRecorder(path, link, capacity, app.logger)
		if err != nil {
			close(link.Outbound())
			waitLink()
			return nil, nil, &ApplicationError{Operation: "open record", Target: path, Err: err}
		}
		app.logger.Info("recording session", "path", path)
		return recorder, func() error {
			err := recorder.Wait()
			waitLink()
			return err
		}, nil
	}

	return link, func() error {
		waitLink()
		return nil
	}, nil
}

func linkConfig(cfg *config.Config) network.LinkConfig {
	return network.LinkConfig{
		Host:              cfg.Network.TCP.Host,
		Port:              cfg.Network.TCP.Port,
		Delimiter:         cfg.Network.Delimiter,
		BufferSize:        cfg.Network.TCP.BufferSize,
		ChannelCapacity:   cfg.Network.ChannelCapacity,
		KeepAlive:         cfg.Network.TCP.KeepAliveEnabled(),
		KeepAliveInterval: cfg.Network.TCP.KeepAliveInterval,
		DialTimeout:       cfg.Network.Timeouts.Dial,
		WriteTimeout:      cfg.Network.Timeouts.Write,
	}
}

// startWatcher hot-reloads the plugin set from the configuration file.
// Replays are never reconfigured.
func (app *Application) startWatcher(router *core.Router) *config.Watcher {
	if app.configFile == "" || app.config.Session.Replay != "" {
		return nil
	}

	watcher, err := config.NewWatcher(app.configFile, app.loader, app.logger)
	if err != nil {
		app.logger.Warn("config watcher disabled", "error", err)
		return nil
	}
	watcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		reconcilePlugins(router, oldConfig.Bot.Plugins, newConfig.Bot.Plugins, app.logger)
	})
	if err := watcher.Start(); err != nil {
		app.logger.Warn("config watcher disabled", "error", err)
		return nil
	}
	return watcher
}

// pluginSet is the part of the router reconcilePlugins drives.
type pluginSet interface {
	Load(name string) (bool, error)
	Unload(name string) bool
}

// reconcilePlugins unloads plugins dropped from the configuration and
// loads the ones added to it.
func reconcilePlugins(router pluginSet, before, after []string, logger logging.Logger) {
	keep := make(map[string]bool, len(after))
	for _, name := range after {
		keep[name] = true
	}
	had := make(map[string]bool, len(before))
	for _, name := range before {
		had[name] = true
		if !keep[name] && router.Unload(name) {
			logger.Info("plugin removed from configuration", "plugin", name)
		}
	}
	for _, name := range after {
		if had[name] {
			continue
		}
		if _, err := router.Load(name); err != nil {
			logger.Warn("plugin not loaded", "plugin", name, "error", err)
			continue
		}
		logger.Info("plugin added from configuration", "plugin", name)
	}
}
