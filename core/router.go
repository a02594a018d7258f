package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/najoast/yakr/logging"
	"github.com/najoast/yakr/plugin"
)

// request is work submitted to the router loop by another goroutine.
type request struct {
	fn   func()
	done chan struct{}
}

// Router routes lines between the network and the loaded plugins.
//
// Plugin state is owned by the loop started with Run. Load, Unload, Cycle
// and the accessors may be called from any goroutine: before Run they act
// directly, while Run is active they are executed by the loop.
type Router struct {
	transport Transport
	loader    plugin.Loader
	opts      Options
	marker    string
	logger    logging.Logger

	// Loop-owned state.
	state     State
	plugins   map[string]*plugin.Handle
	order     []string // load order, used for broadcasts
	listeners map[string]struct{}
	sel       *selector

	requests chan request
	done     chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
}

// NewRouter creates a router on transport and sends the identity handshake.
func NewRouter(transport Transport, loader plugin.Loader, opts Options, logger logging.Logger) (*Router, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if loader == nil {
		return nil, ErrNilLoader
	}
	if opts.Nick == "" {
		return nil, ErrInvalidNick
	}
	if opts.RealName == "" {
		opts.RealName = opts.Nick
	}
	if logger == nil {
		logger = logging.Nop
	}

	requests := make(chan request)
	r := &Router{
		transport: transport,
		loader:    loader,
		opts:      opts,
		marker:    ReadyMarker(opts.Nick),
		logger:    logger.With("component", "router", "nick", opts.Nick),
		state:     StateConnecting,
		plugins:   make(map[string]*plugin.Handle),
		listeners: make(map[string]struct{}),
		sel:       newSelector(transport.Inbound(), requests),
		requests:  requests,
		done:      make(chan struct{}),
	}

	out := transport.Outbound()
	out <- NickLine(opts.Nick)
	out <- UserLine(opts.Nick, opts.RealName)

	return r, nil
}

// Load starts the named plugin. It returns false if the plugin is already
// loaded or could not be started.
func (r *Router) Load(name string) (bool, error) {
	if name == "" {
		return false, ErrInvalidPluginName
	}

	var (
		loaded bool
		err    error
	)
	if callErr := r.call(func() { loaded, err = r.load(name) }); callErr != nil {
		return false, callErr
	}
	return loaded, err
}

// Unload stops the named plugin. It returns false if it was not loaded.
func (r *Router) Unload(name string) bool {
	var unloaded bool
	if err := r.call(func() { unloaded = r.unload(name) }); err != nil {
		return false
	}
	return unloaded
}

// Cycle unloads the named plugin if present and loads it again.
func (r *Router) Cycle(name string) (bool, error) {
	if name == "" {
		return false, ErrInvalidPluginName
	}

	var (
		loaded bool
		err    error
	)
	callErr := r.call(func() {
		r.unload(name)
		loaded, err = r.load(name)
	})
	if callErr != nil {
		return false, callErr
	}
	return loaded, err
}

// Ready reports whether the server has welcomed the bot. It returns false
// once the router has stopped.
func (r *Router) Ready() bool {
	var ready bool
	r.call(func() { ready = r.state == StateReady })
	return ready
}

// Plugins returns the loaded plugin names in load order. Once the router
// has stopped every plugin has been unloaded and Plugins returns nil.
func (r *Router) Plugins() []string {
	var names []string
	r.call(func() {
		names = make([]string, len(r.order))
		copy(names, r.order)
	})
	return names
}

// Listeners returns the names subscribed to plugin output, sorted. It
// returns nil once the router has stopped.
func (r *Router) Listeners() []string {
	var names []string
	r.call(func() {
		for name := range r.listeners {
			names = append(names, name)
		}
	})
	sort.Strings(names)
	return names
}

// Done is closed once Run has shut the router down.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// call runs fn with exclusive access to the loop-owned state.
func (r *Router) call(fn func()) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRouterStopped
	}
	if !r.running {
		defer r.mu.Unlock()
		fn()
		return nil
	}
	r.mu.Unlock()

	req := request{fn: fn, done: make(chan struct{})}
	select {
	case r.requests <- req:
	case <-r.done:
		return ErrRouterStopped
	}
	<-req.done
	return nil
}

// Run routes lines until the network stream ends or ctx is cancelled. On
// return every plugin has been stopped and the transport's outbound channel
// is closed. Run returns nil when the network stream ended.
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRouterStopped
	}
	if r.running {
		r.mu.Unlock()
		return ErrRouterRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.done)
	}()

	r.sel.bind(ctx)
	r.logger.Info("router started", "plugins", len(r.plugins))

	for {
		ev := r.sel.next()

		switch ev.kind {
		case sourceNetwork:
			if !ev.ok {
				r.logger.Info("network stream ended")
				r.shutdown()
				return nil
			}
			r.handleNetwork(ev.line)

		case sourcePlugin:
			if !ev.ok {
				r.logger.Info("plugin exited", "plugin", ev.plugin)
				r.unload(ev.plugin)
				continue
			}
			r.handlePlugin(ev.plugin, ev.line)

		case sourceRequest:
			ev.req.fn()
			close(ev.req.done)

		case sourceContext:
			r.logger.Info("router cancelled", "error", ctx.Err())
			r.shutdown()
			return ctx.Err()
		}
	}
}

func (r *Router) load(name string) (bool, error) {
	if _, exists := r.plugins[name]; exists {
		return false, nil
	}

	h, err := r.loader.Load(name)
	if err != nil {
		r.logger.Warn("failed to load plugin", "plugin", name, "error", err)
		return false, fmt.Errorf("failed to load plugin %s: %w", name, err)
	}
	h.Name = name

	r.plugins[name] = h
	r.order = append(r.order, name)
	r.sel.add(name, h.Out)

	if r.state == StateReady {
		h.In <- plugin.StateReady
	}

	r.logger.Info("plugin loaded", "plugin", name, "plugin_id", h.ID)
	return true, nil
}

func (r *Router) unload(name string) bool {
	h, exists := r.plugins[name]
	if !exists {
		return false
	}

	delete(r.listeners, name)
	r.sel.remove(name)
	close(h.In)
	delete(r.plugins, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("plugin unloaded", "plugin", name, "plugin_id", h.ID)
	return true
}

func (r *Router) handleNetwork(line string) {
	if pong, ok := Pong(line); ok {
		r.transport.Outbound() <- pong
	}

	if r.state == StateConnecting && strings.Contains(line, r.marker) {
		r.state = StateReady
		r.logger.Info("connection ready")
		r.broadcast(plugin.StateReady)
	}

	r.broadcast(line)
}

func (r *Router) handlePlugin(name, line string) {
	if enabled, ok := plugin.ParseReceiveOutput(line); ok {
		if enabled {
			r.listeners[name] = struct{}{}
		} else {
			delete(r.listeners, name)
		}
		r.logger.Debug("output subscription changed", "plugin", name, "enabled", enabled)
		return
	}

	for _, listener := range r.order {
		if _, ok := r.listeners[listener]; ok {
			r.plugins[listener].In <- line
		}
	}
	r.transport.Outbound() <- line
}

// broadcast delivers line to every loaded plugin in load order.
func (r *Router) broadcast(line string) {
	for _, name := range r.order {
		r.plugins[name].In <- line
	}
}

// shutdown stops every plugin and closes the outbound stream.
func (r *Router) shutdown() {
	for _, name := range append([]string(nil), r.order...) {
		r.unload(name)
	}
	close(r.transport.Outbound())
	r.logger.Info("router stopped")
}
