package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/najoast/yakr/logging"
)

// Func is the body of an in-process plugin. It receives lines on in until in
// is closed or ctx is cancelled, and should send on out with Emit so that a
// send never outlives the plugin. Returning (or panicking) ends the worker
// and closes out.
type Func func(ctx context.Context, in <-chan string, out chan<- string) error

// Emit sends line on out unless ctx is done first.
func Emit(ctx context.Context, out chan<- string, line string) bool {
	select {
	case out <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

// Registry loads plugins that run as goroutines in this process. Each
// loaded instance has its own queues and shares no state with the router.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]Func
	capacity int
	logger   logging.Logger
}

// NewRegistry creates a registry whose plugin queues hold capacity lines.
func NewRegistry(capacity int, logger logging.Logger) *Registry {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.Nop
	}
	return &Registry{
		funcs:    make(map[string]Func),
		capacity: capacity,
		logger:   logger.With("component", "plugin-registry"),
	}
}

// Register adds a named plugin body.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("plugin %s is already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load starts a fresh instance of the named plugin.
func (r *Registry) Load(name string) (*Handle, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	in := make(chan string, r.capacity)
	out := make(chan string, r.capacity)
	feed := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())

	h := &Handle{Name: name, ID: uuid.NewString(), In: in, Out: out}
	logger := r.logger.With("plugin", name, "plugin_id", h.ID)

	// Closing In cancels the plugin. Lines arriving after the plugin has
	// exited are dropped until the router closes In.
	go func() {
		defer cancel()
		defer close(feed)
		for line := range in {
			select {
			case feed <- line:
			case <-ctx.Done():
			}
		}
	}()

	go func() {
		defer close(out)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("plugin panicked", "panic", rec)
			}
		}()

		err := fn(ctx, feed, out)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("plugin exited with error", "error", err)
			return
		}
		logger.Debug("plugin exited")
	}()

	return h, nil
}
