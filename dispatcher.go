package plugfx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Option configures a Dispatcher during creation.
type Option func(*config)

// config holds internal configuration for dispatcher creation.
type config struct {
	clock          clockz.Clock // Time abstraction for deterministic testing
	logger         *slog.Logger
	handlerTimeout time.Duration
	maxDeferred    int
	drainBatch     int
	drainInterval  time.Duration
	loopWarn       int
	loopDrop       int
}

// WithClock sets the clock implementation for time operations.
// Default is clockz.RealClock for production use.
// Use clockz.FakeClock for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithLogger sets the structured logger used for dispatch warnings.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithHandlerTimeout sets a deadline applied to every handler
// invocation. Default is no timeout (0).
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.handlerTimeout = timeout
	}
}

// WithMaxDeferred sets the deferred queue capacity. Once full, newly
// emitted events are dropped with a logged warning. Default is 1000.
func WithMaxDeferred(max int) Option {
	return func(c *config) {
		c.maxDeferred = max
	}
}

// WithDrainBatch caps how many deferred events one scheduler tick
// dispatches. Default is 50.
func WithDrainBatch(size int) Option {
	return func(c *config) {
		c.drainBatch = size
	}
}

// WithDrainInterval sets the scheduler tick interval for draining the
// deferred and error queues. Default is 5ms.
func WithDrainInterval(interval time.Duration) Option {
	return func(c *config) {
		c.drainInterval = interval
	}
}

// Default deferred-queue thresholds. The warn threshold flags a hook
// name emitting suspiciously often between drains; the drop threshold
// breaks the loop outright, independent of total queue occupancy.
const (
	defaultMaxDeferred   = 1000
	defaultDrainBatch    = 50
	defaultDrainInterval = 5 * time.Millisecond
	defaultLoopWarn      = 100
	defaultLoopDrop      = 500
)

// Dispatcher is the hook dispatch engine and plugin registry. All
// mutable state lives on the instance; create as many independent
// dispatchers as needed.
//
// Thread Safety:
// All methods are safe for concurrent use. Handler tables and plugin
// records are protected by a read-write mutex; concurrent top-level
// dispatches of the same hook name are serialized so that handlers
// never observe two overlapping chains for one name.
//
// Usage Pattern:
// Embed a Dispatcher as a private field and expose it through an
// accessor:
//
//	type App struct {
//	    hooks *plugfx.Dispatcher
//	}
//
//	func (a *App) Hooks() *plugfx.Dispatcher {
//	    return a.hooks
//	}
type Dispatcher struct {
	clock  clockz.Clock // Time abstraction injected at creation
	logger *slog.Logger

	mu            sync.RWMutex
	handlers      map[Key][]binding
	plugins       map[string]*pluginRecord
	totalBindings int
	closed        bool

	// Per-hook-name dispatch locks. Never removed once created; the
	// set of distinct hook names in a process is small and static.
	locksMu sync.Mutex
	locks   map[Key]*sync.Mutex

	handlerTimeout time.Duration
	drainInterval  time.Duration

	deferred *deferredQueue
	errq     *errorQueue
	skills   *SkillRegistry

	// Scheduler goroutine lifecycle.
	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	// Metrics field - zero initialization provides safe defaults.
	metrics Metrics
}

// New creates a dispatcher with the specified options and starts its
// scheduler goroutine.
//
// Default configuration:
//   - clockz.RealClock
//   - slog.Default() logger
//   - no handler timeout
//   - deferred queue of 1000, drained 50 per 5ms tick
//
// Example:
//
//	d := plugfx.New(
//	    plugfx.WithHandlerTimeout(5*time.Second),
//	    plugfx.WithMaxDeferred(200),
//	)
//	defer d.Close()
func New(opts ...Option) *Dispatcher {
	cfg := config{
		clock:         clockz.RealClock,
		maxDeferred:   defaultMaxDeferred,
		drainBatch:    defaultDrainBatch,
		drainInterval: defaultDrainInterval,
		loopWarn:      defaultLoopWarn,
		loopDrop:      defaultLoopDrop,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	d := &Dispatcher{
		clock:          cfg.clock,
		logger:         cfg.logger,
		handlers:       make(map[Key][]binding),
		plugins:        make(map[string]*pluginRecord),
		locks:          make(map[Key]*sync.Mutex),
		handlerTimeout: cfg.handlerTimeout,
		drainInterval:  cfg.drainInterval,
		skills:         NewSkillRegistry(),
		kick:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
	}
	d.deferred = newDeferredQueue(cfg.maxDeferred, cfg.drainBatch, cfg.loopWarn, cfg.loopDrop)
	d.errq = &errorQueue{}

	d.wg.Add(1)
	go d.schedulerLoop()
	return d
}

// Skills returns the dispatcher's skill registry.
func (d *Dispatcher) Skills() *SkillRegistry {
	return d.skills
}

// On registers a handler for the given hook name on behalf of pluginID.
// Handlers run in descending priority order; ties preserve registration
// order. Registering the same function twice produces two independent
// invocations per dispatch (idempotence is the caller's responsibility).
//
// The plugin id does not need to be registered first; bindings of
// unknown plugins are treated as enabled.
func (d *Dispatcher) On(hook Key, fn Handler, pluginID string, priority int) (Binding, error) {
	if fn == nil {
		return Binding{}, ErrNilHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Binding{}, ErrClosed
	}

	// Enforce resource limits to prevent memory exhaustion.
	if len(d.handlers[hook]) >= maxBindingsPerHook {
		return Binding{}, ErrTooManyBindings
	}
	if d.totalBindings >= maxTotalBindings {
		return Binding{}, ErrTooManyBindings
	}

	id := uuid.NewString()
	d.handlers[hook] = insertBinding(d.handlers[hook], binding{
		id:       id,
		pluginID: pluginID,
		priority: priority,
		fn:       fn,
	})
	d.totalBindings++

	return Binding{
		remove: func() error {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.removeBindingLocked(hook, id)
		},
	}, nil
}

// Off removes a binding using its handle.
func (d *Dispatcher) Off(b Binding) error {
	return b.Remove()
}

// Dispatch runs event through every handler registered for hook, in
// priority order, followed by Wildcard handlers. Each handler sees the
// cumulative result of the handlers before it; the final accumulator is
// returned.
//
// A handler failure never aborts the chain and never surfaces here: the
// error is captured and delivered later to HookPluginError handlers.
// Dispatch only returns an error for dispatcher bookkeeping problems
// (currently just ErrClosed).
//
// Dispatching a hook name that is already dispatching in the same call
// tree is rejected: the call logs a warning and returns event unchanged.
// The guard travels with the context, so handlers making nested
// Dispatch calls must pass along the ctx they were given.
//
// Concurrent top-level dispatches of the same name from unrelated
// goroutines are serialized. Dispatches nested inside another hook's
// handler run without that serialization; blocking there could
// deadlock two call trees nesting into each other's names in opposite
// order.
func (d *Dispatcher) Dispatch(ctx context.Context, hook Key, event Event) (Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if event == nil {
		event = Event{}
	}

	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return event, ErrClosed
	}

	// Reentrance guard: same-name dispatch inside this call tree is
	// rejected, not queued.
	chain := activeChain(ctx)
	if _, active := chain[hook]; active {
		atomic.AddInt64(&d.metrics.RecursionRejected, 1)
		d.logger.Warn("recursive dispatch rejected", "hook", hook)
		return event, nil
	}

	// Only top-level dispatches take the per-name lock. A nested
	// dispatch already inside another hook's handler must not block on
	// it: two goroutines nesting into each other's hook names in
	// opposite order would each hold one lock and wait on the other,
	// forever.
	if len(chain) == 0 {
		lk := d.lockFor(hook)
		lk.Lock()
		defer lk.Unlock()
	}

	ctx = withChain(ctx, chain, hook)

	acc := event
	for _, b := range d.snapshot(hook) {
		if d.pluginDisabled(b.pluginID) {
			continue
		}
		out, err := d.invoke(ctx, b, acc, hook)
		if err != nil {
			atomic.AddInt64(&d.metrics.HandlerFailures, 1)
			d.errq.capture(errorEntry{
				ID:       uuid.NewString(),
				PluginID: b.pluginID,
				Hook:     hook,
				Err:      err,
				Snapshot: CloneEvent(acc),
			})
			continue
		}
		if out != nil {
			acc = out
		}
	}
	atomic.AddInt64(&d.metrics.Dispatches, 1)

	// Error delivery and deferred drainage happen on the scheduler
	// tick, outside this call stack.
	if d.errq.pending() > 0 || d.deferred.pending() > 0 {
		d.nudge()
	}
	return acc, nil
}

// invoke runs one handler with panic recovery and the configured
// handler timeout.
func (d *Dispatcher) invoke(ctx context.Context, b binding, event Event, hook Key) (out Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
		}
	}()

	if d.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = d.clock.WithTimeout(ctx, d.handlerTimeout)
		defer cancel()
	}

	atomic.AddInt64(&d.metrics.HandlersInvoked, 1)
	return b.fn(ctx, event, hook)
}

// lockFor returns the dispatch serialization lock for a hook name,
// creating it on first use.
func (d *Dispatcher) lockFor(hook Key) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()

	lk, ok := d.locks[hook]
	if !ok {
		lk = &sync.Mutex{}
		d.locks[hook] = lk
	}
	return lk
}

// nudge wakes the scheduler goroutine without blocking. The buffered
// channel coalesces repeated nudges into one pending wakeup.
func (d *Dispatcher) nudge() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Close shuts down the dispatcher. Pending captured errors are
// delivered one last time; deferred events that never drained are
// dropped and counted. All subsequent operations return ErrClosed.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrAlreadyClosed
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)
	d.wg.Wait()

	if dropped := d.deferred.clear(); dropped > 0 {
		atomic.AddInt64(&d.metrics.DeferredDropped, int64(dropped))
		atomic.StoreInt64(&d.metrics.DeferredDepth, 0)
		d.logger.Warn("dropping undrained deferred events on close", "count", dropped)
	}
	return nil
}

// chainKey is the context key carrying the set of hook names currently
// dispatching in one logical call tree.
type chainKey struct{}

// activeChain returns the hook names already dispatching in this call
// tree, or nil outside any dispatch.
func activeChain(ctx context.Context) map[Key]struct{} {
	chain, _ := ctx.Value(chainKey{}).(map[Key]struct{})
	return chain
}

// withChain derives a context whose chain includes hook. The parent
// chain is copied, never mutated: sibling handlers suspended mid-chain
// must not observe each other's nested dispatches.
func withChain(ctx context.Context, chain map[Key]struct{}, hook Key) context.Context {
	next := make(map[Key]struct{}, len(chain)+1)
	for k := range chain {
		next[k] = struct{}{}
	}
	next[hook] = struct{}{}
	return context.WithValue(ctx, chainKey{}, next)
}
