// Package orchestrator coordinates the execution, settlement, data
// availability, and privacy layers against the root chain (C11). It is
// the layer above internal/node: node.Node owns process lifecycle
// (storage, P2P, RPC, mining); Orchestrator owns the cross-layer event
// flow a block's processing fans out into once execution produces a
// state root — something node.go currently does inline in its block
// handler closures. Orchestrator generalizes that into an explicit,
// bounded event bus plus supervised background tasks, so new layers can
// subscribe without the block handler needing to know about them.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind names the cross-layer events the orchestrator dispatches.
type EventKind string

const (
	EventBlockProposed       EventKind = "block_proposed"
	EventBlockValidated      EventKind = "block_validated"
	EventExecutionCompleted  EventKind = "execution_completed"
	EventBatchReady          EventKind = "batch_ready"
	EventSettlementCompleted EventKind = "settlement_completed"
	EventDataStored          EventKind = "data_stored"
	EventChallengeSubmitted  EventKind = "challenge_submitted"
	EventLayerHealthCheck    EventKind = "layer_health_check"
)

// Event is a single cross-layer notification. Payload is left as `any`
// since each EventKind carries a different concrete type (e.g.
// EventExecutionCompleted carries the types.Hash state root internal/chain
// verified against internal/execution.ExecuteBlock's result); subscribers
// type-assert on the kinds they care about.
type Event struct {
	Kind    EventKind
	Payload any
}

// Handler processes one event. Handlers run on the dispatch goroutine, so
// a slow handler backs up the whole bus — long work should be handed off
// to its own goroutine by the handler itself.
type Handler func(Event)

// Bus is a bounded, fan-out event channel. Publish never blocks past the
// channel's capacity: once full, events are dropped and counted, since a
// lagging subscriber must not stall block processing.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
	queue    chan Event
	dropped  uint64
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus creates an event bus with the given queue capacity.
func NewBus(capacity int, logger zerolog.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		handlers: make(map[EventKind][]Handler),
		queue:    make(chan Event, capacity),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers a handler for an event kind.
func (b *Bus) Subscribe(kind EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish enqueues an event, dropping it if the queue is full.
func (b *Bus) Publish(evt Event) {
	select {
	case b.queue <- evt:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn().Str("kind", string(evt.Kind)).Msg("event bus full, dropping event")
	}
}

// Dropped returns the number of events dropped due to a full queue.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Run starts the dispatch loop in its own goroutine and returns at once.
// The loop exits when Stop is called; events still queued at that point
// may be left undispatched.
func (b *Bus) Run() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case evt := <-b.queue:
				b.dispatch(evt)
			}
		}
	}()
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	handlers := append([]Handler{}, b.handlers[evt.Kind]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Stop shuts down the dispatch loop.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}

// LayerHealth reports the health of one wired layer.
type LayerHealth struct {
	Name    string
	Healthy bool
	Err     error
}

// HealthProbe reports whether a layer is functioning.
type HealthProbe func() error

// Orchestrator wires named layers together over a Bus and runs periodic
// health probes against each, publishing EventLayerHealthCheck on every
// pass.
type Orchestrator struct {
	bus    *Bus
	logger zerolog.Logger

	mu      sync.Mutex
	probes  map[string]HealthProbe
	tasks   map[string]*Supervisor
	shutdownGrace time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator over the given bus.
func New(bus *Bus, logger zerolog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		bus:           bus,
		logger:        logger,
		probes:        make(map[string]HealthProbe),
		tasks:         make(map[string]*Supervisor),
		shutdownGrace: 2 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// WireLayer registers a named layer's health probe. Layers named per the
// spec's component list: "chain", "mempool", "execution", "settlement",
// "da", "privacy".
func (o *Orchestrator) WireLayer(name string, probe HealthProbe) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probes[name] = probe
}

// Supervise registers a background task to run under exponential-backoff
// supervision — see Supervisor.
func (o *Orchestrator) Supervise(name string, task func(ctx context.Context) error) {
	sup := NewSupervisor(name, task, o.logger)
	o.mu.Lock()
	o.tasks[name] = sup
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		sup.Run(o.ctx)
	}()
}

// Start begins periodic health probing at the given interval.
func (o *Orchestrator) Start(probeInterval time.Duration) {
	o.bus.Run()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-o.ctx.Done():
				return
			case <-ticker.C:
				o.runHealthChecks()
			}
		}
	}()
}

func (o *Orchestrator) runHealthChecks() {
	o.mu.Lock()
	probes := make(map[string]HealthProbe, len(o.probes))
	for k, v := range o.probes {
		probes[k] = v
	}
	o.mu.Unlock()

	for name, probe := range probes {
		err := probe()
		health := LayerHealth{Name: name, Healthy: err == nil, Err: err}
		if err != nil {
			o.logger.Warn().Str("layer", name).Err(err).Msg("layer health check failed")
		}
		o.bus.Publish(Event{Kind: EventLayerHealthCheck, Payload: health})
	}
}

// Stop cancels all supervised tasks and waits up to the shutdown grace
// period before returning, then stops the bus.
func (o *Orchestrator) Stop() {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(o.shutdownGrace):
		o.logger.Warn().Dur("grace", o.shutdownGrace).Msg("orchestrator shutdown grace period elapsed, proceeding anyway")
	}

	o.bus.Stop()
}

// errLayerNotWired builds the error for a layer name that was never
// registered with WireLayer. No probe in this package returns it.
func errLayerNotWired(name string) error {
	return fmt.Errorf("layer %q not wired", name)
}
