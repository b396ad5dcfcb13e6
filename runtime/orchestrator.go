// Package runtime holds the in-memory machinery of the server: the fan-out bus,
// the presence register, per-key locks and the orchestrator that starts the
// supervised workers. It carries no business rule.
package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"chat-hub/observability"
	"chat-hub/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Orchestrator publishes events to the live bus and relays committed ones to the
// permanent sinks through a bounded buffer drained by the EventFanout worker.
type Orchestrator struct {
	mu             sync.Mutex
	log            *slog.Logger
	supervisor     contract.ISupervisor
	bus            contract.IBus
	metrics        *observability.Metrics
	relay          chan event.Event
	permanentSinks []contract.EventSink
	workers        []contract.Worker
	sinkTimeout    time.Duration
}

func NewOrchestrator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	bus contract.IBus,
	metrics *observability.Metrics,
	bufferSize int,
	sinkTimeout time.Duration,
) *Orchestrator {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Orchestrator{
		log:         log,
		supervisor:  supervisor,
		bus:         bus,
		metrics:     metrics,
		relay:       make(chan event.Event, bufferSize),
		sinkTimeout: sinkTimeout,
	}
}

// Add registers permanent sinks. It must be called before Start.
func (o *Orchestrator) Add(sinks ...contract.EventSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.permanentSinks = append(o.permanentSinks, sinks...)
}

// AddWorkers registers extra workers supervised alongside the relay.
func (o *Orchestrator) AddWorkers(w ...contract.Worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workers = append(o.workers, w...)
}

// Publish delivers e to live connections. Durable events are also queued for the
// permanent sinks; a full queue drops the event for them only.
func (o *Orchestrator) Publish(ctx context.Context, e event.Event) {
	o.bus.Publish(ctx, e)
	if !e.IsDurable() || !o.hasSinks() {
		return
	}
	select {
	case o.relay <- e:
	default:
		o.metrics.RelayDropped()
		o.log.Warn("Relay buffer full, dropping event for permanent sinks",
			"kind", e.Kind, "conversation_id", e.ConversationID)
	}
}

// Start prepares the relay, registers every worker and runs the supervisor until ctx ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	fanout := workers.NewEventFanout(o.log, o.relay, o.sinkTimeout, o.permanentSinks...)
	o.supervisor.Add(fanout)
	o.supervisor.Add(o.workers...)
	count := len(o.workers) + 1
	o.mu.Unlock()

	o.log.Info(fmt.Sprintf("Starting orchestrator with %d supervised workers", count))
	o.supervisor.Run(ctx)
	return nil
}

func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

func (o *Orchestrator) hasSinks() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.permanentSinks) > 0
}
