package execution

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Event names the execution engine emits over its lifecycle.
const (
	EventOrderCreated  = "order_created"
	EventOrderUpdated  = "order_updated"
	EventOrderFilled   = "order_filled"
	EventOrderRejected = "order_rejected"
	EventOrderCanceled = "order_canceled"
)

// Handler receives the serialized order payload for an emitted event.
type Handler func(ctx context.Context, event string, payload json.RawMessage)

// EventBus is a publish/subscribe facade over a bounded message channel:
// Emit never blocks on handler latency, and a panicking handler is
// recovered and logged rather than propagated.
type EventBus struct {
	handlers map[string][]Handler
	queue    chan emission
	log      zerolog.Logger
}

type emission struct {
	ctx     context.Context
	event   string
	payload json.RawMessage
}

// NewEventBus builds a bus with a bounded dispatch queue of the given
// capacity; a full queue drops the event rather than blocking the caller,
// so a runaway handler cannot stall the state machine.
func NewEventBus(queueSize int, log zerolog.Logger) *EventBus {
	b := &EventBus{
		handlers: make(map[string][]Handler),
		queue:    make(chan emission, queueSize),
		log:      log,
	}
	return b
}

// On registers a handler for event.
func (b *EventBus) On(event string, handler Handler) {
	b.handlers[event] = append(b.handlers[event], handler)
}

// Run drains the dispatch queue until ctx is canceled, invoking each
// registered handler for every queued emission.
func (b *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			b.dispatch(e)
		}
	}
}

func (b *EventBus) dispatch(e emission) {
	for _, handler := range b.handlers[e.event] {
		b.invoke(e, handler)
	}
}

func (b *EventBus) invoke(e emission, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", e.event).Msg("event handler panicked")
		}
	}()
	handler(e.ctx, e.event, e.payload)
}

// Emit serializes payload and enqueues it for dispatch; if the queue is
// full the event is dropped and logged, never blocking the caller.
func (b *EventBus) Emit(ctx context.Context, event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("event", event).Msg("failed to serialize event payload")
		return
	}
	select {
	case b.queue <- emission{ctx: ctx, event: event, payload: raw}:
	default:
		b.log.Warn().Str("event", event).Msg("event queue full, dropping event")
	}
}
