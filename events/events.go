package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
)

// Event describes something that happened during a workflow execution,
// e.g. "execution_started", "step_completed", "execution_failed".
type Event struct {
	Type         string
	ExecutionID  uint64
	SubmissionID uint64
	Data         map[string]interface{}
}

// EventHandler defines the interface for handling events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// EventBus fans execution events out to subscribed handlers. Publishing is
// asynchronous: a buffered channel decouples the execution loop from
// handler latency, so a slow subscriber never stalls a run.
type EventBus struct {
	handlers   map[string][]EventHandler
	eventCh    chan Event
	errHandler func(event Event, err error)
	mu         sync.RWMutex
	wg         sync.WaitGroup
	closed     bool
}

// EventBusOption defines functional options for configuring EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		eb.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler sets a custom handler for errors returned by subscribers.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) {
		eb.errHandler = handler
	}
}

// NewEventBus creates a new EventBus and starts its processing goroutine.
// The default buffer size is 100.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		handlers:   make(map[string][]EventHandler),
		eventCh:    make(chan Event, 100),
		errHandler: defaultErrorHandler,
	}

	for _, option := range options {
		option(eb)
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe subscribes a handler to an event type.
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeFunc subscribes a function as a handler to an event type.
func (eb *EventBus) SubscribeFunc(eventType string, handlerFunc func(ctx context.Context, event Event) error) {
	eb.Subscribe(eventType, EventHandlerFunc(handlerFunc))
}

// HasSubscribers checks if there are any subscribers for a given event type.
func (eb *EventBus) HasSubscribers(eventType string) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) > 0
}

// Publish enqueues an event for asynchronous delivery. Events with no
// subscribers are dropped. Returns an error if the context is canceled, the
// bus is closed, or the channel is full.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	eb.mu.RLock()
	closed := eb.closed
	hasHandlers := len(eb.handlers[event.Type]) > 0
	eb.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}
	if !hasHandlers {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case eb.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers an event to all subscribers and waits for them,
// returning any handler errors. Delivery is bounded by a 5-second timeout
// on top of the caller's context.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) []error {
	eb.mu.RLock()
	closed := eb.closed
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	if closed {
		return []error{ErrBusClosed}
	}
	if len(handlers) == 0 {
		return nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return executeHandlers(timeoutCtx, handlers, event)
}

// Stop stops the event processing goroutine and waits for completion.
// Any unprocessed events are discarded to ensure a clean shutdown.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if !eb.closed {
		eb.closed = true
		for len(eb.eventCh) > 0 {
			<-eb.eventCh
		}
		close(eb.eventCh)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
}

// processEvents delivers queued events to subscribers.
func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for event := range eb.eventCh {
		eb.mu.RLock()
		handlers := eb.handlers[event.Type]
		errHandler := eb.errHandler
		eb.mu.RUnlock()

		if len(handlers) == 0 {
			continue
		}

		for _, err := range executeHandlers(context.Background(), handlers, event) {
			errHandler(event, err)
		}
	}
}

// executeHandlers runs all handlers for an event concurrently and collects
// their errors.
func executeHandlers(ctx context.Context, handlers []EventHandler, event Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

// defaultErrorHandler logs errors with stack traces for debugging.
func defaultErrorHandler(event Event, err error) {
	fmt.Printf("Error handling event %s (execution %d): %v\nStack: %s\n",
		event.Type, event.ExecutionID, err, debug.Stack())
}
