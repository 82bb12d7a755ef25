// Package events implements the outbound change-notification plumbing.
//
// The watcher is a process-local observable; the sinks adapt it and the
// logger to the fire-and-forget push contract of the delegation service.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.govkit.dev/mandate"
	"go.govkit.dev/mandate/core/delegation"
)

// Observer is the interface to implement to watch events.
type Observer interface {
	NotifyCallback(event interface{})
}

// Observable provides primitives to add and remove observers and to notify
// them of new events.
type Observable interface {
	// Add adds the observer to the list of observers that will be notified of
	// new events.
	Add(observer Observer)

	// Remove removes the observer from the list thus stopping it from
	// receiving new events.
	Remove(observer Observer)

	// Notify notifies the observers of a new event.
	Notify(event interface{})
}

// Watcher is an implementation of the Observable interface.
//
// - implements events.Observable
type Watcher struct {
	sync.RWMutex

	observers map[Observer]struct{}
}

// NewWatcher creates a new empty watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		observers: make(map[Observer]struct{}),
	}
}

// Add implements events.Observable. It adds the observer to the list of
// observers that will be notified of new events.
func (w *Watcher) Add(observer Observer) {
	w.Lock()
	w.observers[observer] = struct{}{}
	w.Unlock()
}

// Remove implements events.Observable. It removes the observer from the list
// thus stopping it from receiving new events.
func (w *Watcher) Remove(observer Observer) {
	w.Lock()
	delete(w.observers, observer)
	w.Unlock()
}

// Notify implements events.Observable. It notifies the whole list of
// observers one after each other.
func (w *Watcher) Notify(event interface{}) {
	w.RLock()
	defer w.RUnlock()

	for o := range w.observers {
		o.NotifyCallback(event)
	}
}

// WatcherSink pushes delegation changes to the observers of a watcher.
//
// - implements delegation.EventSink
type WatcherSink struct {
	watcher Observable
}

// NewWatcherSink creates a sink notifying the watcher.
func NewWatcherSink(watcher Observable) WatcherSink {
	return WatcherSink{watcher: watcher}
}

// Push implements delegation.EventSink. It notifies the observers of the
// change.
func (s WatcherSink) Push(ctx context.Context, change delegation.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.watcher.Notify(change)

	return nil
}

// LogSink writes every pushed change to the logger.
//
// - implements delegation.EventSink
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing to the global logger.
func NewLogSink() LogSink {
	return LogSink{
		logger: mandate.Logger.With().Str("component", "events").Logger(),
	}
}

// Push implements delegation.EventSink. It logs the change.
func (s LogSink) Push(ctx context.Context, change delegation.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Info().
		Str("change", change.ID).
		Str("type", string(change.Type)).
		Str("resource", change.ResourceID).
		Msg("delegation changed")

	return nil
}
