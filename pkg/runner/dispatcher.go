package runner

import "context"

// EventDispatcher is a minimal in-process Dispatcher. The host framework
// ships its own; this one backs tests and embedded usage.
type EventDispatcher struct {
	handlers map[EventKind][]HandlerFunc
}

// NewDispatcher creates an empty EventDispatcher.
func NewDispatcher() *EventDispatcher {
	return &EventDispatcher{handlers: make(map[EventKind][]HandlerFunc)}
}

// Listen subscribes fn to events of the given kind.
func (d *EventDispatcher) Listen(kind EventKind, fn HandlerFunc) Dispatcher {
	d.handlers[kind] = append(d.handlers[kind], fn)
	return d
}

// Fire delivers ev to every handler subscribed to its kind, in subscription
// order, stopping at the first handler error.
func (d *EventDispatcher) Fire(ctx context.Context, ev Event) error {
	for _, fn := range d.handlers[ev.Kind()] {
		if err := fn(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

var _ Dispatcher = (*EventDispatcher)(nil)
