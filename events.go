package callgate

import (
	"context"
	"log/slog"
)

// Observer receives lifecycle events. Implementations must be safe for
// concurrent use; Dedupe reports End and Error from its own goroutine.
type Observer interface {
	On(eventData EventData)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(EventData)

func (f ObserverFunc) On(eventData EventData) { f(eventData) }

// Event represents a lifecycle event type.
type Event int

const (
	// EventHit is emitted when Gate finds a fresh cache entry.
	EventHit Event = iota
	// EventMiss is emitted when Gate runs the wrapped operation.
	EventMiss
	// EventDedup is emitted when Dedupe attaches to an in-flight outcome.
	EventDedup
	// EventBegin is emitted after Dedupe dispatches the begin action.
	EventBegin
	// EventEnd is emitted after Dedupe dispatches the end action.
	EventEnd
	// EventError is emitted after Dedupe dispatches the error action.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventDedup:
		return "dedup"
	case EventBegin:
		return "begin"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// EventData carries the details of a lifecycle event.
type EventData struct {
	Event Event
	Name  string
	Key   string
	Err   error
}

// SlogObserver logs events to logger. Failures are logged at warn level,
// everything else at debug.
func SlogObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(e EventData) {
		attrs := []slog.Attr{
			slog.String("op", e.Name),
			slog.String("key", e.Key),
		}
		level := slog.LevelDebug
		if e.Err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.Any("error", e.Err))
		}
		logger.LogAttrs(context.Background(), level, "callgate "+e.Event.String(), attrs...)
	})
}

// Observers fans each event out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	return ObserverFunc(func(e EventData) {
		for _, o := range obs {
			if o != nil {
				o.On(e)
			}
		}
	})
}
