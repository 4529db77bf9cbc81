package callgate

import (
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a cached result stays fresh unless WithTTL is given.
const DefaultTTL = 60 * time.Second

// Option configures Gate and Dedupe. Options that only concern one stage
// are ignored by the other.
type Option func(*config)

type config struct {
	ttl         time.Duration
	cacheSet    func(key string, ts time.Time) Action
	ttlSelector func(state any, key string) time.Time
	clock       func() time.Time

	inflightSelector func(state any, key string) Handle
	begin            func(key string, h Handle) Action
	end              func(key string) Action
	fail             func(key string, err error) Action
	group            *singleflight.Group

	observer Observer
}

func newConfig(opts []Option) *config {
	cfg := &config{
		ttl:              DefaultTTL,
		cacheSet:         defaultCacheSet,
		ttlSelector:      DefaultTTLSelector,
		clock:            time.Now,
		inflightSelector: DefaultInflightSelector,
		begin:            defaultBegin,
		end:              defaultEnd,
		fail:             defaultError,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithTTL sets how long a cached result is fresh. Zero or negative means
// every call is stale.
func WithTTL(d time.Duration) Option {
	return func(c *config) {
		c.ttl = d
	}
}

// WithCacheSet replaces the action Gate dispatches after a successful fetch.
func WithCacheSet(fn func(key string, ts time.Time) Action) Option {
	return func(c *config) {
		if fn != nil {
			c.cacheSet = fn
		}
	}
}

// WithTTLSelector replaces how Gate reads the last cached timestamp.
// Returning the zero time means the key was never cached.
func WithTTLSelector(fn func(state any, key string) time.Time) Option {
	return func(c *config) {
		if fn != nil {
			c.ttlSelector = fn
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithInflightSelector replaces how Dedupe finds a running outcome for a key.
func WithInflightSelector(fn func(state any, key string) Handle) Option {
	return func(c *config) {
		if fn != nil {
			c.inflightSelector = fn
		}
	}
}

// WithBeginAction replaces the action dispatched when an execution starts.
func WithBeginAction(fn func(key string, h Handle) Action) Option {
	return func(c *config) {
		if fn != nil {
			c.begin = fn
		}
	}
}

// WithEndAction replaces the action dispatched when an execution succeeds.
func WithEndAction(fn func(key string) Action) Option {
	return func(c *config) {
		if fn != nil {
			c.end = fn
		}
	}
}

// WithErrorAction replaces the action dispatched when an execution fails.
func WithErrorAction(fn func(key string, err error) Action) Option {
	return func(c *config) {
		if fn != nil {
			c.fail = fn
		}
	}
}

// WithGroup makes Dedupe check and record in-flight work through g instead
// of the group it shares with every other Dedupe on the same store. Stores
// that cannot be map keys need it to share arbitration across operations.
func WithGroup(g *singleflight.Group) Option {
	return func(c *config) {
		c.group = g
	}
}

// WithObserver attaches an Observer that receives lifecycle events.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

func (c *config) emit(event Event, name, key string, err error) {
	if c.observer == nil {
		return
	}
	c.observer.On(EventData{
		Event: event,
		Name:  name,
		Key:   key,
		Err:   err,
	})
}
