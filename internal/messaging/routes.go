package messaging

import (
	"sync"

	"github.com/codefionn/workbench/internal/event"
)

// Disposer is implemented by handlers and providers that hold resources. The
// session-scoped ones are disposed when their session becomes empty.
type Disposer interface {
	Dispose()
}

type routable interface {
	Route() string
}

type routed[T routable] struct {
	matcher RouteMatcher
	target  T
}

func compileRoutes[T routable](targets []T) ([]routed[T], error) {
	out := make([]routed[T], 0, len(targets))
	for _, t := range targets {
		m, err := NewRouteMatcher(t.Route())
		if err != nil {
			return nil, err
		}
		out = append(out, routed[T]{matcher: m, target: t})
	}
	return out, nil
}

// sessionRoutes caches the compiled session-scoped routes of each session.
// Entries are disposed and dropped when the session becomes empty and is
// still empty at eviction time.
type sessionRoutes[T routable] struct {
	kind    string
	resolve func(*SessionScope) []T

	mu    sync.Mutex
	cache map[*FrontendSession]*sessionEntry[T]
}

type sessionEntry[T routable] struct {
	routes []routed[T]
	sub    event.Disposable
}

func newSessionRoutes[T routable](kind string, resolve func(*SessionScope) []T) *sessionRoutes[T] {
	return &sessionRoutes[T]{
		kind:    kind,
		resolve: resolve,
		cache:   make(map[*FrontendSession]*sessionEntry[T]),
	}
}

func (c *sessionRoutes[T]) get(session *FrontendSession) []routed[T] {
	c.mu.Lock()
	if entry, ok := c.cache[session]; ok {
		c.mu.Unlock()
		return entry.routes
	}
	c.mu.Unlock()

	// Building the scope runs session modules; keep it outside the lock.
	targets := c.resolve(session.Scope())
	routes := make([]routed[T], 0, len(targets))
	for _, t := range targets {
		m, err := NewRouteMatcher(t.Route())
		if err != nil {
			routerLog.Warn("Skipping session %s %s: %v", c.kind, session.ID(), err)
			continue
		}
		routes = append(routes, routed[T]{matcher: m, target: t})
	}

	c.mu.Lock()
	if existing, ok := c.cache[session]; ok {
		c.mu.Unlock()
		return existing.routes
	}
	entry := &sessionEntry[T]{routes: routes}
	c.cache[session] = entry
	c.mu.Unlock()

	// A session can empty more than once if a connection re-registers
	// before eviction, so the listener stays until the entry is gone.
	sub := session.OnEmpty()(func(struct{}) {
		c.evict(session)
	})
	c.mu.Lock()
	if c.cache[session] == entry {
		entry.sub = sub
		sub = nil
	}
	c.mu.Unlock()
	if sub != nil {
		sub.Dispose()
	}

	// The last connection may have closed before the listener was armed.
	if session.IsEmpty() {
		c.evict(session)
	}
	return routes
}

// evict disposes the session's routes unless a connection joined the
// session again after it emptied.
func (c *sessionRoutes[T]) evict(session *FrontendSession) {
	c.mu.Lock()
	entry, ok := c.cache[session]
	if !ok || !session.IsEmpty() {
		c.mu.Unlock()
		return
	}
	delete(c.cache, session)
	c.mu.Unlock()

	if entry.sub != nil {
		entry.sub.Dispose()
	}
	for _, r := range entry.routes {
		if d, ok := any(r.target).(Disposer); ok {
			d.Dispose()
		}
	}
}

func (c *sessionRoutes[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
