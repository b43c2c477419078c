package messaging

import (
	"sort"
	"sync"

	"github.com/codefionn/workbench/internal/event"
	"github.com/codefionn/workbench/internal/logger"
)

var sessionLog = logger.Component("session")

// SessionModule contributes session-scoped bindings. Modules run once per
// FrontendSession, the first time its scope is needed.
type SessionModule func(scope *SessionScope) error

// SessionScope holds everything bound for one FrontendSession: its
// session-scoped connection handlers, service providers and named values.
// Values bound on the process-wide parent scope are visible through Get.
type SessionScope struct {
	session *FrontendSession
	parent  map[string]any

	mu        sync.RWMutex
	handlers  []ConnectionHandler
	providers []ServiceProvider
	values    map[string]any
}

func newSessionScope(session *FrontendSession, parent map[string]any) *SessionScope {
	return &SessionScope{
		session: session,
		parent:  parent,
		values:  make(map[string]any),
	}
}

// Session returns the session that owns this scope.
func (s *SessionScope) Session() *FrontendSession {
	return s.session
}

// AddConnectionHandler registers a session-scoped handler. Handlers keep
// their registration order.
func (s *SessionScope) AddConnectionHandler(handlers ...ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handlers...)
}

// AddServiceProvider registers a session-scoped service provider.
func (s *SessionScope) AddServiceProvider(providers ...ServiceProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, providers...)
}

// Bind stores a named value in this scope, shadowing the parent scope.
func (s *SessionScope) Bind(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get looks a value up in this scope, then in the parent scope.
func (s *SessionScope) Get(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	v, ok = s.parent[key]
	return v, ok
}

// ConnectionHandlers returns the session-scoped handlers in registration order.
func (s *SessionScope) ConnectionHandlers() []ConnectionHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ConnectionHandler(nil), s.handlers...)
}

// ServiceProviders returns the session-scoped providers in registration order.
func (s *SessionScope) ServiceProviders() []ServiceProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ServiceProvider(nil), s.providers...)
}

// FrontendSession groups the connections that share one session id.
type FrontendSession struct {
	id string

	mu          sync.Mutex
	connections map[Connection]event.Disposable
	onEmpty     *event.Emitter[struct{}]

	scopeOnce    sync.Once
	scope        *SessionScope
	scopeFactory func(*FrontendSession) *SessionScope
}

// NewFrontendSession creates an empty session. scopeFactory builds the
// session scope on first use; nil yields an empty scope.
func NewFrontendSession(id string, scopeFactory func(*FrontendSession) *SessionScope) *FrontendSession {
	return &FrontendSession{
		id:           id,
		connections:  make(map[Connection]event.Disposable),
		onEmpty:      event.NewEmitter[struct{}](),
		scopeFactory: scopeFactory,
	}
}

// ID returns the session id supplied by the frontend.
func (s *FrontendSession) ID() string {
	return s.id
}

// OnEmpty fires each time the connection set goes from non-empty to empty.
func (s *FrontendSession) OnEmpty() event.Event[struct{}] {
	return s.onEmpty.Event()
}

// Scope returns the session scope, creating it on first call.
func (s *FrontendSession) Scope() *SessionScope {
	s.scopeOnce.Do(func() {
		if s.scopeFactory != nil {
			s.scope = s.scopeFactory(s)
		}
		if s.scope == nil {
			s.scope = newSessionScope(s, nil)
		}
	})
	return s.scope
}

// Connections returns a snapshot of the registered connections.
func (s *FrontendSession) Connections() []Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// Has reports whether conn is registered in this session.
func (s *FrontendSession) Has(conn Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.connections[conn]
	return ok
}

// IsEmpty is true when the session has no live connections.
func (s *FrontendSession) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections) == 0
}

// RegisterConnection adds conn to the session. The connection leaves the
// session automatically when it closes. Registering a closing or closed
// connection fails with ErrConnectionClosed.
func (s *FrontendSession) RegisterConnection(conn Connection) error {
	emptied, err := s.register(conn)
	if emptied {
		s.fireEmpty()
	}
	return err
}

// register adds conn without firing OnEmpty. emptied reports that conn closed
// during registration and its removal left the session empty.
func (s *FrontendSession) register(conn Connection) (emptied bool, err error) {
	if IsClosed(conn) {
		return false, ErrConnectionClosed
	}

	s.mu.Lock()
	if _, ok := s.connections[conn]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.connections[conn] = event.Nop
	s.mu.Unlock()

	sub := event.Once(conn.OnClose(), func(struct{}) {
		s.removeConnection(conn)
	})

	s.mu.Lock()
	if _, ok := s.connections[conn]; ok {
		s.connections[conn] = sub
	}
	s.mu.Unlock()

	// The close event may have fired before the listener was attached.
	if conn.State() == StateClosed {
		removed, empty := s.detach(conn)
		if removed {
			return empty, ErrConnectionClosed
		}
	}
	if !s.Has(conn) {
		return false, ErrConnectionClosed
	}
	return false, nil
}

func (s *FrontendSession) detach(conn Connection) (removed, empty bool) {
	s.mu.Lock()
	sub, ok := s.connections[conn]
	if !ok {
		s.mu.Unlock()
		return false, false
	}
	delete(s.connections, conn)
	empty = len(s.connections) == 0
	s.mu.Unlock()

	sub.Dispose()
	return true, empty
}

func (s *FrontendSession) removeConnection(conn Connection) {
	if removed, empty := s.detach(conn); removed && empty {
		s.fireEmpty()
	}
}

func (s *FrontendSession) fireEmpty() {
	sessionLog.Debug("Session %s has no connections left", s.id)
	s.onEmpty.Fire(struct{}{})
}

// Clear drops every connection and fires OnEmpty if the session was not
// already empty. The connections themselves stay open.
func (s *FrontendSession) Clear() {
	s.mu.Lock()
	if len(s.connections) == 0 {
		s.mu.Unlock()
		return
	}
	subs := make([]event.Disposable, 0, len(s.connections))
	for conn, sub := range s.connections {
		subs = append(subs, sub)
		delete(s.connections, conn)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Dispose()
	}
	s.onEmpty.Fire(struct{}{})
}

// FrontendSessionRegistry tracks the live FrontendSession of each session id.
type FrontendSessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*FrontendSession
	modules  []SessionModule
	parent   map[string]any
}

// NewFrontendSessionRegistry creates a registry whose session scopes are
// built by running modules in order.
func NewFrontendSessionRegistry(modules ...SessionModule) *FrontendSessionRegistry {
	return &FrontendSessionRegistry{
		sessions: make(map[string]*FrontendSession),
		modules:  modules,
		parent:   make(map[string]any),
	}
}

// BindGlobal stores a process-wide value visible from every session scope.
// It must be called before sessions are created.
func (r *FrontendSessionRegistry) BindGlobal(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent[key] = value
}

// GetFrontendSession returns the live session for sessionID, if any.
func (r *FrontendSessionRegistry) GetFrontendSession(sessionID string) (*FrontendSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// GetFrontendSessionFor gets or creates the session for sessionID and
// registers conn into it. Lookup, creation and registration happen under one
// lock, so concurrent first connections share a single session. On success
// the returned session contains conn.
func (r *FrontendSessionRegistry) GetFrontendSessionFor(sessionID string, conn Connection) (*FrontendSession, error) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		session = NewFrontendSession(sessionID, r.createScope)
	}
	emptied, err := session.register(conn)
	if err == nil && !ok {
		r.sessions[sessionID] = session
		session.OnEmpty()(func(struct{}) { r.evict(session) })
		sessionLog.Info("Created frontend session %s", sessionID)
	}
	r.mu.Unlock()

	// OnEmpty listeners take the registry lock, so fire after releasing it.
	if emptied {
		session.fireEmpty()
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *FrontendSessionRegistry) evict(session *FrontendSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[session.ID()]; ok && current == session && session.IsEmpty() {
		delete(r.sessions, session.ID())
		sessionLog.Info("Evicted frontend session %s", session.ID())
	}
}

// Sessions returns the ids of all live sessions, sorted.
func (r *FrontendSessionRegistry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *FrontendSessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *FrontendSessionRegistry) createScope(session *FrontendSession) *SessionScope {
	r.mu.Lock()
	parent := make(map[string]any, len(r.parent))
	for k, v := range r.parent {
		parent[k] = v
	}
	r.mu.Unlock()

	scope := newSessionScope(session, parent)
	for i, module := range r.modules {
		if err := module(scope); err != nil {
			sessionLog.Error("Session module %d failed for session %s: %v", i, session.ID(), err)
		}
	}
	return scope
}
