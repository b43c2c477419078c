package messaging

import (
	"context"
	"fmt"

	"github.com/codefionn/workbench/internal/logger"
)

var routerLog = logger.Component("router")

// ConnectionHandler accepts inbound connections whose path matches Route.
//
// HandleConnection reports whether it took the connection. Returning false or
// an error lets the router try the next matching handler.
type ConnectionHandler interface {
	Route() string
	HandleConnection(ctx context.Context, conn Connection, params RouteParams, session *FrontendSession) (bool, error)
}

// HandlerFunc is the function form of ConnectionHandler.HandleConnection.
type HandlerFunc func(ctx context.Context, conn Connection, params RouteParams, session *FrontendSession) (bool, error)

// NewHandler pairs a route pattern with a HandlerFunc.
func NewHandler(route string, fn HandlerFunc) ConnectionHandler {
	return &funcHandler{route: route, fn: fn}
}

type funcHandler struct {
	route string
	fn    HandlerFunc
}

func (h *funcHandler) Route() string { return h.route }

func (h *funcHandler) HandleConnection(ctx context.Context, conn Connection, params RouteParams, session *FrontendSession) (bool, error) {
	return h.fn(ctx, conn, params, session)
}

// ConnectionRouter dispatches inbound connections to handlers. Global handlers
// are tried before the handlers bound in the connection's session scope; the
// first handler that returns true wins.
type ConnectionRouter struct {
	registry *FrontendSessionRegistry
	global   []routed[ConnectionHandler]
	sessions *sessionRoutes[ConnectionHandler]
}

// NewConnectionRouter compiles the global handler routes. An invalid pattern
// is reported as an error wrapping ErrInvalidRoute.
func NewConnectionRouter(registry *FrontendSessionRegistry, handlers ...ConnectionHandler) (*ConnectionRouter, error) {
	global, err := compileRoutes(handlers)
	if err != nil {
		return nil, fmt.Errorf("connection router: %w", err)
	}
	return &ConnectionRouter{
		registry: registry,
		global:   global,
		sessions: newSessionRoutes("connection handler", (*SessionScope).ConnectionHandlers),
	}, nil
}

// RouteConnection registers conn with the session sessionID and offers it to
// the matching handlers. It returns false when no handler took the connection
// or the connection closed before one could.
func (r *ConnectionRouter) RouteConnection(ctx context.Context, sessionID, path string, conn Connection) (bool, error) {
	if IsClosed(conn) {
		routerLog.Debug("Not routing %s connection %s: %s", conn.State(), conn.ID(), path)
		return false, nil
	}

	session, err := r.registry.GetFrontendSessionFor(sessionID, conn)
	if err != nil {
		return false, fmt.Errorf("register connection %s with session %s: %w", conn.ID(), sessionID, err)
	}

	if r.tryRoutes(ctx, r.global, path, conn, session) {
		return true, nil
	}
	if IsClosed(conn) {
		return false, nil
	}
	if r.tryRoutes(ctx, r.sessions.get(session), path, conn, session) {
		return true, nil
	}

	if !IsClosed(conn) {
		routerLog.Warn("Unhandled connection %s for path %s (session %s)", conn.ID(), path, sessionID)
	}
	return false, nil
}

func (r *ConnectionRouter) tryRoutes(ctx context.Context, routes []routed[ConnectionHandler], path string, conn Connection, session *FrontendSession) bool {
	for _, route := range routes {
		params, ok := route.matcher.Match(path)
		if !ok {
			continue
		}
		if IsClosed(conn) {
			routerLog.Debug("Connection %s closed while routing %s", conn.ID(), path)
			return false
		}
		handled, err := r.invoke(ctx, route, conn, params, session)
		if err != nil {
			routerLog.Error("Handler for %s failed on %s: %v", route.matcher.Pattern(), path, err)
			continue
		}
		if handled {
			routerLog.Debug("Connection %s handled by %s", conn.ID(), route.matcher.Pattern())
			return true
		}
	}
	return false
}

func (r *ConnectionRouter) invoke(ctx context.Context, route routed[ConnectionHandler], conn Connection, params RouteParams, session *FrontendSession) (handled bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			handled = false
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return route.target.HandleConnection(ctx, conn, params, session)
}
