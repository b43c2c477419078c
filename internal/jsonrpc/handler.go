package jsonrpc

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/codefionn/workbench/internal/messaging"
)

// ServicesRoute is the connection route served by ConnectionHandler.
const ServicesRoute = "/services/:serviceId"

// ServicePath returns the connection path that reaches serviceID.
func ServicePath(serviceID string) string {
	return "/services/" + url.PathEscape(strings.TrimPrefix(serviceID, "/"))
}

// ConnectionHandler exposes services over JSON-RPC. A connection to
// ServicePath(id) is bound to the service the registry resolves for id in the
// connection's session.
type ConnectionHandler struct {
	services *messaging.ServiceRegistry
	cache    *Cache
}

// NewConnectionHandler creates a handler resolving services from services.
func NewConnectionHandler(services *messaging.ServiceRegistry, cache *Cache) *ConnectionHandler {
	return &ConnectionHandler{services: services, cache: cache}
}

// Route implements messaging.ConnectionHandler.
func (h *ConnectionHandler) Route() string {
	return ServicesRoute
}

// HandleConnection implements messaging.ConnectionHandler.
func (h *ConnectionHandler) HandleConnection(ctx context.Context, conn messaging.Connection, params messaging.RouteParams, session *messaging.FrontendSession) (bool, error) {
	serviceID, err := url.PathUnescape(params["serviceId"])
	if err != nil {
		return false, fmt.Errorf("service id %q: %w", params["serviceId"], err)
	}

	service, err := h.services.GetService(ctx, serviceID, session)
	if err != nil {
		return false, err
	}

	if _, err := NewServer(h.cache.Get(conn), service); err != nil {
		return false, fmt.Errorf("bind service %s: %w", serviceID, err)
	}
	log.Debug("Serving %s on connection %s", serviceID, conn.ID())
	return true, nil
}
