// Package frontend is the client side of the messaging stack: a process-wide
// frontend session id and proxies to backend services.
package frontend

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/codefionn/workbench/internal/jsonrpc"
	"github.com/codefionn/workbench/internal/messaging"
	"github.com/codefionn/workbench/internal/transport"
)

var (
	currentOnce sync.Once
	currentID   string
)

// CurrentSession returns the frontend session id of this process. It is
// generated once and stays stable for the process lifetime.
func CurrentSession() string {
	currentOnce.Do(func() {
		currentID = uuid.NewString()
	})
	return currentID
}

// NewDialer returns a Dialer for the socket endpoint at url that identifies
// itself with CurrentSession.
func NewDialer(url string, opts transport.Options) *transport.Dialer {
	return &transport.Dialer{
		URL:       url,
		SessionID: CurrentSession(),
		Options:   opts,
	}
}

// ProxyProvider creates proxies to backend services.
type ProxyProvider struct {
	connections transport.ConnectionProvider
	cache       *jsonrpc.Cache
}

// NewProxyProvider creates a provider opening connections through
// connections.
func NewProxyProvider(connections transport.ConnectionProvider) *ProxyProvider {
	return &ProxyProvider{
		connections: connections,
		cache:       jsonrpc.NewCache(),
	}
}

// GetProxyByID returns a proxy for serviceID. The connection is opened in
// the background; calls made meanwhile are queued. The proxy owns the
// connection and closes it on Dispose.
func (p *ProxyProvider) GetProxyByID(serviceID string) *jsonrpc.Proxy {
	path := jsonrpc.ServicePath(serviceID)
	return jsonrpc.NewProxy(func(ctx context.Context) (*jsonrpc.MessageConnection, error) {
		conn, err := p.connections.GetConnection(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("connect to service %s: %w", serviceID, err)
		}
		return p.cache.Get(conn), nil
	}, jsonrpc.OwnConnection())
}

// GetProxyOverConnection returns a proxy speaking over an existing
// connection.
func (p *ProxyProvider) GetProxyOverConnection(conn messaging.Connection) *jsonrpc.Proxy {
	return jsonrpc.NewProxy(jsonrpc.Resolved(p.cache.Get(conn)))
}
