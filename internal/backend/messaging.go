package backend

import (
	"fmt"
	"net/http"

	"github.com/codefionn/workbench/internal/jsonrpc"
	"github.com/codefionn/workbench/internal/messaging"
	"github.com/codefionn/workbench/internal/transport"
)

// SocketPath is the path of the socket endpoint below the application root.
const SocketPath = "socket"

// MessagingContribution wires the messaging stack into the application:
// sessions, the connection router, the service registry and the JSON-RPC
// service handler, reachable over a WebSocket at <root>socket.
type MessagingContribution struct {
	handlers  []messaging.ConnectionHandler
	providers []messaging.ServiceProvider
	modules   []messaging.SessionModule

	registry *messaging.FrontendSessionRegistry
	router   *messaging.ConnectionRouter
	cache    *jsonrpc.Cache
	socket   *transport.Server
}

// NewMessagingContribution creates an empty contribution. Handlers,
// providers and session modules must be added before the application is
// created.
func NewMessagingContribution() *MessagingContribution {
	return &MessagingContribution{}
}

// AddConnectionHandler registers global connection handlers.
func (m *MessagingContribution) AddConnectionHandler(handlers ...messaging.ConnectionHandler) {
	m.handlers = append(m.handlers, handlers...)
}

// AddServiceProvider registers global service providers.
func (m *MessagingContribution) AddServiceProvider(providers ...messaging.ServiceProvider) {
	m.providers = append(m.providers, providers...)
}

// AddSessionModule registers a module run for every new frontend session.
func (m *MessagingContribution) AddSessionModule(modules ...messaging.SessionModule) {
	m.modules = append(m.modules, modules...)
}

// Configure builds the messaging stack and mounts the socket endpoint. An
// invalid route fails the application's Start.
func (m *MessagingContribution) Configure(app *Application) error {
	m.registry = messaging.NewFrontendSessionRegistry(m.modules...)
	m.cache = jsonrpc.NewCache()

	services, err := messaging.NewServiceRegistry(m.providers...)
	if err != nil {
		return fmt.Errorf("messaging services: %w", err)
	}

	handlers := append([]messaging.ConnectionHandler{jsonrpc.NewConnectionHandler(services, m.cache)}, m.handlers...)
	router, err := messaging.NewConnectionRouter(m.registry, handlers...)
	if err != nil {
		return fmt.Errorf("messaging routes: %w", err)
	}
	m.router = router

	cfg := app.Config().Socket
	m.socket = transport.NewServer(router, transport.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		WriteWait:      cfg.WriteWait.Duration,
		PongWait:       cfg.PongWait.Duration,
		PingPeriod:     cfg.PingPeriod.Duration,
		SendBuffer:     cfg.SendBuffer,
	})
	app.Handle(http.MethodGet, SocketPath, m.socket)
	return nil
}

// OnStop closes every open socket connection.
func (m *MessagingContribution) OnStop(*Application) {
	if m.socket != nil {
		log.Info("Closing %d socket connections", m.socket.Len())
		m.socket.Close()
	}
}

// Sessions returns the frontend session registry.
func (m *MessagingContribution) Sessions() *messaging.FrontendSessionRegistry {
	return m.registry
}
