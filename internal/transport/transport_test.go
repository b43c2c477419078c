package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/workbench/internal/jsonrpc"
	"github.com/codefionn/workbench/internal/messaging"
)

type backend struct {
	registry *messaging.FrontendSessionRegistry
	server   *Server
	http     *httptest.Server
	closed   chan messaging.Connection
	contexts chan context.Context
}

// welcomeHandler greets every connection before the handshake completes.
func welcomeHandler() messaging.ConnectionHandler {
	return messaging.NewHandler("/welcome", func(ctx context.Context, conn messaging.Connection, _ messaging.RouteParams, _ *messaging.FrontendSession) (bool, error) {
		return true, conn.SendMessage("welcome")
	})
}

func contextHandler(contexts chan context.Context) messaging.ConnectionHandler {
	return messaging.NewHandler("/context", func(ctx context.Context, conn messaging.Connection, _ messaging.RouteParams, _ *messaging.FrontendSession) (bool, error) {
		contexts <- ctx
		return true, nil
	})
}

func echoHandler(closed chan messaging.Connection) messaging.ConnectionHandler {
	return messaging.NewHandler("/services/echo/:id", func(ctx context.Context, conn messaging.Connection, params messaging.RouteParams, session *messaging.FrontendSession) (bool, error) {
		id := params["id"]
		conn.OnMessage()(func(m string) {
			_ = conn.SendMessage(id + ":" + m)
		})
		conn.OnClose()(func(struct{}) {
			if closed != nil {
				closed <- conn
			}
		})
		return true, nil
	})
}

type greeter struct{}

func (greeter) Greet(name string) (string, error) {
	if name == "" {
		return "", errors.New("no name")
	}
	return "hello " + name, nil
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	closed := make(chan messaging.Connection, 4)
	contexts := make(chan context.Context, 1)
	registry := messaging.NewFrontendSessionRegistry()

	services, err := messaging.NewServiceRegistry(messaging.StaticService("greeter", greeter{}))
	require.NoError(t, err)
	router, err := messaging.NewConnectionRouter(registry,
		echoHandler(closed),
		welcomeHandler(),
		contextHandler(contexts),
		jsonrpc.NewConnectionHandler(services, jsonrpc.NewCache()),
	)
	require.NoError(t, err)

	server := NewServer(router, Options{})
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return &backend{registry: registry, server: server, http: ts, closed: closed, contexts: contexts}
}

func (b *backend) dialer(sessionID string) *Dialer {
	return &Dialer{
		URL:       "ws" + strings.TrimPrefix(b.http.URL, "http") + "/socket",
		SessionID: sessionID,
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEchoRoundTrip(t *testing.T) {
	b := newBackend(t)

	conn, err := b.dialer("s1").GetConnection(testContext(t), "/services/echo/123")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, messaging.StateOpened, conn.State())
	assert.Equal(t, "/services/echo/123", conn.Path())

	got := make(chan string, 2)
	conn.OnMessage()(func(m string) { got <- m })
	require.NoError(t, conn.SendMessage("ping"))
	require.NoError(t, conn.SendMessage("pong"))

	for _, want := range []string{"123:ping", "123:pong"} {
		select {
		case m := <-got:
			assert.Equal(t, want, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("no echo for %s", want)
		}
	}

	session, ok := b.registry.GetFrontendSession("s1")
	require.True(t, ok)
	assert.Len(t, session.Connections(), 1)
}

func TestHandshakeRequiresSessionID(t *testing.T) {
	b := newBackend(t)

	for _, id := range []string{"", "   "} {
		_, err := b.dialer(id).GetConnection(testContext(t), "/services/echo/1")
		require.Error(t, err)
		var cerr *ConnectError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "missing auth.sessionId", cerr.Message)
	}
	assert.Equal(t, 0, b.registry.Len())
}

func TestHandshakeUnhandledPath(t *testing.T) {
	b := newBackend(t)

	_, err := b.dialer("s1").GetConnection(testContext(t), "/nowhere")
	require.Error(t, err)
	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "unhandled connection", cerr.Message)
	assert.Equal(t, "/nowhere", cerr.Path)

	// The rejected connection left its session again.
	assert.Eventually(t, func() bool { return b.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientCloseClosesServerSide(t *testing.T) {
	b := newBackend(t)

	conn, err := b.dialer("s1").GetConnection(testContext(t), "/services/echo/9")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return b.server.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	clientClosed := make(chan struct{})
	conn.OnClose()(func(struct{}) { close(clientClosed) })
	require.NoError(t, conn.Close())

	select {
	case serverConn := <-b.closed:
		assert.Equal(t, messaging.StateClosed, serverConn.State())
	case <-time.After(3 * time.Second):
		t.Fatal("server side did not close")
	}
	select {
	case <-clientClosed:
	case <-time.After(3 * time.Second):
		t.Fatal("client side did not close")
	}

	assert.ErrorIs(t, conn.SendMessage("late"), messaging.ErrConnectionClosed)
	assert.Eventually(t, func() bool { return b.registry.Len() == 0 && b.server.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestJSONRPCOverWebSocket(t *testing.T) {
	b := newBackend(t)
	dialer := b.dialer("s1")

	proxy := jsonrpc.NewProxy(func(ctx context.Context) (*jsonrpc.MessageConnection, error) {
		conn, err := dialer.GetConnection(ctx, jsonrpc.ServicePath("greeter"))
		if err != nil {
			return nil, err
		}
		return jsonrpc.NewMessageConnection(conn), nil
	})
	defer proxy.Dispose()

	greeting, err := jsonrpc.Invoke[string](testContext(t), proxy, "greet", "workbench")
	require.NoError(t, err)
	assert.Equal(t, "hello workbench", greeting)

	_, err = proxy.Call(testContext(t), "greet", "")
	var rerr *jsonrpc.ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Contains(t, rerr.Message, "no name")
}

func TestUnknownServiceIsRejected(t *testing.T) {
	b := newBackend(t)

	_, err := b.dialer("s1").GetConnection(testContext(t), jsonrpc.ServicePath("missing"))
	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "unhandled connection", cerr.Message)
}

func TestDialContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Dialer{URL: "ws://127.0.0.1:1/socket", SessionID: "s1"}
	_, err := d.GetConnection(ctx, "/x")
	require.Error(t, err)
}

func TestFramesBeforeSubscriptionAreKept(t *testing.T) {
	b := newBackend(t)
	dialer := b.dialer("s1")

	for i := 0; i < 50; i++ {
		conn, err := dialer.GetConnection(testContext(t), "/welcome")
		require.NoError(t, err)

		// Give the frame time to arrive before anyone listens.
		if i%10 == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		got := make(chan string, 1)
		conn.OnMessage()(func(m string) { got <- m })

		select {
		case m := <-got:
			assert.Equal(t, "welcome", m)
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d lost its first message", i)
		}
		require.NoError(t, conn.Close())
	}
}

func TestHandlerContextOutlivesUpgrade(t *testing.T) {
	b := newBackend(t)

	conn, err := b.dialer("s1").GetConnection(testContext(t), "/context")
	require.NoError(t, err)
	defer conn.Close()

	var ctx context.Context
	select {
	case ctx = <-b.contexts:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
	assert.Never(t, func() bool { return ctx.Err() != nil }, 200*time.Millisecond, 10*time.Millisecond)

	b.server.Close()
	assert.Eventually(t, func() bool { return ctx.Err() != nil }, 2*time.Second, 10*time.Millisecond)
}
