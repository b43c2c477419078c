package frontend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/workbench/internal/jsonrpc"
	"github.com/codefionn/workbench/internal/messaging"
	"github.com/codefionn/workbench/internal/transport"
)

type pipeProvider struct {
	paths   []string
	clients []messaging.Connection
	target  any
	err     error
}

func (p *pipeProvider) GetConnection(ctx context.Context, path string) (messaging.Connection, error) {
	p.paths = append(p.paths, path)
	if p.err != nil {
		return nil, p.err
	}
	client, server := messaging.Pipe(path)
	if _, err := jsonrpc.NewServer(jsonrpc.NewMessageConnection(server), p.target); err != nil {
		return nil, err
	}
	p.clients = append(p.clients, client)
	return client, nil
}

type counter struct{ n int }

func (c *counter) Increment(by int) int {
	c.n += by
	return c.n
}

func TestCurrentSessionIsStable(t *testing.T) {
	id := CurrentSession()
	assert.Equal(t, id, CurrentSession())
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	d := NewDialer("ws://localhost/socket", transport.DefaultOptions())
	assert.Equal(t, id, d.SessionID)
}

func TestGetProxyByID(t *testing.T) {
	provider := &pipeProvider{target: &counter{}}
	proxies := NewProxyProvider(provider)

	proxy := proxies.GetProxyByID("counter")
	defer proxy.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for want := 1; want <= 3; want++ {
		got, err := jsonrpc.Invoke[int](ctx, proxy, "increment", 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []string{"/services/counter"}, provider.paths)
}

func TestGetProxyByIDConnectFailure(t *testing.T) {
	proxies := NewProxyProvider(&pipeProvider{err: errors.New("refused")})
	proxy := proxies.GetProxyByID("counter")
	defer proxy.Dispose()

	_, err := proxy.Call(context.Background(), "increment", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to service counter")
}

func TestGetProxyOverConnection(t *testing.T) {
	client, server := messaging.Pipe("/direct")
	defer client.Close()
	_, err := jsonrpc.NewServer(jsonrpc.NewMessageConnection(server), &counter{n: 10})
	require.NoError(t, err)

	proxy := NewProxyProvider(&pipeProvider{}).GetProxyOverConnection(client)
	defer proxy.Dispose()

	got, err := jsonrpc.Invoke[int](context.Background(), proxy, "increment", 5)
	require.NoError(t, err)
	assert.Equal(t, 15, got)

	proxy.Dispose()
	assert.Equal(t, messaging.StateOpened, client.State(), "borrowed connections stay open")
}

func TestDisposeClosesDialedConnection(t *testing.T) {
	provider := &pipeProvider{target: &counter{}}
	proxies := NewProxyProvider(provider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		proxy := proxies.GetProxyByID("counter")
		_, err := jsonrpc.Invoke[int](ctx, proxy, "increment", 1)
		require.NoError(t, err)
		proxy.Dispose()
	}

	require.Len(t, provider.clients, 3)
	for _, client := range provider.clients {
		assert.True(t, messaging.IsClosed(client))
	}
}
