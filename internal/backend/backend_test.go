package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/workbench/internal/appinfo"
	"github.com/codefionn/workbench/internal/config"
	"github.com/codefionn/workbench/internal/frontend"
	"github.com/codefionn/workbench/internal/jsonrpc"
	"github.com/codefionn/workbench/internal/messaging"
	"github.com/codefionn/workbench/internal/transport"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Increment() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

type hooks struct {
	mu    sync.Mutex
	calls []string
}

func (h *hooks) record(name string) {
	h.mu.Lock()
	h.calls = append(h.calls, name)
	h.mu.Unlock()
}

func (h *hooks) Initialize()         { h.record("initialize") }
func (h *hooks) OnStop(*Application) { h.record("stop") }

func (h *hooks) Configure(*Application) error {
	h.record("configure")
	return nil
}

func (h *hooks) OnStart(*Application) error {
	h.record("start")
	return errors.New("ignored")
}

func (h *hooks) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Root = "/ide"
	return cfg
}

func startApp(t *testing.T, contributions ...any) *Application {
	t.Helper()
	app := NewApplication(testConfig(), contributions...)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	})
	return app
}

func socketURL(app *Application) string {
	return "ws" + strings.TrimPrefix(app.URL(), "http") + SocketPath
}

func TestHealthz(t *testing.T) {
	app := startApp(t)
	assert.True(t, strings.HasSuffix(app.URL(), "/ide/"))

	resp, err := http.Get(app.URL() + "healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(strings.TrimSuffix(app.URL(), "ide/") + "healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPprofContribution(t *testing.T) {
	app := startApp(t, PprofContribution{})

	resp, err := http.Get(app.URL() + PprofPath + "goroutine?debug=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "goroutine profile")

	resp, err = http.Get(app.URL() + PprofPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnectionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxConnections = 1
	app := NewApplication(cfg)
	require.NoError(t, app.Start(context.Background()))
	defer app.Stop(context.Background())

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	for i := 0; i < 3; i++ {
		resp, err := client.Get(app.URL() + "healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestContributionHooks(t *testing.T) {
	h := &hooks{}
	app := NewApplication(testConfig(), h)
	assert.Equal(t, []string{"initialize", "configure"}, h.snapshot())

	require.NoError(t, app.Start(context.Background()))
	assert.Error(t, app.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
	assert.Equal(t, []string{"initialize", "configure", "start", "stop"}, h.snapshot())
}

func TestStopBeforeStart(t *testing.T) {
	app := NewApplication(testConfig())
	assert.ErrorIs(t, app.Stop(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, app.Wait(), ErrNotStarted)
}

func TestInvalidRouteFailsStart(t *testing.T) {
	m := NewMessagingContribution()
	m.AddConnectionHandler(messaging.NewHandler("/broken/:", nil))
	app := NewApplication(testConfig(), m)

	err := app.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messaging routes")
	assert.Empty(t, app.URL())
	assert.ErrorIs(t, app.Stop(context.Background()), ErrNotStarted)
}

func TestFailingTaskStopsApplication(t *testing.T) {
	app := NewApplication(testConfig())
	started := make(chan struct{})
	app.Go(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	require.NoError(t, app.Start(context.Background()))
	<-started

	boom := errors.New("boom")
	app.Go(func(context.Context) error { return boom })
	assert.ErrorIs(t, app.Wait(), boom)
}

func TestMessagingEndToEnd(t *testing.T) {
	info := appinfo.NewService(config.ApplicationConfig{Name: "workbench", Version: "1.0.0"})

	m := NewMessagingContribution()
	m.AddServiceProvider(info.Provider())
	m.AddSessionModule(func(scope *messaging.SessionScope) error {
		scope.AddServiceProvider(messaging.StaticService("counter", &counter{}))
		return nil
	})
	app := startApp(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := frontend.NewProxyProvider(&transport.Dialer{URL: socketURL(app), SessionID: "first"})
	second := frontend.NewProxyProvider(&transport.Dialer{URL: socketURL(app), SessionID: "second"})

	appProxy := first.GetProxyByID(appinfo.ServiceID)
	defer appProxy.Dispose()
	got, err := jsonrpc.Invoke[*appinfo.ApplicationInfo](ctx, appProxy, "getApplicationInfo")
	require.NoError(t, err)
	assert.Equal(t, &appinfo.ApplicationInfo{Name: "workbench", Version: "1.0.0"}, got)

	a := first.GetProxyByID("counter")
	defer a.Dispose()
	b := second.GetProxyByID("counter")
	defer b.Dispose()

	for want := 1; want <= 2; want++ {
		n, err := jsonrpc.Invoke[int](ctx, a, "increment")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := jsonrpc.Invoke[int](ctx, b, "increment")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "sessions must not share session-scoped services")

	assert.Equal(t, []string{"first", "second"}, m.Sessions().Sessions())

	unknown := first.GetProxyByID("missing")
	defer unknown.Dispose()
	_, err = unknown.Call(ctx, "anything")
	var connectErr *transport.ConnectError
	require.ErrorAs(t, err, &connectErr)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, app.Stop(stopCtx))

	assert.Eventually(t, func() bool {
		return m.Sessions().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = a.Call(ctx, "increment")
	assert.Error(t, err)
}

func TestDisposedProxiesReleaseSessions(t *testing.T) {
	m := NewMessagingContribution()
	m.AddSessionModule(func(scope *messaging.SessionScope) error {
		scope.AddServiceProvider(messaging.StaticService("counter", &counter{}))
		return nil
	})
	app := startApp(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proxies := frontend.NewProxyProvider(&transport.Dialer{URL: socketURL(app), SessionID: "disposed"})
	for i := 0; i < 3; i++ {
		proxy := proxies.GetProxyByID("counter")
		_, err := jsonrpc.Invoke[int](ctx, proxy, "increment")
		require.NoError(t, err)
		proxy.Dispose()
	}

	assert.Eventually(t, func() bool {
		return m.Sessions().Len() == 0 && m.socket.Len() == 0
	}, 3*time.Second, 10*time.Millisecond)
}
