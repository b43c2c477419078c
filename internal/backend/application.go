// Package backend hosts the HTTP side of the workbench: an application that
// contributions extend with routes and background tasks.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/codefionn/workbench/internal/config"
	"github.com/codefionn/workbench/internal/logger"
)

var log = logger.Component("backend")

const shutdownTimeout = 5 * time.Second

// ErrNotStarted is returned by operations that need a running application.
var ErrNotStarted = errors.New("application not started")

// Contribution hooks. A contribution implements any subset of them.
type (
	// Initializer is called once when the application is created.
	Initializer interface {
		Initialize()
	}

	// Configurer registers routes on the application before it starts. A
	// configure error is reported by Start.
	Configurer interface {
		Configure(app *Application) error
	}

	// Starter is called after the listener is bound.
	Starter interface {
		OnStart(app *Application) error
	}

	// Stopper is called when the application stops.
	Stopper interface {
		OnStop(app *Application)
	}
)

// Application is the backend HTTP server.
type Application struct {
	cfg           *config.Config
	root          string
	router        *httprouter.Router
	contributions []any
	configErr     error

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	group    *errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
	tasks    []func(ctx context.Context) error
	stopOnce sync.Once
	stopErr  error
}

// NewApplication creates the application and runs the Initialize and
// Configure hooks of contributions in order.
func NewApplication(cfg *config.Config, contributions ...any) *Application {
	app := &Application{
		cfg:           cfg,
		root:          cfg.RootPath(),
		router:        httprouter.New(),
		contributions: contributions,
	}
	app.router.GET(app.root+"healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	for _, c := range contributions {
		if i, ok := c.(Initializer); ok {
			i.Initialize()
		}
	}
	for _, c := range contributions {
		if cc, ok := c.(Configurer); ok {
			if err := cc.Configure(app); err != nil {
				app.configErr = errors.Join(app.configErr, fmt.Errorf("configure %T: %w", c, err))
			}
		}
	}
	return app
}

// Config returns the application configuration.
func (a *Application) Config() *config.Config {
	return a.cfg
}

// Root returns the URL prefix the application is mounted at, ending in /.
func (a *Application) Root() string {
	return a.root
}

// Handle registers h for method at path below the application root.
func (a *Application) Handle(method, path string, h http.Handler) {
	a.router.Handler(method, a.root+strings.TrimPrefix(path, "/"), h)
}

// Handler returns the application's HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.router
}

// Go runs task under the application's supervision. Tasks registered before
// Start begin when it is called. A task returning an error stops the
// application.
func (a *Application) Go(task func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group == nil {
		a.tasks = append(a.tasks, task)
		return
	}
	ctx := a.ctx
	a.group.Go(func() error {
		return task(ctx)
	})
}

// Start binds the listener, runs the OnStart hooks and starts serving.
// Serving stops when ctx is done, Stop is called or a supervised task fails.
// It fails without listening if a contribution could not be configured.
func (a *Application) Start(ctx context.Context) error {
	if a.configErr != nil {
		return a.configErr
	}
	a.mu.Lock()
	if a.server != nil {
		a.mu.Unlock()
		return errors.New("application already started")
	}

	ln, err := net.Listen("tcp", a.cfg.Address())
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", a.cfg.Address(), err)
	}
	if n := a.cfg.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.NewStdLogger(logger.Global().WithPrefix("http"), slog.LevelError),
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	a.group = group
	a.ctx = groupCtx
	a.cancel = cancel
	tasks := a.tasks
	a.tasks = nil
	a.mu.Unlock()

	// Hooks may call Go or URL, so they run unlocked.
	for _, c := range a.contributions {
		if s, ok := c.(Starter); ok {
			if err := s.OnStart(a); err != nil {
				log.Error("Contribution %T failed to start: %v", c, err)
			}
		}
	}

	srv := a.server
	group.Go(func() error {
		var err error
		if a.cfg.Server.SSL {
			err = srv.ServeTLS(ln, a.cfg.Server.Cert, a.cfg.Server.CertKey)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return a.shutdown()
	})
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			return task(groupCtx)
		})
	}

	log.Info("Backend listening on %s", a.url(ln))
	return nil
}

// URL returns the base URL the application serves, including the root.
func (a *Application) URL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.url(a.listener)
}

func (a *Application) url(ln net.Listener) string {
	scheme := "http"
	if a.cfg.Server.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, ln.Addr().String(), a.root)
}

// Wait blocks until the application has stopped and returns the first error
// of the server or a supervised task.
func (a *Application) Wait() error {
	a.mu.Lock()
	group := a.group
	a.mu.Unlock()
	if group == nil {
		return ErrNotStarted
	}
	return group.Wait()
}

// Stop shuts the application down and waits for it, bounded by ctx.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		return ErrNotStarted
	}

	log.Info("Stopping backend...")
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown runs the OnStop hooks and shuts the HTTP server down.
func (a *Application) shutdown() error {
	a.stopOnce.Do(func() {
		for _, c := range a.contributions {
			if s, ok := c.(Stopper); ok {
				s.OnStop(a)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.stopErr = fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	})
	return a.stopErr
}
