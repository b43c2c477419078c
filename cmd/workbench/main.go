package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codefionn/workbench/internal/appinfo"
	"github.com/codefionn/workbench/internal/backend"
	"github.com/codefionn/workbench/internal/config"
	"github.com/codefionn/workbench/internal/logger"
	"github.com/codefionn/workbench/internal/pidfile"
)

type options struct {
	configPath string
	set        map[string]bool

	port     int
	root     string
	hostname string
	ssl      bool
	cert     string
	certKey  string
	logLevel string
	pidFile  string
	pprof    bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	logger.Info("Using config %s", opts.configPath)

	if cfg.Server.PidFile != "" {
		pf, err := pidfile.Acquire(cfg.Server.PidFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warn("%v", err)
			}
		}()
	}

	messaging := backend.NewMessagingContribution()
	messaging.AddServiceProvider(appinfo.NewService(cfg.Application).Provider())
	contributions := []any{messaging}
	if cfg.Server.Pprof {
		contributions = append(contributions, backend.PprofContribution{})
	}
	app := backend.NewApplication(cfg, contributions...)

	// The watcher only adjusts the log level; server settings need a restart.
	app.Go(func(ctx context.Context) error {
		return config.Watch(ctx, opts.configPath, func(next *config.Config, err error) {
			if err != nil {
				logger.Warn("Ignoring config change: %v", err)
				return
			}
			applyFlags(next, opts)
			level := logger.ParseLevel(next.LogLevel)
			logger.Global().SetLevel(level)
			logger.Info("Config reloaded, log level %s", level)
		})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Workbench backend listening on %s\n", app.URL())

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.Stop(shutdownCtx)
}

func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("workbench", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &options{set: make(map[string]bool)}
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the config file (.json or .toml)")
	fs.IntVar(&opts.port, "port", 0, "Port to listen on")
	fs.StringVar(&opts.root, "root", "", "URL prefix the backend is mounted at")
	fs.StringVar(&opts.hostname, "hostname", "", "Host name or address to bind")
	fs.BoolVar(&opts.ssl, "ssl", false, "Serve over TLS")
	fs.StringVar(&opts.cert, "cert", "", "TLS certificate file")
	fs.StringVar(&opts.certKey, "certkey", "", "TLS private key file")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	fs.StringVar(&opts.pidFile, "pidfile", "", "Write the process id to this file")
	fs.BoolVar(&opts.pprof, "pprof", false, "Serve runtime profiles below <root>debug/pprof/")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	return opts, nil
}

// loadConfig layers the config file, environment and flags, in that order.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts *options) {
	if opts.set["port"] {
		cfg.Server.Port = opts.port
	}
	if opts.set["root"] {
		cfg.Server.Root = opts.root
	}
	if opts.set["hostname"] {
		cfg.Server.Host = opts.hostname
	}
	if opts.set["ssl"] {
		cfg.Server.SSL = opts.ssl
	}
	if opts.set["cert"] {
		cfg.Server.Cert = opts.cert
	}
	if opts.set["certkey"] {
		cfg.Server.CertKey = opts.certKey
	}
	if opts.set["log-level"] {
		cfg.LogLevel = opts.logLevel
	}
	if opts.set["pidfile"] {
		cfg.Server.PidFile = opts.pidFile
	}
	if opts.set["pprof"] {
		cfg.Server.Pprof = opts.pprof
	}
}
