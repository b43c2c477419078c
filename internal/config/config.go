package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables overriding file settings.
const (
	EnvLogLevel = "WORKBENCH_LOG_LEVEL"
	EnvLogPath  = "WORKBENCH_LOG_PATH"
	EnvPort     = "WORKBENCH_PORT"
)

// Duration is a time.Duration written as a string such as "54s" in config
// files.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Host    string `json:"host" toml:"host"`
	Port    int    `json:"port" toml:"port"`
	Root    string `json:"root" toml:"root"` // URL prefix the backend is mounted at
	SSL     bool   `json:"ssl" toml:"ssl"`
	Cert    string `json:"cert,omitempty" toml:"cert,omitempty"`
	CertKey string `json:"certkey,omitempty" toml:"certkey,omitempty"`
	PidFile string `json:"pidfile,omitempty" toml:"pidfile,omitempty"`
	// MaxConnections caps concurrently accepted TCP connections; 0 is unlimited.
	MaxConnections int `json:"max_connections,omitempty" toml:"max_connections,omitempty"`
	Pprof   bool   `json:"pprof,omitempty" toml:"pprof,omitempty"` // serve runtime profiles at <root>debug/pprof/
}

// SocketConfig holds the WebSocket keepalive settings
type SocketConfig struct {
	MaxMessageSize int64    `json:"max_message_size" toml:"max_message_size"`
	PingPeriod     Duration `json:"ping_period" toml:"ping_period"`
	PongWait       Duration `json:"pong_wait" toml:"pong_wait"`
	WriteWait      Duration `json:"write_wait" toml:"write_wait"`
	SendBuffer     int      `json:"send_buffer" toml:"send_buffer"`
}

// ExtensionConfig names an installed extension
type ExtensionConfig struct {
	Name    string `json:"name" toml:"name"`
	Version string `json:"version" toml:"version"`
}

// ApplicationConfig describes the application served by the backend
type ApplicationConfig struct {
	ID         string            `json:"id,omitempty" toml:"id,omitempty"` // distinguishes several backends behind one proxy
	Name       string            `json:"name" toml:"name"`
	Version    string            `json:"version" toml:"version"`
	Extensions []ExtensionConfig `json:"extensions,omitempty" toml:"extensions,omitempty"`
}

// Config represents application configuration
type Config struct {
	Server      ServerConfig      `json:"server" toml:"server"`
	Socket      SocketConfig      `json:"socket" toml:"socket"`
	LogLevel    string            `json:"log_level" toml:"log_level"` // debug, info, warn, error, none
	LogPath     string            `json:"log_path,omitempty" toml:"log_path,omitempty"`
	Application ApplicationConfig `json:"application" toml:"application"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "workbench")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "workbench")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "workbench")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "workbench")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 3000,
			Root: "/",
		},
		Socket: SocketConfig{
			MaxMessageSize: 16 << 20,
			PingPeriod:     Duration{54 * time.Second},
			PongWait:       Duration{60 * time.Second},
			WriteWait:      Duration{10 * time.Second},
			SendBuffer:     256,
		},
		LogLevel: "info",
		Application: ApplicationConfig{
			Name:    "workbench",
			Version: "0.1.0",
		},
	}
}

// Load loads configuration from file. The format follows the extension:
// .toml files are TOML, anything else JSON. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Decode onto the defaults so only provided fields change
	if isTOML(path) {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	config.fillDefaults()
	return config, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// fillDefaults restores critical fields a file explicitly emptied.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Root == "" {
		c.Server.Root = d.Server.Root
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Socket.MaxMessageSize == 0 {
		c.Socket.MaxMessageSize = d.Socket.MaxMessageSize
	}
	if c.Socket.PongWait.Duration == 0 {
		c.Socket.PongWait = d.Socket.PongWait
	}
	if c.Socket.PingPeriod.Duration == 0 {
		c.Socket.PingPeriod = Duration{(c.Socket.PongWait.Duration * 9) / 10}
	}
	if c.Socket.WriteWait.Duration == 0 {
		c.Socket.WriteWait = d.Socket.WriteWait
	}
	if c.Socket.SendBuffer == 0 {
		c.Socket.SendBuffer = d.Socket.SendBuffer
	}
}

// ApplyEnv overrides settings from WORKBENCH_* environment variables.
func (c *Config) ApplyEnv() error {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.LogLevel = level
	}
	if path := strings.TrimSpace(os.Getenv(EnvLogPath)); path != "" {
		c.LogPath = path
	}
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, port)
		}
		c.Server.Port = p
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Root, "/") {
		errs = append(errs, fmt.Errorf("server.root %q must start with /", c.Server.Root))
	}
	if c.Server.SSL && (c.Server.Cert == "" || c.Server.CertKey == "") {
		errs = append(errs, errors.New("server.ssl requires server.cert and server.certkey"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if c.Socket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("socket.max_message_size must be positive"))
	}
	if c.Socket.PingPeriod.Duration >= c.Socket.PongWait.Duration {
		errs = append(errs, fmt.Errorf("socket.ping_period %s must be less than socket.pong_wait %s", c.Socket.PingPeriod, c.Socket.PongWait))
	}
	if c.Socket.SendBuffer <= 0 {
		errs = append(errs, errors.New("socket.send_buffer must be positive"))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error", "none", "off":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error, none", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RootPath returns Server.Root with exactly one trailing slash.
func (c *Config) RootPath() string {
	root := "/" + strings.Trim(c.Server.Root, "/")
	if root == "/" {
		return root
	}
	return root + "/"
}

// Save saves configuration to file, as TOML or JSON by extension
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		encoded, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		data = encoded
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
