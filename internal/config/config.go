// Package config loads the YAML configuration shared by the hub server and
// scenectl.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/scenesync/internal/core/history"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/protocol"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/scheduler"
	"github.com/zeusync/scenesync/internal/core/session"
	"github.com/zeusync/scenesync/internal/core/store/sqlstore"
	"github.com/zeusync/scenesync/internal/server"
)

var ErrInvalid = errors.New("invalid configuration")

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendMongo    = "mongo"
	BackendRemote   = "remote"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Session   SessionConfig   `yaml:"session"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Templates TemplatesConfig `yaml:"templates"`
}

type LogConfig struct {
	Level log.Level `yaml:"level"`
}

type SessionConfig struct {
	QuietPeriod  time.Duration `yaml:"quiet_period"`
	HistoryLimit int           `yaml:"history_limit"`
	SaveTimeout  time.Duration `yaml:"save_timeout"`
	GridSize     float64       `yaml:"grid_size"`
	Snap         bool          `yaml:"snap"`
	ViewOnly     bool          `yaml:"view_only"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MaxClients      int           `yaml:"max_clients"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	JWTSecret       string        `yaml:"jwt_secret"`
	JanitorSchedule string        `yaml:"janitor_schedule"`
	ClientTimeout   time.Duration `yaml:"client_timeout"`
}

type StoreConfig struct {
	Backend         string        `yaml:"backend"`
	DSN             string        `yaml:"dsn"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MongoDatabase   string        `yaml:"mongo_database"`
	MongoCollection string        `yaml:"mongo_collection"`
	// HubURL and Token are used by the remote backend.
	HubURL string `yaml:"hub_url"`
	Token  string `yaml:"token"`
}

type TemplatesConfig struct {
	// Dir overrides the built-in catalog when set.
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	srv := server.DefaultServerConfig()
	opts := scene.DefaultOptions()
	return Config{
		Log: LogConfig{Level: log.LevelInfo},
		Session: SessionConfig{
			QuietPeriod:  scheduler.DefaultQuietPeriod,
			HistoryLimit: history.DefaultLimit,
			SaveTimeout:  scheduler.DefaultSaveTimeout,
			GridSize:     opts.GridSize,
			Snap:         opts.Snap,
		},
		Server: ServerConfig{
			ListenAddr:      srv.ListenAddr,
			MaxClients:      srv.MaxClients,
			MaxMessageSize:  srv.Conn.MaxFrameSize,
			WriteTimeout:    srv.Conn.WriteTimeout,
			ReadTimeout:     srv.Conn.ReadTimeout,
			JanitorSchedule: srv.JanitorSchedule,
			ClientTimeout:   srv.ClientTimeout,
		},
		Store: StoreConfig{
			Backend:         BackendMemory,
			PollInterval:    sqlstore.DefaultConfig().PollInterval,
			MongoDatabase:   "scenesync",
			MongoCollection: "scenes",
			HubURL:          "ws://" + srv.ListenAddr + "/ws",
		},
	}
}

// Load reads path. An empty path yields Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes one YAML document over Default and validates it. Unknown
// keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Session.QuietPeriod <= 0 {
		errs = append(errs, errors.New("session.quiet_period must be positive"))
	}
	if c.Session.HistoryLimit < 1 {
		errs = append(errs, errors.New("session.history_limit must be at least 1"))
	}
	if c.Session.SaveTimeout <= 0 {
		errs = append(errs, errors.New("session.save_timeout must be positive"))
	}
	if c.Session.GridSize <= 0 {
		errs = append(errs, errors.New("session.grid_size must be positive"))
	}
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is empty"))
	}
	if c.Server.MaxClients <= 0 {
		errs = append(errs, errors.New("server.max_clients must be positive"))
	}
	if c.Server.JanitorSchedule != "" {
		if _, err := cron.ParseStandard(c.Server.JanitorSchedule); err != nil {
			errs = append(errs, fmt.Errorf("server.janitor_schedule: %w", err))
		}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres, BackendMySQL, BackendMongo:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %s", c.Store.Backend))
		}
		if c.Store.PollInterval <= 0 {
			errs = append(errs, errors.New("store.poll_interval must be positive"))
		}
	case BackendRemote:
		if c.Store.HubURL == "" {
			errs = append(errs, errors.New("store.hub_url is required for remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// SessionConfig builds the per-scene session settings.
func (c Config) SessionConfig(sceneID, templateKey string) session.Config {
	cfg := session.DefaultConfig(sceneID)
	cfg.TemplateKey = templateKey
	cfg.ViewOnly = c.Session.ViewOnly
	cfg.HistoryLimit = c.Session.HistoryLimit
	cfg.QuietPeriod = c.Session.QuietPeriod
	cfg.SaveTimeout = c.Session.SaveTimeout
	return cfg
}

// SceneOptions builds the editing surface settings.
func (c Config) SceneOptions() scene.Options {
	opts := scene.DefaultOptions()
	opts.GridSize = c.Session.GridSize
	opts.Snap = c.Session.Snap
	opts.ReadOnly = c.Session.ViewOnly
	return opts
}

func (c Config) ServerConfig() server.Config {
	cfg := server.DefaultServerConfig()
	cfg.ListenAddr = c.Server.ListenAddr
	cfg.MaxClients = c.Server.MaxClients
	cfg.Conn = protocol.ConnConfig{
		WriteTimeout: c.Server.WriteTimeout,
		ReadTimeout:  c.Server.ReadTimeout,
		MaxFrameSize: c.Server.MaxMessageSize,
	}
	cfg.JWTSecret = c.Server.JWTSecret
	cfg.JanitorSchedule = c.Server.JanitorSchedule
	cfg.ClientTimeout = c.Server.ClientTimeout
	return cfg
}
