package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/gjson"
)

const (
	DefaultTimezone         = "Asia/Makassar"
	DefaultDetectionHost    = "localhost"
	DefaultDetectionPort    = 5000
	DefaultRolloverSchedule = "0 * * * *"

	// DetectionFile may sit in the data dir with {"host": ..., "port": ...}.
	DetectionFile = "config.json"
)

type Config struct {
	HTTPAddr string `env:"SOFERKLESIA_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"SOFERKLESIA_GRPC_ADDR" envDefault:":9090"` // "off" disables gRPC health

	Env     string `env:"SOFERKLESIA_ENV" envDefault:"dev"` // "dev" | "prod"
	DataDir string `env:"SOFERKLESIA_DATA_DIR" envDefault:"./data"`
	Store   string `env:"SOFERKLESIA_STORE" envDefault:"file"` // "file" | "sqlite"
	DBPath  string `env:"SOFERKLESIA_DB_PATH"`                 // defaults to <data dir>/soferklesia.db

	Timezone         string `env:"SOFERKLESIA_TIMEZONE" envDefault:"Asia/Makassar"`
	RollupRule       string `env:"SOFERKLESIA_ROLLUP_RULE" envDefault:"last"`
	RolloverSchedule string `env:"SOFERKLESIA_ROLLOVER_SCHEDULE" envDefault:"0 * * * *"`

	DetectionEnabled  bool          `env:"SOFERKLESIA_DETECTION_ENABLED" envDefault:"true"`
	DetectionHost     string        `env:"SOFERKLESIA_DETECTION_HOST"`
	DetectionPort     int           `env:"SOFERKLESIA_DETECTION_PORT"`
	DetectionInterval time.Duration `env:"SOFERKLESIA_DETECTION_INTERVAL" envDefault:"10s"`
	DetectionTimeout  time.Duration `env:"SOFERKLESIA_DETECTION_TIMEOUT" envDefault:"3s"`

	LogFile string `env:"SOFERKLESIA_LOG_FILE"` // empty logs to stdout only
}

// FromEnv reads the process environment. Bad values never stop the server:
// each one is logged and replaced by its default.
func FromEnv(logger *log.Logger) Config {
	return parse(env.Options{}, logger)
}

// FromMap is FromEnv over an explicit environment.
func FromMap(environ map[string]string, logger *log.Logger) Config {
	return parse(env.Options{Environment: environ}, logger)
}

func parse(opts env.Options, logger *log.Logger) Config {
	if logger == nil {
		logger = log.Default()
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		logger.Printf("WARN config: %v; using defaults for unparsable values", err)
		cfg = mergeValid(cfg, defaults())
	}

	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != "dev" && cfg.Env != "prod" {
		logger.Printf("WARN config: unknown env %q, using dev", cfg.Env)
		cfg.Env = "dev"
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store != "file" && cfg.Store != "sqlite" {
		logger.Printf("WARN config: unknown store %q, using file", cfg.Store)
		cfg.Store = "file"
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "soferklesia.db")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil || cfg.Timezone == "" {
		logger.Printf("WARN config: unknown timezone %q, using %s", cfg.Timezone, DefaultTimezone)
		cfg.Timezone = DefaultTimezone
	}
	if cfg.RolloverSchedule == "" {
		cfg.RolloverSchedule = DefaultRolloverSchedule
	}
	if cfg.DetectionInterval <= 0 {
		cfg.DetectionInterval = 10 * time.Second
	}
	if cfg.DetectionTimeout <= 0 {
		cfg.DetectionTimeout = 3 * time.Second
	}

	if cfg.DetectionHost == "" || cfg.DetectionPort == 0 {
		host, port, err := ReadDetectionFile(filepath.Join(cfg.DataDir, DetectionFile))
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
		default:
			logger.Printf("WARN config: %v", err)
		}
		if cfg.DetectionHost == "" {
			cfg.DetectionHost = host
		}
		if cfg.DetectionPort == 0 {
			cfg.DetectionPort = port
		}
	}
	if cfg.DetectionHost == "" {
		cfg.DetectionHost = DefaultDetectionHost
	}
	if cfg.DetectionPort <= 0 || cfg.DetectionPort > 65535 {
		cfg.DetectionPort = DefaultDetectionPort
	}
	return cfg
}

func (c Config) GRPCEnabled() bool {
	return c.GRPCAddr != "" && !strings.EqualFold(c.GRPCAddr, "off")
}

// Location is the timezone that decides which week "now" belongs to.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}

// ReadDetectionFile returns the host and port from a detection config file.
// Missing keys come back empty.
func ReadDetectionFile(path string) (host string, port int, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	if !gjson.ValidBytes(b) {
		return "", 0, fmt.Errorf("%s: invalid JSON", path)
	}
	doc := gjson.ParseBytes(b)
	if h := doc.Get("host"); h.Type == gjson.String {
		host = strings.TrimSpace(h.String())
	}
	if p := doc.Get("port"); p.Type == gjson.Number {
		port = int(p.Int())
	}
	return host, port, nil
}

func defaults() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// mergeValid fills the fields env could not set from def. A value env failed
// to parse is left zero, so every zero field is treated as unset.
func mergeValid(cfg, def Config) Config {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = def.HTTPAddr
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = def.GRPCAddr
	}
	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.Store == "" {
		cfg.Store = def.Store
	}
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.RollupRule == "" {
		cfg.RollupRule = def.RollupRule
	}
	if cfg.RolloverSchedule == "" {
		cfg.RolloverSchedule = def.RolloverSchedule
	}
	if cfg.DetectionInterval == 0 {
		cfg.DetectionInterval = def.DetectionInterval
	}
	if cfg.DetectionTimeout == 0 {
		cfg.DetectionTimeout = def.DetectionTimeout
	}
	return cfg
}
