package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

// TraceFormat names one supported trace file layout.
type TraceFormat string

const (
	TraceFormatSSB    TraceFormat = "ssb"
	TraceFormatEvents TraceFormat = "events"
)

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
	Trace     TraceConfig     `toml:"trace"`
	Replay    ReplayConfig    `toml:"replay"`
	Summary   SummaryConfig   `toml:"summary"`
	Server    ServerConfig    `toml:"server"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type TraceConfig struct {
	Format       TraceFormat `toml:"format"`
	DropFinalRow bool        `toml:"drop_final_row"`
}

type ReplayConfig struct {
	BatchSize int `toml:"batch_size"`
}

type SummaryConfig struct {
	// SettleWindow excludes records first seen this close to a run's last event.
	SettleWindow float64   `toml:"settle_window"`
	Quantiles    []float64 `toml:"quantiles"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables span export when set, e.g. http://localhost:4318.
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".gossiptrace/log",
			},
		},
		Trace: TraceConfig{
			Format:       TraceFormatSSB,
			DropFinalRow: true,
		},
		Replay: ReplayConfig{
			BatchSize: 500,
		},
		Summary: SummaryConfig{
			SettleWindow: 0,
			Quantiles:    []float64{0.5, 0.9, 0.99},
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if _, err := charmLog.ParseLevel(strings.TrimSpace(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	switch c.Trace.Format {
	case TraceFormatSSB, TraceFormatEvents:
	default:
		return fmt.Errorf("invalid trace.format: %q", c.Trace.Format)
	}

	if c.Replay.BatchSize <= 0 {
		return fmt.Errorf("replay.batch_size must be > 0")
	}

	if c.Summary.SettleWindow < 0 || math.IsNaN(c.Summary.SettleWindow) {
		return fmt.Errorf("summary.settle_window must be >= 0")
	}
	for i, q := range c.Summary.Quantiles {
		if q < 0 || q > 1 || math.IsNaN(q) {
			return fmt.Errorf("summary.quantiles[%d] must lie in [0,1], got %v", i, q)
		}
	}

	api := strings.Trim(strings.TrimSpace(c.Server.APIEndpoint), "/")
	mcp := strings.Trim(strings.TrimSpace(c.Server.MCPEndpoint), "/")
	if api != "" && api == mcp {
		return fmt.Errorf("server.api_endpoint and server.mcp_endpoint must differ")
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
