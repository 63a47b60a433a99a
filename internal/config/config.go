package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "STEPTUNE_"

// Injection modes for the tuned parameter.
const (
	InjectSource = "source"
	InjectEnv    = "env"
)

type Config struct {
	Search struct {
		LowerBound       int64   `env:"LOWER_BOUND" envDefault:"1"`
		UpperBound       int64   `env:"UPPER_BOUND" envDefault:"4294967296"`
		PlateauThreshold float64 `env:"PLATEAU_THRESHOLD" envDefault:"0.02"`
		SweepRadius      int64   `env:"SWEEP_RADIUS" envDefault:"2"`
	} `envPrefix:"SEARCH_"`
	Param struct {
		Name   string `env:"NAME" envDefault:"SHRINK_TO_SIZE"`
		Type   string `env:"TYPE" envDefault:"usize"`
		File   string `env:"FILE" envDefault:"src/run.rs"`
		Inject string `env:"INJECT" envDefault:"source"`
	} `envPrefix:"PARAM_"`
	Build struct {
		Command string        `env:"COMMAND" envDefault:"cargo build --release"`
		Dir     string        `env:"DIR" envDefault:"."`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"300s"`
	} `envPrefix:"BUILD_"`
	Run struct {
		Command  string        `env:"COMMAND" envDefault:"./target/release/bf_opt"`
		Attempts int           `env:"ATTEMPTS" envDefault:"3"`
		Timeout  time.Duration `env:"TIMEOUT" envDefault:"800s"`
	} `envPrefix:"RUN_"`
	State struct {
		Path   string `env:"PATH" envDefault:"latest_bounds.json"`
		Mirror struct {
			Endpoint  string `env:"ENDPOINT"`
			Bucket    string `env:"BUCKET"`
			Key       string `env:"KEY" envDefault:"steptune/latest_bounds.json"`
			AccessKey string `env:"ACCESS_KEY"`
			SecretKey string `env:"SECRET_KEY"`
			UseSSL    bool   `env:"USE_SSL" envDefault:"true"`
		} `envPrefix:"MIRROR_"`
	} `envPrefix:"STATE_"`
	Supervisor struct {
		MaxRestarts  int           `env:"MAX_RESTARTS" envDefault:"5"`
		RestartDelay time.Duration `env:"RESTART_DELAY" envDefault:"5s"`
		MaxCycles    int           `env:"MAX_CYCLES" envDefault:"0"`
		StableCycles int           `env:"STABLE_CYCLES" envDefault:"0"`
	} `envPrefix:"SUPERVISOR_"`
	Logging struct {
		Level       string `env:"LEVEL" envDefault:"info"`
		Format      string `env:"FORMAT" envDefault:"console"`
		Output      string `env:"OUTPUT" envDefault:"stdout"`
		Dir         string `env:"DIR" envDefault:"."`
		FilePattern string `env:"FILE_PATTERN" envDefault:"stepwise_search_log_%d.txt"`
	} `envPrefix:"LOG_"`
	HTTP struct {
		Addr            string        `env:"ADDR"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	} `envPrefix:"HTTP_"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, err
	}

	cfg.Param.Inject = strings.ToLower(strings.TrimSpace(cfg.Param.Inject))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the search cannot run with.
func (c *Config) Validate() error {
	if c.Search.LowerBound > c.Search.UpperBound {
		return fmt.Errorf("search bounds inverted: %d > %d", c.Search.LowerBound, c.Search.UpperBound)
	}
	if c.Search.PlateauThreshold <= 0 || c.Search.PlateauThreshold >= 1 {
		return fmt.Errorf("plateau threshold must be in (0, 1), got %v", c.Search.PlateauThreshold)
	}
	if c.Search.SweepRadius < 0 {
		return fmt.Errorf("sweep radius must not be negative, got %d", c.Search.SweepRadius)
	}
	if strings.TrimSpace(c.Param.Name) == "" {
		return fmt.Errorf("parameter name is required")
	}
	switch c.Param.Inject {
	case InjectSource:
		if strings.TrimSpace(c.Param.File) == "" {
			return fmt.Errorf("source injection requires a parameter file")
		}
		if strings.TrimSpace(c.Param.Type) == "" {
			return fmt.Errorf("source injection requires a parameter type")
		}
	case InjectEnv:
	default:
		return fmt.Errorf("unknown injection mode %q", c.Param.Inject)
	}
	if strings.TrimSpace(c.Build.Command) == "" {
		return fmt.Errorf("build command is required")
	}
	if strings.TrimSpace(c.Run.Command) == "" {
		return fmt.Errorf("run command is required")
	}
	if c.Build.Timeout <= 0 || c.Run.Timeout <= 0 {
		return fmt.Errorf("build and run timeouts must be positive")
	}
	if c.Run.Attempts < 1 {
		return fmt.Errorf("run attempts must be at least 1, got %d", c.Run.Attempts)
	}
	if c.Supervisor.MaxRestarts < 0 || c.Supervisor.MaxCycles < 0 || c.Supervisor.StableCycles < 0 {
		return fmt.Errorf("supervisor limits must not be negative")
	}
	if c.Supervisor.RestartDelay < 0 {
		return fmt.Errorf("restart delay must not be negative")
	}
	if strings.TrimSpace(c.State.Path) == "" {
		return fmt.Errorf("state path is required")
	}
	if c.State.Mirror.Endpoint != "" && c.State.Mirror.Bucket == "" {
		return fmt.Errorf("state mirror requires a bucket")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}
