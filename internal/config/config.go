package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/tejzpr/nameflow/internal/db"
)

// DefaultEnvFiles are loaded, when present, before the environment is parsed.
var DefaultEnvFiles = []string{".env", ".env.local"}

type AuthOptions struct {
	Secret   string        `env:"NAMEFLOW_JWT_SECRET"`
	Issuer   string        `env:"NAMEFLOW_JWT_ISSUER" envDefault:"nameflow"`
	TokenTTL time.Duration `env:"NAMEFLOW_JWT_TTL" envDefault:"24h"`
}

type LogOptions struct {
	Level  string `env:"NAMEFLOW_LOG_LEVEL" envDefault:"info"`
	Format string `env:"NAMEFLOW_LOG_FORMAT" envDefault:"text"` // text or json
}

// ClientOptions configure the CLI commands that talk to a running server.
type ClientOptions struct {
	APIURL string `env:"NAMEFLOW_API_URL" envDefault:"http://localhost:56234"`
	Token  string `env:"NAMEFLOW_API_TOKEN"`
}

type Config struct {
	Addr            string   `env:"NAMEFLOW_ADDR" envDefault:":56234"`
	DBPath          string   `env:"NAMEFLOW_DB_PATH"`
	AuthzPolicyPath string   `env:"NAMEFLOW_AUTHZ_POLICY_PATH"`
	CORSOrigins     []string `env:"NAMEFLOW_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	MetricsPath     string   `env:"NAMEFLOW_METRICS_PATH" envDefault:"/metrics"`

	Auth   AuthOptions
	Log    LogOptions
	Client ClientOptions
}

// LoadEnv loads the env files that exist and returns how many were read.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads env files, then the environment, applies defaults and validates.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, errors.Wrap(err, "load env files")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if cfg.DBPath == "" {
		path, err := db.DefaultPath()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("invalid log format %q, want text or json", c.Log.Format)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.Errorf("NAMEFLOW_JWT_TTL must be positive, got %s", c.Auth.TokenTTL)
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		return errors.Errorf("NAMEFLOW_METRICS_PATH must start with /, got %q", c.MetricsPath)
	}
	return nil
}

// RequireSecret is checked by commands that sign or verify tokens.
func (c *Config) RequireSecret() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("NAMEFLOW_JWT_SECRET is required")
	}
	if len(c.Auth.Secret) < 16 {
		return errors.New("NAMEFLOW_JWT_SECRET must be at least 16 bytes")
	}
	return nil
}
