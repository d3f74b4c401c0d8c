package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	AppName  string `env:"APP_NAME,default=chatsync"`
	Env      string `env:"APP_ENV,default=development"`
	Host     string `env:"HTTP_HOST,default=0.0.0.0"`
	Port     int    `env:"HTTP_PORT,default=8000"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	DBDriver   string `env:"DB_DRIVER,default=sqlite"`
	SQLitePath string `env:"SQLITE_PATH,default=chatsync.db"`
	PGHost     string `env:"POSTGRES_HOST,default=localhost"`
	PGPort     string `env:"POSTGRES_PORT,default=5432"`
	PGUser     string `env:"POSTGRES_USER,default=postgres"`
	PGPassword string `env:"POSTGRES_PASSWORD,default=postgres"`
	PGDatabase string `env:"POSTGRES_DB,default=chatsync"`

	JWTSecret          string   `env:"JWT_SECRET,required=true"`
	AccessTokenMinutes int      `env:"ACCESS_TOKEN_EXPIRE_MINUTES,default=1440"`
	CORSOrigins        []string `env:"CORS_ORIGINS,separator=|,default=http://localhost:3000|http://localhost:5173"`

	Engine Engine
}

// Engine holds the client-side sync tunables.
type Engine struct {
	HistoryLimit   int           `env:"HISTORY_LIMIT,default=50"`
	ChatListLimit  int           `env:"CHAT_LIST_LIMIT,default=20"`
	Heartbeat      time.Duration `env:"HEARTBEAT_INTERVAL,default=10s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT,default=15m"`
	ReconnectBase  time.Duration `env:"RECONNECT_BASE_DELAY,default=500ms"`
	ReconnectMax   time.Duration `env:"RECONNECT_MAX_DELAY,default=10s"`
	ReconnectTries int           `env:"RECONNECT_MAX_ATTEMPTS,default=8"`
	ReadRetryDelay time.Duration `env:"READ_RETRY_DELAY,default=1s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnviron()
}

func FromEnviron() (*Config, error) {
	cfg := &Config{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.Engine.ReconnectTries < 1 {
		return nil, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

// LoadEngine reads only the client sync settings, for tools that talk to
// a server rather than run one.
func LoadEngine() (Engine, error) {
	_ = godotenv.Load()
	return EngineFromEnviron()
}

func EngineFromEnviron() (Engine, error) {
	var e Engine
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return e, fmt.Errorf("parse environment: %w", err)
	}
	if e.ReconnectTries < 1 {
		return e, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1")
	}
	return e, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

// DatabaseURL is the pgx connection string built from the POSTGRES_* fields.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PGUser, c.PGPassword),
		Host:     fmt.Sprintf("%s:%s", c.PGHost, c.PGPort),
		Path:     c.PGDatabase,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
