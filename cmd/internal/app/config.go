package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

const envPrefix = "CHATSHELL_"

// Config contains all runtime configuration loaded from environment variables.
// CLI flags override individual fields after loading.
type Config struct {
	APIBaseURL string `env:"API_URL" envDefault:"http://127.0.0.1:3000" validate:"required,url"`
	// WSURL defaults to the API host with a ws(s) scheme and the /ws path.
	WSURL  string `env:"WS_URL" validate:"omitempty,url"`
	Origin string `env:"ORIGIN" validate:"omitempty,url"`

	TokenHeader string `env:"TOKEN_HEADER" envDefault:"Authorization" validate:"required"`
	TokenPrefix string `env:"TOKEN_PREFIX" envDefault:"Bearer "`
	// Token restores a session without logging in.
	Token    string `env:"TOKEN"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	PageSize           int           `env:"PAGE_SIZE" envDefault:"10" validate:"min=1,max=200"`
	Debounce           time.Duration `env:"SCROLL_DEBOUNCE" envDefault:"200ms" validate:"gte=0"`
	LoadOlderThreshold int           `env:"LOAD_OLDER_THRESHOLD" envDefault:"50" validate:"gte=0"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json pretty"`

	MetricsAddr string `env:"METRICS_ADDR"`

	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"127.0.0.1:4318"`
	OTLPInsecure   bool   `env:"OTLP_INSECURE" envDefault:"true"`

	// Security policy:
	// If false, plaintext http/ws URLs are only accepted for loopback hosts.
	AllowInsecure bool `env:"ALLOW_INSECURE" envDefault:"false"`
}

// LoadConfig loads an optional .env file, then Config from the process environment.
func LoadConfig(dotenvFiles ...string) (Config, error) {
	if err := loadDotenv(dotenvFiles...); err != nil {
		return Config{}, err
	}
	return parseConfig(env.Options{Prefix: envPrefix})
}

// LoadConfigFrom loads Config from environ instead of the process environment.
// Keys carry the CHATSHELL_ prefix.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	return parseConfig(env.Options{Prefix: envPrefix, Environment: environ})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.WSURL = strings.TrimSpace(c.WSURL)
	c.Origin = strings.TrimSpace(c.Origin)
	c.TokenHeader = strings.TrimSpace(c.TokenHeader)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate checks field constraints and the transport security policy.
// Call it again after applying flag overrides.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return ValidateSecurityConfig(*c.withDerived())
}

// RealtimeURL returns the websocket endpoint for the realtime channel.
func (c Config) RealtimeURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	return wsBaseURL(c.APIBaseURL) + "/ws"
}

func (c Config) withDerived() *Config {
	cp := c
	cp.WSURL = c.RealtimeURL()
	return &cp
}

// wsBaseURL maps an http(s) base URL to its ws(s) counterpart, dropping any path.
func wsBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host
}
