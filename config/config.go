// Package config loads the service configuration from the environment.
// Every variable is prefixed with USER_SERVICE_. A .env file in the working
// directory is read first when present.
package config

import (
	"errors"
	"io/fs"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

const Prefix = "USER_SERVICE_"

const (
	KVStoreRedis  = "redis"
	KVStoreMemory = "memory"
)

type Config struct {
	// Development switches to console logging.
	Development bool   `env:"DEVELOPMENT" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Listen      string `env:"LISTEN" envDefault:":8080"`

	Issuer   string `env:"ISSUER,required"`
	BasePath string `env:"OAUTH_BASE_PATH" envDefault:"/oauth"`

	ServiceTokenSecret string        `env:"SERVICE_TOKEN_SECRET,required"`
	ServiceTokenTTL    time.Duration `env:"SERVICE_TOKEN_TTL" envDefault:"0s"`
	IDTokenTTL         time.Duration `env:"ID_TOKEN_TTL" envDefault:"1h"`
	// SigningKeyFile is a PEM encoded RSA key. Without one a key is
	// generated at startup, which only suits a single instance.
	SigningKeyFile string `env:"SIGNING_KEY_FILE"`

	FlowTTL time.Duration `env:"FLOW_TTL" envDefault:"15m"`
	CodeTTL time.Duration `env:"CODE_TTL" envDefault:"60s"`
	KVStore string        `env:"KV_STORE" envDefault:"redis"`

	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:user-service.db?cache=shared"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	EventLogPrefix    string        `env:"EVENT_LOG_PREFIX" envDefault:"users"`
	ConsumerGroup     string        `env:"CONSUMER_GROUP" envDefault:"user-projection"`
	ConsumerName      string        `env:"CONSUMER_NAME"`
	MaxDeliveries     int           `env:"MAX_DELIVERIES" envDefault:"0"`
	DurabilityTimeout time.Duration `env:"DURABILITY_TIMEOUT" envDefault:"10s"`
	// NodeID seeds the snowflake user id generator and must differ per
	// instance.
	NodeID int64 `env:"NODE_ID" envDefault:"1"`

	MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCoolDown    time.Duration `env:"LOGIN_COOL_DOWN" envDefault:"24h"`

	CookieName     string        `env:"COOKIE_NAME" envDefault:"token"`
	CookieDomain   string        `env:"COOKIE_DOMAIN"`
	CookieSecure   bool          `env:"COOKIE_SECURE" envDefault:"true"`
	CookieDuration time.Duration `env:"COOKIE_DURATION" envDefault:"24h"`
}

// Load reads the optional dotenv files, .env by default, and parses the
// process environment.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read dotenv file")
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.Issuer, validation.Required, is.RequestURL),
		validation.Field(&c.ServiceTokenSecret, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.ServiceTokenTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.IDTokenTTL, validation.Required),
		validation.Field(&c.FlowTTL, validation.Required),
		validation.Field(&c.CodeTTL, validation.Required),
		validation.Field(&c.KVStore, validation.Required, validation.In(KVStoreRedis, KVStoreMemory)),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.RedisAddr, validation.Required),
		validation.Field(&c.EventLogPrefix, validation.Required),
		validation.Field(&c.ConsumerGroup, validation.Required),
		validation.Field(&c.MaxDeliveries, validation.Min(0)),
		validation.Field(&c.DurabilityTimeout, validation.Required),
		validation.Field(&c.NodeID, validation.Min(int64(0)), validation.Max(int64(1023))),
		validation.Field(&c.MaxLoginAttempts, validation.Min(1)),
		validation.Field(&c.LoginCoolDown, validation.Required),
		validation.Field(&c.CookieName, validation.Required),
	)
	if err != nil {
		return auth.NewValidationError(err, "invalid configuration")
	}
	return nil
}

// Cookie returns the token cookie settings.
func (c *Config) Cookie() auth.CookieConfig {
	return auth.CookieConfig{
		Name:     c.CookieName,
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		Duration: c.CookieDuration,
	}
}

// Logger builds the zap logger selected by Development and LogLevel.
func (c *Config) Logger() (*auth.ZapLogger, error) {
	return auth.NewZapLogger(c.Development, c.LogLevel)
}
