// Loads up and validates the environment configuration used internally by Beacon.

package config

import (
	"Beacon/pkg/log"
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/joho/godotenv"
)

// Config carries every recognized option of the Beacon gateway.
type Config struct {
	Env     string `valid:"required,uppercase"`
	Version string `valid:"-"`
	// Address and Port the gin server binds to
	SrvAddr string `valid:"required,host"`
	SrvPort string `valid:"required,port"`
	// HMAC secret used to verify the identity token
	JWTSecret string `valid:"required"`
	// Cookie name under which the identity token is carried
	TokenCookie string `valid:"required,printableascii"`
	// Prefix used to derive a channel's durable log key
	LogKeyPrefix string `valid:"required,printableascii"`
	// Name of the global (cross-channel) durable log
	GlobalLogName string `valid:"required,printableascii"`
	// Liveness probe interval and timeout threshold
	PingInterval time.Duration `valid:"-"`
	PongTimeout  time.Duration `valid:"-"`
}

// Validate checks the assembled config against its validation tags.
func (cfg Config) Validate() error {
	_, valerr := govalidator.ValidateStruct(cfg)
	return valerr
}

// LoadConfig reads the gateway configuration from the process environment.
// config/<env>.env is loaded first when present so local runs don't need a
// fully populated environment. Validation failure is fatal, the gateway must
// not come up half-configured.
func LoadConfig(ctx context.Context, logger log.Logger) Config {
	env := os.Getenv("ENV")
	if env == "" {
		logger.WithCtx(ctx).Fatal().Err(errors.New("os couldn't load ENV.")).Msg("")
	}
	// Env file is optional, the environment may be injected externally
	godotenv.Load("config/" + strings.ToLower(env) + ".env")

	cfg := Config{
		Env:           env,
		Version:       os.Getenv("VERSION"),
		SrvAddr:       os.Getenv("SRV_ADDR"),
		SrvPort:       os.Getenv("SRV_PORT"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		TokenCookie:   os.Getenv("TOKEN_COOKIE"),
		LogKeyPrefix:  os.Getenv("LOG_KEY_PREFIX"),
		GlobalLogName: os.Getenv("GLOBAL_LOG_NAME"),
		PingInterval:  loadDuration(ctx, logger, "PING_INTERVAL", 20*time.Second),
		PongTimeout:   loadDuration(ctx, logger, "PONG_TIMEOUT", 45*time.Second),
	}
	if valerr := cfg.Validate(); valerr != nil {
		logger.WithCtx(ctx).Fatal().Err(valerr).Msg("Invalid Beacon gateway configuration")
	}
	return cfg
}

// Helper to parse an optional duration option, falling back to its default.
func loadDuration(ctx context.Context, logger log.Logger, key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, prserr := time.ParseDuration(strings.TrimSpace(raw))
	if prserr != nil {
		// Couldn't convert to time.Duration
		logger.WithCtx(ctx).Fatal().Err(prserr).Msg("Couldn't parse ENV: " + key)
	}
	return d
}
