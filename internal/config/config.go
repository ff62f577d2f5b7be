package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	SequenceBackendStore = "store"
	SequenceBackendRedis = "redis"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	App struct {
		Env string
	}
	Server struct {
		Addr          string
		AllowedOrigin string
	}
	Database struct {
		DSN string
	}
	Auth struct {
		JWTSecret  string
		Hasher     string
		BcryptCost int
	}
	Sequence struct {
		Backend string
	}
	Redis struct {
		URL string
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables and optional config files.
// Values are looked up as FLUENT_<SECTION>_<KEY>; DATABASE_URL and JWT_SECRET
// are honoured as well.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("FLUENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", EnvDevelopment)
	v.SetDefault("server.addr", "0.0.0.0:5000")
	v.SetDefault("server.allowedorigin", "http://localhost:3000")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.hasher", "bcrypt")
	v.SetDefault("auth.bcryptcost", 12)
	v.SetDefault("sequence.backend", SequenceBackendStore)
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// unprefixed names used by existing deployments
	_ = v.BindEnv("database.dsn", "FLUENT_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("auth.jwtsecret", "FLUENT_AUTH_JWTSECRET", "JWT_SECRET")
	_ = v.BindEnv("app.env", "FLUENT_APP_ENV", "APP_ENV")
	_ = v.BindEnv("redis.url", "FLUENT_REDIS_URL", "REDIS_URL")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.App.Env = strings.ToLower(strings.TrimSpace(cfg.App.Env))
	cfg.Sequence.Backend = strings.ToLower(strings.TrimSpace(cfg.Sequence.Backend))
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database dsn is required (FLUENT_DATABASE_DSN or DATABASE_URL)"))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required (FLUENT_AUTH_JWTSECRET or JWT_SECRET)"))
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server addr is required"))
	}
	switch c.Sequence.Backend {
	case SequenceBackendStore:
	case SequenceBackendRedis:
		if strings.TrimSpace(c.Redis.URL) == "" {
			errs = append(errs, errors.New("redis url is required when sequence backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sequence backend %q", c.Sequence.Backend))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
