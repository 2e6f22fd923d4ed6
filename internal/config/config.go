package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"proxypool/internal/logger"
)

const envPrefix = "PROXYPOOL"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Scraper  ScraperConfig  `mapstructure:"scraper" validate:"required"`
	Checker  CheckerConfig  `mapstructure:"checker" validate:"required"`
	Ingest   IngestConfig   `mapstructure:"ingest" validate:"required"`
	Health   HealthConfig   `mapstructure:"health" validate:"required"`
	Location LocationConfig `mapstructure:"location" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Log      LogConfig      `mapstructure:"log" validate:"required"`
}

type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"required,min=1s,max=5m"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"required,min=1s,max=5m"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" validate:"required,min=1s,max=10m"`
	AuthToken    string        `mapstructure:"auth_token"`
	CheckRate    float64       `mapstructure:"check_rate" validate:"gt=0,max=1000"`
	CheckBurst   int           `mapstructure:"check_burst" validate:"required,min=1,max=1000"`
}

type ScraperConfig struct {
	Interval  time.Duration `mapstructure:"interval" validate:"required,min=1m,max=24h"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"required,min=1s,max=2m"`
	PageDelay time.Duration `mapstructure:"page_delay" validate:"min=0s,max=1m"`
	UserAgent string        `mapstructure:"user_agent" validate:"required,min=10"`
	Sources   []string      `mapstructure:"sources" validate:"required,min=1,dive,oneof=kuaidaili ip3366 89ip xiladaili emailtry qinghuadaili kxdaili nimadaili superfastip xicidaili seofangfa proxylistme foxtools proxylistdownload checkerproxy proxyscrape geonode proxifly proxylistorg"`
}

// ProbeConfig is one validation endpoint. Marker may contain {ip}.
type ProbeConfig struct {
	URL    string `mapstructure:"url" validate:"required,url"`
	Marker string `mapstructure:"marker" validate:"required"`
}

type CheckerConfig struct {
	SpeedLimit    time.Duration `mapstructure:"speed_limit" validate:"required,min=100ms,max=1m"`
	TargetTimeout time.Duration `mapstructure:"target_timeout" validate:"required,min=1s,max=2m"`
	TargetCutoff  time.Duration `mapstructure:"target_cutoff" validate:"required,min=1s,max=2m"`
	UserAgent     string        `mapstructure:"user_agent" validate:"required,min=10"`
	Probes        []ProbeConfig `mapstructure:"probes" validate:"required,min=1,dive"`
	EchoHosts     []string      `mapstructure:"echo_hosts" validate:"dive,hostname"`
}

// QueueConfig sizes one job class.
type QueueConfig struct {
	Workers  int           `mapstructure:"workers" validate:"required,min=1,max=500"`
	Buffer   int           `mapstructure:"buffer" validate:"min=0,max=100000"`
	JobTTL   time.Duration `mapstructure:"job_ttl" validate:"required,min=1s,max=24h"`
	JobDelay time.Duration `mapstructure:"job_delay" validate:"min=0s,max=1m"`
}

type IngestConfig struct {
	QueueConfig `mapstructure:",squash"`
	Rounds      int           `mapstructure:"rounds" validate:"required,min=1,max=5"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,min=1,max=1000"`
	AttemptTTL  time.Duration `mapstructure:"attempt_ttl" validate:"min=0s"`
}

type HealthConfig struct {
	QueueConfig `mapstructure:",squash"`
	Interval    time.Duration `mapstructure:"interval" validate:"required,min=1m,max=24h"`
	PageSize    int           `mapstructure:"page_size" validate:"required,min=1,max=5000"`
}

type LocationConfig struct {
	QueueConfig      `mapstructure:",squash"`
	DBPath           string        `mapstructure:"db_path"`
	FallbackURL      string        `mapstructure:"fallback_url" validate:"required,contains={ip}"`
	Cooldown         time.Duration `mapstructure:"cooldown" validate:"min=0s,max=5m"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"required,min=1s,max=1m"`
	RelocateInterval time.Duration `mapstructure:"relocate_interval" validate:"required,min=1m,max=24h"`
	RelocateBatch    int           `mapstructure:"relocate_batch" validate:"required,min=1,max=5000"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required,min=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// setDefaults configures default values for viper
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.check_rate", 2.0)
	v.SetDefault("server.check_burst", 5)

	// Scraper defaults
	v.SetDefault("scraper.interval", "30m")
	v.SetDefault("scraper.timeout", "12s")
	v.SetDefault("scraper.page_delay", "3s")
	v.SetDefault("scraper.user_agent", defaultUserAgent)
	v.SetDefault("scraper.sources", []string{
		"kuaidaili", "ip3366", "89ip", "qinghuadaili", "kxdaili", "seofangfa",
		"proxylistdownload", "proxyscrape", "geonode", "proxifly", "proxylistorg",
	})

	// Checker defaults
	v.SetDefault("checker.speed_limit", "2s")
	v.SetDefault("checker.target_timeout", "12s")
	v.SetDefault("checker.target_cutoff", "10s")
	v.SetDefault("checker.user_agent", defaultUserAgent)
	v.SetDefault("checker.probes", []map[string]any{
		{"url": "https://api.ipify.org/", "marker": "{ip}"},
		{"url": "https://www.baidu.com/", "marker": "百度一下"},
		{"url": "https://www.so.com/", "marker": "360"},
		{"url": "https://api.myip.com/", "marker": "{ip}"},
	})
	v.SetDefault("checker.echo_hosts", []string{"pv.sohu.com", "ip-api.com"})

	// Ingest defaults
	v.SetDefault("ingest.workers", 20)
	v.SetDefault("ingest.buffer", 5000)
	v.SetDefault("ingest.job_ttl", "10m")
	v.SetDefault("ingest.job_delay", "500ms")
	v.SetDefault("ingest.rounds", 2)
	v.SetDefault("ingest.max_attempts", 10)
	v.SetDefault("ingest.attempt_ttl", "0s")

	// Health defaults
	v.SetDefault("health.workers", 20)
	v.SetDefault("health.buffer", 2000)
	v.SetDefault("health.job_ttl", "2m")
	v.SetDefault("health.job_delay", "200ms")
	v.SetDefault("health.interval", "10m")
	v.SetDefault("health.page_size", 200)

	// Location defaults
	v.SetDefault("location.workers", 2)
	v.SetDefault("location.buffer", 1000)
	v.SetDefault("location.job_ttl", "1h")
	v.SetDefault("location.job_delay", "0s")
	v.SetDefault("location.db_path", "./data/IP2LOCATION-LITE-DB11.BIN")
	v.SetDefault("location.fallback_url", "http://ip-api.com/json/{ip}?lang=zh-CN")
	v.SetDefault("location.cooldown", "10s")
	v.SetDefault("location.timeout", "10s")
	v.SetDefault("location.relocate_interval", "6h")
	v.SetDefault("location.relocate_batch", 200)

	// Database defaults
	v.SetDefault("database.path", "./data/proxypool.db")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// LoadConfig loads configuration from defaults, an optional YAML file, a .env
// file and PROXYPOOL_* environment variables, then validates it.
func LoadConfig(configPath string) (*Config, error) {
	// .env values become plain environment variables; real env wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/proxypool")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks a configuration against its struct rules.
func Validate(config *Config) error {
	validate := validator.New()

	if err := registerCustomValidators(validate); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if config.Server.WriteTimeout <= config.Checker.TargetTimeout {
		return fmt.Errorf("config validation failed: server.write_timeout (%v) must exceed checker.target_timeout (%v)",
			config.Server.WriteTimeout, config.Checker.TargetTimeout)
	}

	return nil
}

// registerCustomValidators adds custom validation rules
func registerCustomValidators(validate *validator.Validate) error {
	return validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		return err == nil && port != ""
	})
}

// SaveConfigTemplate generates a sample configuration file
func SaveConfigTemplate(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config template: %w", err)
	}

	return nil
}

// PrintConfig displays the current configuration
func PrintConfig(config *Config, log *logger.Logger) {
	log.Info().Str("listen", config.Server.ListenAddr).
		Bool("auth_token", config.Server.AuthToken != "").
		Msg("server")
	log.Info().Str("path", config.Database.Path).Msg("database")
	log.Info().Strs("sources", config.Scraper.Sources).
		Dur("interval", config.Scraper.Interval).
		Dur("page_delay", config.Scraper.PageDelay).
		Msg("scraper")
	log.Info().Dur("speed_limit", config.Checker.SpeedLimit).
		Int("probes", len(config.Checker.Probes)).
		Msg("checker")
	log.Info().Int("workers", config.Ingest.Workers).
		Int("rounds", config.Ingest.Rounds).
		Int("max_attempts", config.Ingest.MaxAttempts).
		Msg("ingest")
	log.Info().Int("workers", config.Health.Workers).
		Dur("interval", config.Health.Interval).
		Int("page_size", config.Health.PageSize).
		Msg("health")
	log.Info().Str("db", config.Location.DBPath).
		Dur("cooldown", config.Location.Cooldown).
		Msg("location")
}
