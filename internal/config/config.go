package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "LUME"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "lume.db"
	defaultLogLevel            = "info"
	defaultCookieName          = "app_session"
	defaultSessionIssuer       = "tauth"
	defaultPublicURL           = "http://localhost:3000"
	defaultStateTTLMinutes     = 10
	defaultCalendarName        = "Sessões — Lume"
	defaultCalendarDescription = "Calendário gerenciado pelo Lume (não inserir conteúdo clínico)."
	defaultCalendarTimeZone    = "America/Sao_Paulo"
	defaultSyncTimeoutSeconds  = 30
	defaultSyncConcurrency     = 4
	defaultRedisAddress        = "127.0.0.1:6379"

	// DispatcherInProcess runs calendar syncs on goroutines inside the API process.
	DispatcherInProcess = "inprocess"
	// DispatcherAsynq hands calendar syncs to an asynq worker backed by Redis.
	DispatcherAsynq = "asynq"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string
	PublicURL       string
	StateTTL        time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	CalendarName        string
	CalendarDescription string
	CalendarTimeZone    string

	SyncTimeout     time.Duration
	SyncConcurrency int
	SyncDispatcher  string
	RedisAddress    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("app.public_url", defaultPublicURL)
	configViper.SetDefault("oauth.state_ttl_minutes", defaultStateTTLMinutes)
	configViper.SetDefault("calendar.name", defaultCalendarName)
	configViper.SetDefault("calendar.description", defaultCalendarDescription)
	configViper.SetDefault("calendar.time_zone", defaultCalendarTimeZone)
	configViper.SetDefault("sync.timeout_seconds", defaultSyncTimeoutSeconds)
	configViper.SetDefault("sync.concurrency", defaultSyncConcurrency)
	configViper.SetDefault("sync.dispatcher", DispatcherInProcess)
	configViper.SetDefault("redis.address", defaultRedisAddress)

	// Secrets have no defaults but must still resolve from the environment.
	for _, key := range []string{"tauth.signing_secret", "google.client_id", "google.client_secret", "google.redirect_url"} {
		_ = configViper.BindEnv(key)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		TAuthSigningKey:     configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:     configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:         configViper.GetString("tauth.issuer"),
		PublicURL:           strings.TrimRight(configViper.GetString("app.public_url"), "/"),
		StateTTL:            time.Duration(configViper.GetInt("oauth.state_ttl_minutes")) * time.Minute,
		GoogleClientID:      configViper.GetString("google.client_id"),
		GoogleClientSecret:  configViper.GetString("google.client_secret"),
		GoogleRedirectURL:   configViper.GetString("google.redirect_url"),
		CalendarName:        configViper.GetString("calendar.name"),
		CalendarDescription: configViper.GetString("calendar.description"),
		CalendarTimeZone:    configViper.GetString("calendar.time_zone"),
		SyncTimeout:         time.Duration(configViper.GetInt("sync.timeout_seconds")) * time.Second,
		SyncConcurrency:     configViper.GetInt("sync.concurrency"),
		SyncDispatcher:      strings.ToLower(strings.TrimSpace(configViper.GetString("sync.dispatcher"))),
		RedisAddress:        configViper.GetString("redis.address"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" || strings.TrimSpace(c.GoogleClientSecret) == "" {
		return fmt.Errorf("google.client_id and google.client_secret are required")
	}
	if strings.TrimSpace(c.GoogleRedirectURL) == "" {
		return fmt.Errorf("google.redirect_url is required")
	}
	if _, err := time.LoadLocation(c.CalendarTimeZone); err != nil {
		return fmt.Errorf("calendar.time_zone is invalid: %w", err)
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync.timeout_seconds must be positive")
	}
	if c.SyncConcurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be positive")
	}
	switch c.SyncDispatcher {
	case DispatcherInProcess:
	case DispatcherAsynq:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the asynq dispatcher")
		}
	default:
		return fmt.Errorf("sync.dispatcher %q is not supported", c.SyncDispatcher)
	}
	return nil
}
