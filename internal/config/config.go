package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "HAPCAT"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabaseDriver       = "sqlite"
	defaultDatabasePath         = "hapcat.db"
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
	defaultTokenTTLMinutes      = 30
	defaultMaxSuggestedLocation = 5
	defaultMaxSuggestedEvents   = 5
)

const (
	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL server reached through database.dsn.
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	LoadTestData         bool
	LogLevel             string
	LogFormat            string
	TokenTTL             time.Duration
	SigningSecret        string
	MaxSuggestedLocation int
	MaxSuggestedEvents   int
	AllowedOrigins       []string
	DebugRoutes          bool
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("database.load_test_data", false)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("suggestions.max_locations", defaultMaxSuggestedLocation)
	configViper.SetDefault("suggestions.max_events", defaultMaxSuggestedEvents)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("debug.enabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LoadTestData:         configViper.GetBool("database.load_test_data"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		TokenTTL:             time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		MaxSuggestedLocation: configViper.GetInt("suggestions.max_locations"),
		MaxSuggestedEvents:   configViper.GetInt("suggestions.max_events"),
		AllowedOrigins:       configViper.GetStringSlice("cors.allowed_origins"),
		DebugRoutes:          configViper.GetBool("debug.enabled"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// WriteExample writes every known setting with its current value to path.
func WriteExample(configViper *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config output path is required")
	}
	return configViper.WriteConfigAs(path)
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.MaxSuggestedLocation < 0 || c.MaxSuggestedEvents < 0 {
		return fmt.Errorf("suggestion limits must not be negative")
	}
	return nil
}
