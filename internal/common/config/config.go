package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Store   StoreConfig
	Import  ImportConfig
	Logging LoggingConfig
	Discord DiscordConfig
	Metrics MetricsConfig
}

type StoreConfig struct {
	Driver     string `validate:"oneof=postgres sqlite memory"`
	Database   DatabaseConfig
	SQLitePath string `validate:"required_if=Driver sqlite"`
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ImportConfig drives one run over the configured agencies.
type ImportConfig struct {
	// ConfigPath is the YAML file the agencies were read from.
	ConfigPath         string
	DownloadDir        string `validate:"required"`
	ResolveConcurrency int    `validate:"min=1"`
	HTTPRetryMax       int    `validate:"min=0"`
	HTTPTimeout        time.Duration

	Agencies        []Agency `validate:"required,min=1"`
	SkipDelete      bool
	ContinueOnError bool
}

// Agency is one feed to import. Its fields are checked when the agency's
// import starts, not at load time.
type Agency struct {
	AgencyKey  string   `yaml:"agency_key" validate:"required"`
	URL        string   `yaml:"url" validate:"required_without=Path"`
	Path       string   `yaml:"path" validate:"required_without=URL"`
	Exclude    []string `yaml:"exclude"`
	Proj       string   `yaml:"proj"`
	SkipDelete bool     `yaml:"skip_delete"`
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

type DiscordConfig struct {
	WebhookURL string
}

type MetricsConfig struct {
	Addr string
}

// agencyFile is the layout of the YAML agency file.
type agencyFile struct {
	Agencies        []Agency `yaml:"agencies"`
	SkipDelete      bool     `yaml:"skip_delete"`
	ContinueOnError bool     `yaml:"continue_on_error"`
}

// Load reads the environment and the agency file at path. An empty path
// falls back to GTFS_CONFIG.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("GTFS_CONFIG", "config.yml")
	}

	cfg := &Config{
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", StoreSQLite),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnv("DB_PORT", "5432"),
				User:     getEnv("DB_USER", "postgres"),
				Password: getEnv("DB_PASSWORD", ""),
				DBName:   getEnv("DB_NAME", "gtfs"),
			},
			SQLitePath: getEnv("SQLITE_PATH", "gtfs.db"),
		},
		Import: ImportConfig{
			ConfigPath:         path,
			DownloadDir:        getEnv("GTFS_DOWNLOAD_DIR", filepath.Join(os.TempDir(), "gtfs-downloads")),
			ResolveConcurrency: getIntEnv("RESOLVE_CONCURRENCY", 32),
			HTTPRetryMax:       getIntEnv("HTTP_RETRY_MAX", 2),
			HTTPTimeout:        getDurationEnv("HTTP_TIMEOUT", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "gtfsload.log"),
		},
		Discord: DiscordConfig{
			WebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agency file: %w", err)
	}
	var file agencyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing agency file %s: %w", path, err)
	}
	cfg.Import.Agencies = file.Agencies
	cfg.Import.SkipDelete = file.SkipDelete
	cfg.Import.ContinueOnError = file.ContinueOnError

	return cfg, nil
}

// Validate checks the settings that must hold before any agency runs.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.Store); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := v.Struct(c.Import); err != nil {
		return fmt.Errorf("import config: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

// DSN is the data source name for the configured SQL driver.
func (c *StoreConfig) DSN() string {
	if c.Driver == StorePostgres {
		return c.Database.ConnectionString()
	}
	return c.SQLitePath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
