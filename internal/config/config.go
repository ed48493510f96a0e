package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Export compressions accepted by EXPORT_COMPRESSION.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// Ingestion.
	PullDays     int
	PullWorkers  int
	PullSchedule string
	HTTPTimeout  time.Duration
	RequestDelay time.Duration
	CatalogFile  string
	Sources      []string

	NOAAToken        string
	USACEInsecureTLS bool

	// Mirror sinks.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Report exports.
	ExportDir         string
	ExportCompression string
	AzureAccount      string
	AzureKey          string
	AzureContainer    string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// InfluxEnabled reports whether the InfluxDB mirror is configured.
func (c *Config) InfluxEnabled() bool {
	return c.InfluxURL != "" && c.InfluxToken != ""
}

// AzureEnabled reports whether exports go to Azure Blob Storage.
func (c *Config) AzureEnabled() bool {
	return c.AzureAccount != "" && c.AzureKey != ""
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	httpTimeout, err := parsePositiveDuration("HTTP_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	requestDelay, err := time.ParseDuration(sharedcfg.EnvOrDefault("REQUEST_DELAY", "250ms"))
	if err != nil || requestDelay < 0 {
		return nil, errors.New("invalid REQUEST_DELAY")
	}

	pullDays, err := parsePositiveInt("PULL_DAYS", 30)
	if err != nil {
		return nil, err
	}
	pullWorkers, err := parsePositiveInt("PULL_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := envBool("MAPBOX_ENABLED", mapboxToken != "")

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	kafkaEnabled := envBool("KAFKA_ENABLED", kafkaBrokers != "")

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StoreDriver: strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", StoreSQLite)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  sharedcfg.EnvOrDefault("SQLITE_PATH", "measurements.db"),

		PullDays:     pullDays,
		PullWorkers:  pullWorkers,
		PullSchedule: sharedcfg.EnvOrDefault("PULL_SCHEDULE", "0 */6 * * *"),
		HTTPTimeout:  httpTimeout,
		RequestDelay: requestDelay,
		CatalogFile:  os.Getenv("CATALOG_FILE"),
		Sources:      splitList(os.Getenv("SOURCES")),

		NOAAToken:        os.Getenv("NOAA_API_TOKEN"),
		USACEInsecureTLS: envBool("USACE_INSECURE_TLS", false),

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "hydromet-observations"),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    sharedcfg.EnvOrDefault("INFLUX_ORG", "hydromet"),
		InfluxBucket: sharedcfg.EnvOrDefault("INFLUX_BUCKET", "observations"),

		ExportDir:         sharedcfg.EnvOrDefault("EXPORT_DIR", "exports"),
		ExportCompression: strings.ToLower(sharedcfg.EnvOrDefault("EXPORT_COMPRESSION", CompressionNone)),
		AzureAccount:      os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:          os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer:    sharedcfg.EnvOrDefault("AZURE_CONTAINER", "exports"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	case StoreMemory:
	default:
		return errors.New("invalid STORE_DRIVER")
	}

	switch c.ExportCompression {
	case CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4:
	default:
		return errors.New("invalid EXPORT_COMPRESSION")
	}

	if c.PullSchedule == "" {
		return errors.New("PULL_SCHEDULE is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaEnabled && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
