package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Years      []int
	Workers    int
	Paths      PathConfig
	Storage    StorageConfig
	Weather    WeatherConfig
	Checkpoint CheckpointConfig
	Catalog    CatalogConfig
	Audit      AuditConfig
	Export     ExportConfig
	Metrics    MetricsConfig
	Server     ServerConfig
	Log        LogConfig
}

type PathConfig struct {
	RawDir       string
	ProcessedDir string
	LayoutFile   string
}

type StorageConfig struct {
	Backend    string // local | gcs | s3 | mem
	Bucket     string
	Prefix     string
	S3Endpoint string
	S3Region   string
}

type WeatherConfig struct {
	Mode    string // file | coagmet
	BaseURL string
	Timeout time.Duration
}

type CheckpointConfig struct {
	Enabled        bool
	Dir            string
	AllowOverwrite bool
}

type CatalogConfig struct {
	PostgresDSN string
}

type AuditConfig struct {
	Enabled bool
	Dir     string
}

type ExportConfig struct {
	Parquet bool
}

type MetricsConfig struct {
	Enabled bool
	Address string
}

type ServerConfig struct {
	Address string
	Preload bool
}

type LogConfig struct {
	Format string
	Level  string
}

// MustLoad reads configuration from the environment, after loading a .env
// file if one is present. It exits the process on invalid values.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	years, err := parseYears(getenvDefault("YEARS", "2024,2025"))
	if err != nil {
		return Config{}, err
	}

	timeout, err := time.ParseDuration(getenvDefault("WEATHER_TIMEOUT", "60s"))
	if err != nil {
		return Config{}, fmt.Errorf("WEATHER_TIMEOUT: %w", err)
	}

	workers, err := strconv.Atoi(getenvDefault("WORKERS", "1"))
	if err != nil || workers < 1 {
		return Config{}, fmt.Errorf("WORKERS: must be a positive integer")
	}

	processed := getenvDefault("PROCESSED_DIR", "./data-processed")

	return Config{
		Years:   years,
		Workers: workers,
		Paths: PathConfig{
			RawDir:       getenvDefault("RAW_DIR", "./data-raw"),
			ProcessedDir: processed,
			LayoutFile:   os.Getenv("LAYOUT_FILE"),
		},
		Storage: StorageConfig{
			Backend:    getenvDefault("STORAGE_BACKEND", "local"),
			Bucket:     os.Getenv("STORAGE_BUCKET"),
			Prefix:     os.Getenv("STORAGE_PREFIX"),
			S3Endpoint: os.Getenv("S3_ENDPOINT"),
			S3Region:   getenvDefault("S3_REGION", "us-east-1"),
		},
		Weather: WeatherConfig{
			Mode:    getenvDefault("WEATHER_MODE", "file"),
			BaseURL: getenvDefault("COAGMET_URL", "https://coagmet.colostate.edu/data"),
			Timeout: timeout,
		},
		Checkpoint: CheckpointConfig{
			Enabled:        getenvBool("CHECKPOINT_ENABLED", true),
			Dir:            getenvDefault("CHECKPOINT_DIR", "./state"),
			AllowOverwrite: getenvBool("ALLOW_OVERWRITE", false),
		},
		Catalog: CatalogConfig{
			PostgresDSN: os.Getenv("CATALOG_DSN"),
		},
		Audit: AuditConfig{
			Enabled: getenvBool("AUDIT_ENABLED", false),
			Dir:     getenvDefault("AUDIT_DIR", "./audit"),
		},
		Export: ExportConfig{
			Parquet: getenvBool("EXPORT_PARQUET", false),
		},
		Metrics: MetricsConfig{
			Enabled: getenvBool("METRICS_ENABLED", false),
			Address: getenvDefault("METRICS_ADDR", ":9090"),
		},
		Server: ServerConfig{
			Address: getenvDefault("HTTP_ADDR", ":8080"),
			Preload: getenvBool("PRELOAD", true),
		},
		Log: LogConfig{
			Format: getenvDefault("LOG_FORMAT", "text"),
			Level:  getenvDefault("LOG_LEVEL", "info"),
		},
	}, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func parseYears(v string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil || y < 1900 || y > 9999 {
			return nil, fmt.Errorf("YEARS: invalid year %q", part)
		}
		years = append(years, y)
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("YEARS: at least one year is required")
	}
	return years, nil
}
