// Package config provides configuration for the Sparkify ETL job.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sparkify/datalake/internal/storage"
)

// Config holds the configuration for one ETL run.
type Config struct {
	// InputData is the root URL holding song_data/ and log-data/
	InputData string `json:"input_data" yaml:"input_data"`

	// OutputData is the root URL receiving the five tables
	OutputData string `json:"output_data" yaml:"output_data"`

	// CredentialsFile is the key/value file holding the AWS keys
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`

	// WorkDir is the base directory for the engine database and staged downloads
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// EngineConfig holds execution engine configuration.
type EngineConfig struct {
	// DBPath overrides the location of the SQLite database (default: inside the run directory)
	DBPath string `json:"db_path" yaml:"db_path"`

	// ReuseSongCatalog lets the event extractor join against the songs staged
	// by the song extractor instead of re-reading the catalog from storage.
	ReuseSongCatalog bool `json:"reuse_song_catalog" yaml:"reuse_song_catalog"`

	// VerifyOutput reads every table back after it is written and checks it
	// against its _metadata.json sidecar.
	VerifyOutput bool `json:"verify_output" yaml:"verify_output"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing (MinIO and friends)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// DownloadConcurrency bounds parallel object transfers (1-64, default 8)
	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency"`

	// MultipartPartSizeMB is the S3 multipart part size in megabytes (5-512, default 5)
	MultipartPartSizeMB int `json:"multipart_part_size_mb" yaml:"multipart_part_size_mb"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Development switches to the human-readable console encoder
	Development bool `json:"development" yaml:"development"`
}

// DefaultConfig returns the configuration the job runs with when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		InputData:       "s3a://udacity-dend/",
		OutputData:      "s3a://output-data",
		CredentialsFile: "dl.cfg",
		Storage: StorageConfig{
			Region:              "us-west-2",
			DownloadConcurrency: 8,
			MultipartPartSizeMB: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Resolve fills in derived paths.
func (c *Config) Resolve() {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "sparkify-etl")
	}
	if c.Storage.DownloadConcurrency == 0 {
		c.Storage.DownloadConcurrency = 8
	}
	if c.Storage.MultipartPartSizeMB == 0 {
		c.Storage.MultipartPartSizeMB = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InputData == "" {
		return fmt.Errorf("input_data is required")
	}
	if c.OutputData == "" {
		return fmt.Errorf("output_data is required")
	}
	if _, err := storage.ParseLocation(c.InputData); err != nil {
		return fmt.Errorf("input_data: %w", err)
	}
	if _, err := storage.ParseLocation(c.OutputData); err != nil {
		return fmt.Errorf("output_data: %w", err)
	}

	if c.HasRemote() && c.CredentialsFile == "" {
		return fmt.Errorf("credentials_file is required when input or output is on S3")
	}

	if c.Storage.DownloadConcurrency < 1 || c.Storage.DownloadConcurrency > 64 {
		return fmt.Errorf("storage.download_concurrency must be between 1 and 64, got %d", c.Storage.DownloadConcurrency)
	}
	if c.Storage.MultipartPartSizeMB < 5 || c.Storage.MultipartPartSizeMB > 512 {
		return fmt.Errorf("storage.multipart_part_size_mb must be between 5 and 512, got %d", c.Storage.MultipartPartSizeMB)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}

// HasRemote reports whether the input or output root lives on S3 and
// therefore needs credentials.
func (c *Config) HasRemote() bool {
	for _, raw := range []string{c.InputData, c.OutputData} {
		if loc, err := storage.ParseLocation(raw); err == nil && loc.IsRemote() {
			return true
		}
	}
	return false
}

// MultipartPartSize returns the configured part size in bytes.
func (c *Config) MultipartPartSize() int64 {
	return int64(c.Storage.MultipartPartSizeMB) * 1024 * 1024
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SPARKIFY_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SPARKIFY_INPUT_DATA"); v != "" {
		cfg.InputData = v
	}
	if v := os.Getenv("SPARKIFY_OUTPUT_DATA"); v != "" {
		cfg.OutputData = v
	}
	if v := os.Getenv("SPARKIFY_CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}
	if v := os.Getenv("SPARKIFY_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}

	// Engine configuration
	if v := os.Getenv("SPARKIFY_ENGINE_DB_PATH"); v != "" {
		cfg.Engine.DBPath = v
	}
	if v := os.Getenv("SPARKIFY_ENGINE_REUSE_SONG_CATALOG"); v != "" {
		cfg.Engine.ReuseSongCatalog = parseBool(v)
	}
	if v := os.Getenv("SPARKIFY_ENGINE_VERIFY_OUTPUT"); v != "" {
		cfg.Engine.VerifyOutput = parseBool(v)
	}

	// Storage configuration
	if v := os.Getenv("SPARKIFY_STORAGE_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("SPARKIFY_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("SPARKIFY_STORAGE_USE_PATH_STYLE"); v != "" {
		cfg.Storage.UsePathStyle = parseBool(v)
	}
	if v := os.Getenv("SPARKIFY_STORAGE_DOWNLOAD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.DownloadConcurrency = n
		}
	}
	if v := os.Getenv("SPARKIFY_STORAGE_MULTIPART_PART_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.MultipartPartSizeMB = n
		}
	}

	// Log configuration
	if v := os.Getenv("SPARKIFY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SPARKIFY_LOG_DEVELOPMENT"); v != "" {
		cfg.Log.Development = parseBool(v)
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

// EnsureDirectories creates the work directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.WorkDir, err)
	}
	return nil
}
