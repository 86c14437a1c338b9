package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Equityflow EquityflowConfig `yaml:"equityflow"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Reader     ReaderConfig     `yaml:"reader"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Writer     WriterConfig     `yaml:"writer"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type EquityflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	CloudWatch  bool `yaml:"cloudwatch"`
	ChannelSize bool `yaml:"channel_size"`
}

type ChannelsConfig struct {
	RawBuffer   int `yaml:"raw_buffer"`
	BatchBuffer int `yaml:"batch_buffer"`
}

type ReaderConfig struct {
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Timeout        time.Duration        `yaml:"timeout"`
	PageLimit      int                  `yaml:"page_limit"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ProcessorConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

type WriterConfig struct {
	MaxWorkers int           `yaml:"max_workers"`
	Formats    FormatsConfig `yaml:"formats"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
	RowGroupPar int64  `yaml:"row_group_parallelism"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

// Default returns the built-in configuration used when no config file is
// present. The tool must run from a bare checkout with nothing but a symbol
// file and an API key.
func Default() *Config {
	return &Config{
		Equityflow: EquityflowConfig{
			Name:    "equityflow",
			Version: "1.0.0",
		},
		Metrics: MetricsConfig{
			CloudWatch:  false,
			ChannelSize: true,
		},
		Channels: ChannelsConfig{
			RawBuffer:   16,
			BatchBuffer: 16,
		},
		Reader: ReaderConfig{
			BaseURL:   "https://finnhub.io/api/v1",
			Timeout:   30 * time.Second,
			PageLimit: 25000,
			RateLimit: RateLimitConfig{
				// 150 calls per minute on the basic Finnhub plan.
				RequestsPerMinute: 150,
				BurstSize:         5,
				Cooldown:          15 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       5,
				BaseDelay:         time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
			},
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    16,
				MaxConnsPerHost: 16,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Processor: ProcessorConfig{
			MaxWorkers: 2,
		},
		Writer: WriterConfig{
			MaxWorkers: 2,
			Formats: FormatsConfig{
				Parquet: ParquetConfig{
					Compression: "snappy",
					RowGroupPar: 4,
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadConfig reads the YAML configuration at path on top of the defaults.
// A missing file is not an error: the defaults are returned so the CLI works
// without an installed config tree.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override sensitive settings from environment variables if available
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		config.Reader.APIKey = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Equityflow.Name == "" {
		return fmt.Errorf("equityflow.name is required")
	}

	if cfg.Equityflow.Version == "" {
		return fmt.Errorf("equityflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.BatchBuffer <= 0 {
		return fmt.Errorf("channels.batch_buffer must be greater than 0")
	}

	if cfg.Reader.BaseURL == "" {
		return fmt.Errorf("reader.base_url is required")
	}
	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Reader.PageLimit <= 0 {
		return fmt.Errorf("reader.page_limit must be greater than 0")
	}
	if cfg.Reader.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_minute must be greater than 0")
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reader.retry.max_attempts must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Writer.MaxWorkers <= 0 {
		return fmt.Errorf("writer.max_workers must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
