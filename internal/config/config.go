// Package config loads service configuration from environment variables and
// .env files, preferring .env.local over .env the way the original tile
// service does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full process configuration.
type Config struct {
	DataRoot           string
	RegionRegistryPath string
	Database           DatabaseConfig
	S3                 S3Config
	TileDownload       TileDownloadConfig
	DatasetBaseURLs    map[string]string
}

// DatabaseConfig holds the Run Ledger's Postgres connection settings. The
// ledger is advisory (§4.11), so an unreachable database never blocks the
// pipeline; these settings are only consulted when the ledger is enabled.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled reports whether enough connection info is present to attempt a
// connection at all.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" && d.User != ""
}

// S3Config holds the Remote Tile Mirror's S3/R2 connection settings. The
// mirror is additive-only (§4.2 supplement) and disables itself when no
// access key is configured.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	BucketPath      string
}

// Enabled reports whether the mirror has credentials to operate with.
func (s S3Config) Enabled() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// TileDownloadConfig tunes the orchestrator's retry and rate-limit behavior.
type TileDownloadConfig struct {
	MinIntervalMS int
	MaxRetries    int
}

// Load loads configuration from the environment, optionally seeded from an
// .env file at envPath. If envPath+".local" (i.e. swapping the ".env"
// suffix for ".env.local") exists, it is preferred over envPath, matching
// the teacher's local-overrides-production convention.
func Load(envPath string) (*Config, error) {
	localEnvPath := strings.TrimSuffix(envPath, ".env") + ".env.local"
	if _, err := os.Stat(localEnvPath); err == nil {
		if err := loadEnvFile(localEnvPath); err != nil {
			return nil, fmt.Errorf("loading local env file: %w", err)
		}
	} else if _, err := os.Stat(envPath); err == nil {
		if err := loadEnvFile(envPath); err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	cfg := &Config{
		DataRoot:           getEnv("DEM_DATA_ROOT", "./data-root"),
		RegionRegistryPath: getEnv("REGION_REGISTRY_PATH", "./regions.json"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "demregion"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		S3: S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", "https://s3.us-west-1.wasabisys.com"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("S3_REGION", "us-west-1"),
			Bucket:          getEnv("S3_BUCKET", "demregion-tiles"),
			BucketPath:      getEnv("S3_BUCKET_PATH", "tiles"),
		},
		TileDownload: TileDownloadConfig{
			MinIntervalMS: getEnvInt("TILE_DOWNLOAD_MIN_INTERVAL_MS", 0),
			MaxRetries:    getEnvInt("TILE_DOWNLOAD_MAX_RETRIES", 5),
		},
		DatasetBaseURLs: map[string]string{
			"dem10m_usa":    getEnv("DEM_URL_USA_10M", ""),
			"dem30m_global": getEnv("DEM_URL_GLOBAL_30M", ""),
			"dem30m_polar":  getEnv("DEM_URL_POLAR_30M", ""),
			"dem90m_global": getEnv("DEM_URL_GLOBAL_90M", ""),
			"dem90m_polar":  getEnv("DEM_URL_POLAR_90M", ""),
		},
	}

	return cfg, nil
}

func loadEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		os.Setenv(key, value)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
