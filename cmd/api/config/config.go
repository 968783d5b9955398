package config

import (
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"

	"github.com/kilnhq/kiln/lib/builds"
)

type Config struct {
	Port                string
	DataDir             string
	Shell               string
	MaxConcurrentBuilds int
	BuildTimeout        time.Duration
	MaxBuildLogSize     datasize.ByteSize
	JwtSecret           string
	LogLevel            string
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	defaults := builds.DefaultConfig()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DataDir:             getEnv("DATA_DIR", "/var/lib/kiln"),
		Shell:               getEnv("SHELL_PATH", defaults.Shell),
		MaxConcurrentBuilds: getEnvInt("MAX_CONCURRENT_BUILDS", defaults.MaxConcurrentBuilds),
		BuildTimeout:        getEnvDuration("BUILD_TIMEOUT", defaults.BuildTimeout),
		MaxBuildLogSize:     getEnvSize("MAX_BUILD_LOG_SIZE", defaults.MaxLogSize),
		JwtSecret:           getEnv("JWT_SECRET", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// BuildConfig returns the build manager configuration.
func (c *Config) BuildConfig() builds.Config {
	return builds.Config{
		MaxConcurrentBuilds: c.MaxConcurrentBuilds,
		BuildTimeout:        c.BuildTimeout,
		Shell:               c.Shell,
		MaxLogSize:          c.MaxBuildLogSize,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSize(key string, defaultValue datasize.ByteSize) datasize.ByteSize {
	if value := os.Getenv(key); value != "" {
		if sz, err := datasize.ParseString(value); err == nil {
			return sz
		}
	}
	return defaultValue
}
