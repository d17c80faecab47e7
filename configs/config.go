package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

type Config struct {
	// Ghostscript
	GSCandidates     []string
	GSResolution     int
	GSDevice         string
	GSCollectTimeout time.Duration
	GSWorkDir        string // confines request paths when set

	// Logging
	LogLevel    string
	LogEncoding string

	// Storage
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	RedisHost  string
	RedisPort  string

	// Captured tool output
	LogStore    string // local or s3
	LogDir      string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// Services
	APIPort              string
	ExecutorConcurrency  int
	ExecutorDrainTimeout time.Duration
	OTelEndpoint         string
	OTelEnabled          bool

	// API access
	AuthEnabled    bool
	JWTSecret      string
	JWTExpiry      time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies []string
}

func LoadConfig() *Config {
	return &Config{
		GSCandidates:     getEnvAsList("GS_CANDIDATES", []string{"gs", "gswin32c.exe", "gswin64c.exe"}),
		GSResolution:     getEnvAsInt("GS_RESOLUTION", 200),
		GSDevice:         getEnv("GS_DEVICE", "tiffg4"),
		GSCollectTimeout: getEnvAsDuration("GS_COLLECT_TIMEOUT", 5*time.Minute),
		GSWorkDir:        getEnv("GS_WORK_DIR", ""),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "json"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "gsraster"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "gsraster"),
		RedisHost:  getEnv("REDIS_HOST", "localhost"),
		RedisPort:  getEnv("REDIS_PORT", "6379"),

		LogStore:    getEnv("LOG_STORE", "local"),
		LogDir:      getEnv("LOG_DIR", "/tmp/gsraster-logs"),
		S3Bucket:    getEnv("S3_BUCKET", "gsraster"),
		S3Prefix:    getEnv("S3_PREFIX", "logs/conversions/"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),

		APIPort:              getEnv("API_PORT", "8080"),
		ExecutorConcurrency:  getEnvAsInt("EXECUTOR_CONCURRENCY", DefaultConcurrency()),
		ExecutorDrainTimeout: getEnvAsDuration("EXECUTOR_DRAIN_TIMEOUT", 2*time.Minute),
		OTelEndpoint:         getEnv("OTEL_ENDPOINT", "localhost:4318"),
		OTelEnabled:          getEnvAsBool("OTEL_ENABLED", false),

		AuthEnabled:    getEnvAsBool("AUTH_ENABLED", true),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTExpiry:      getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
	}
}

// PostgresDSN builds the connection string for the conversion store.
func (c *Config) PostgresDSN() string {
	return "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword +
		" dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=disable TimeZone=UTC"
}

// RedisAddr returns host:port of the request queue.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// DefaultConcurrency is the number of logical CPUs, falling back to the Go
// runtime's view when the host cannot be queried.
func DefaultConcurrency() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
