package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	Host    string
	Env     string
	BaseURL string // Public origin used to build share links (e.g. "https://drive.example.com")

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBPath     string

	// Storage configuration
	StorageBackend string // "disk", "memory", "s3"
	StoragePath    string // For disk backend
	TempDir        string // Temp directory for multipart spooling (defaults to system temp)
	S3Endpoint     string
	S3Region       string
	S3Bucket       string // S3 bucket name (required for s3 backend)
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool // Use path-style addressing (required for MinIO/rustfs)

	DefaultUserQuota int64
	MaxUploadSize    int64

	SessionSecret   string
	SessionDuration time.Duration
	BcryptCost      int
	CSRFEnabled     bool

	EnableRegistration bool

	// Deleted items configuration
	DeletedRetentionDays      int // Days to keep trashed items before purging (0 = never purge automatically)
	DeletedCleanupIntervalMin int // Interval in minutes between purge runs

	// Archive and tree configuration
	ArchiveCompressionLevel int // DEFLATE level for ZIP downloads (1 = fastest, 9 = smallest)
	MaxTreeDepth            int // Maximum folder nesting walked by tree traversals
	NameSuffixLimit         int // Max "(n)" suffixes tried before falling back to a random suffix

	// UploadSessionTimeout is how long a resumable upload may stay incomplete.
	UploadSessionTimeout time.Duration

	// ShareVerifyRatePerMin limits extraction code attempts per client IP.
	ShareVerifyRatePerMin float64

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honoured
	// when identifying share visitors and rate limiting.
	TrustedProxies []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		Host:                      getEnv("HOST", "0.0.0.0"),
		Env:                       getEnv("ENV", "development"),
		BaseURL:                   strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		DBType:                    getEnv("DB_TYPE", "sqlite"),
		DBHost:                    getEnv("DB_HOST", "localhost"),
		DBPort:                    getEnv("DB_PORT", "5432"),
		DBName:                    getEnv("DB_NAME", "nimbus"),
		DBUser:                    getEnv("DB_USER", "nimbus"),
		DBPassword:                getEnv("DB_PASSWORD", ""),
		DBPath:                    getEnv("DB_PATH", "./data/nimbus.db"),
		StorageBackend:            getEnv("STORAGE_BACKEND", "disk"),
		StoragePath:               getEnv("STORAGE_PATH", "./data/files"),
		TempDir:                   getEnv("TEMP_DIR", ""),
		S3Endpoint:                getEnv("S3_ENDPOINT", ""),
		S3Region:                  getEnv("S3_REGION", "us-east-1"),
		S3Bucket:                  getEnv("S3_BUCKET", ""),
		S3AccessKey:               getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:               getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle:            getEnvBool("S3_USE_PATH_STYLE", false),
		DefaultUserQuota:          getEnvSize("DEFAULT_USER_QUOTA", "10G"),
		MaxUploadSize:             getEnvSize("MAX_UPLOAD_SIZE", "500M"),
		SessionSecret:             getEnv("SESSION_SECRET", "change_me_in_production_32_bytes"),
		SessionDuration:           getEnvDuration("SESSION_DURATION", "168h"),
		BcryptCost:                getEnvInt("BCRYPT_COST", 10),
		CSRFEnabled:               getEnvBool("CSRF_ENABLED", true),
		EnableRegistration:        getEnvBool("ENABLE_REGISTRATION", true),
		DeletedRetentionDays:      getEnvInt("DELETED_RETENTION_DAYS", 30),
		DeletedCleanupIntervalMin: getEnvInt("DELETED_CLEANUP_INTERVAL_MIN", 60),
		ArchiveCompressionLevel:   getEnvInt("ARCHIVE_COMPRESSION_LEVEL", 1),
		MaxTreeDepth:              getEnvInt("MAX_TREE_DEPTH", 64),
		NameSuffixLimit:           getEnvInt("NAME_SUFFIX_LIMIT", 1000),
		UploadSessionTimeout:      getEnvDuration("UPLOAD_SESSION_TIMEOUT", "24h"),
		ShareVerifyRatePerMin:     getEnvFloat("SHARE_VERIFY_RATE_PER_MIN", 10),
		TrustedProxies:            getEnvStringSlice("TRUSTED_PROXIES"),
	}

	if cfg.DeletedRetentionDays < 0 {
		cfg.DeletedRetentionDays = 0
	}
	if cfg.DeletedCleanupIntervalMin < 1 {
		cfg.DeletedCleanupIntervalMin = 1 // Minimum 1 minute
	}
	if cfg.ArchiveCompressionLevel < 1 || cfg.ArchiveCompressionLevel > 9 {
		cfg.ArchiveCompressionLevel = 1
	}
	if cfg.UploadSessionTimeout <= 0 {
		cfg.UploadSessionTimeout = 24 * time.Hour
	}
	if cfg.MaxTreeDepth < 1 {
		cfg.MaxTreeDepth = 64
	}
	if cfg.NameSuffixLimit < 1 {
		cfg.NameSuffixLimit = 1000
	}

	switch cfg.DBType {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q (supported: sqlite, postgres)", cfg.DBType)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// sizeUnits is ordered so two-letter suffixes are tried before their one-letter forms.
var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1 << 40}, {"T", 1 << 40},
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
	{"B", 1},
}

// parseSize converts human-readable sizes (e.g., "10G", "500M", "1.5K") to bytes.
// A bare number is treated as bytes.
func parseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))

	if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		return val, nil
	}

	for _, unit := range sizeUnits {
		if !strings.HasSuffix(sizeStr, unit.suffix) {
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSuffix(sizeStr, unit.suffix), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size value: %s", sizeStr)
		}
		return int64(val * float64(unit.multiplier)), nil
	}

	return 0, fmt.Errorf("invalid size format: %s (use B, K/KB, M/MB, G/GB, T/TB)", sizeStr)
}

func getEnvSize(key string, defaultValue string) int64 {
	value := getEnv(key, defaultValue)
	size, err := parseSize(value)
	if err != nil {
		log.Printf("config: %s=%q is not a valid size, using %s", key, value, defaultValue)
		size, _ = parseSize(defaultValue)
	}
	return size
}

func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("config: %s=%q is not a valid duration, using %s", key, value, defaultValue)
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

// getEnvStringSlice splits a comma-separated variable, dropping blank items.
func getEnvStringSlice(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
