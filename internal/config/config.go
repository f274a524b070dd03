package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// API
	APIPort int

	// Storage
	MediaRoot    string // root of the browsable media tree (source directories)
	ArtifactsDir string // where finished zip artifacts are written

	// Archival
	ZipCompressionLevel int
	ArchiveWorkers      int
	QueueDepth          int
	JobTimeout          time.Duration
	ArtifactTTL         time.Duration

	// Schedules
	QuotaSyncInterval time.Duration
	ReaperInterval    time.Duration

	// Download tokens
	DownloadTokenSecret string

	// Optional FTP mirror of finished artifacts to the delivery host
	MirrorFTPHost     string
	MirrorFTPPort     int
	MirrorFTPUser     string
	MirrorFTPPassword string
	MirrorFTPPath     string
}

// generateSecret generates a cryptographically secure random secret
func generateSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return hex.EncodeToString([]byte(os.Getenv("HOSTNAME") + string(rune(length))))
	}
	return hex.EncodeToString(bytes)
}

func Load() *Config {
	// Storage paths are required. Every other setting has a workable
	// default, but without these two the process can do nothing useful.
	mediaRoot := os.Getenv("MEDIA_ROOT")
	if mediaRoot == "" {
		log.Fatal("MEDIA_ROOT not set - refusing to start")
	}
	artifactsDir := os.Getenv("ARTIFACTS_DIR")
	if artifactsDir == "" {
		log.Fatal("ARTIFACTS_DIR not set - refusing to start")
	}

	mediaRoot, err := filepath.Abs(mediaRoot)
	if err != nil {
		log.Fatalf("MEDIA_ROOT is not a usable path: %v", err)
	}
	artifactsDir, err = filepath.Abs(artifactsDir)
	if err != nil {
		log.Fatalf("ARTIFACTS_DIR is not a usable path: %v", err)
	}

	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	redisPassword := getEnv("REDIS_PASSWORD", "")
	if redisPassword == "" {
		log.Println("WARNING: REDIS_PASSWORD not set - Redis is not secured!")
	}

	tokenSecret := getEnv("DOWNLOAD_TOKEN_SECRET", "")
	if tokenSecret == "" {
		log.Println("WARNING: DOWNLOAD_TOKEN_SECRET not set - generated random secret. Download URLs will not survive restarts.")
		tokenSecret = generateSecret(32)
	}

	zipLevel := getEnvInt("ZIP_COMPRESSION_LEVEL", 1)
	if zipLevel < 0 || zipLevel > 9 {
		zipLevel = 1
	}

	workers := getEnvInt("ARCHIVE_WORKERS", 2)
	if workers < 1 {
		workers = 1
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "beatvault"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "beatvault"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: redisPassword,

		APIPort: getEnvInt("API_PORT", 8080),

		MediaRoot:    mediaRoot,
		ArtifactsDir: artifactsDir,

		ZipCompressionLevel: zipLevel,
		ArchiveWorkers:      workers,
		QueueDepth:          getEnvInt("QUEUE_DEPTH", 64),
		JobTimeout:          time.Duration(getEnvInt("JOB_TIMEOUT_MINUTES", 120)) * time.Minute,
		ArtifactTTL:         time.Duration(getEnvInt("ARTIFACT_TTL_DAYS", 7)) * 24 * time.Hour,

		QuotaSyncInterval: time.Duration(getEnvInt("QUOTA_SYNC_INTERVAL_MINUTES", 60)) * time.Minute,
		ReaperInterval:    time.Duration(getEnvInt("REAPER_INTERVAL_MINUTES", 30)) * time.Minute,

		DownloadTokenSecret: tokenSecret,

		MirrorFTPHost:     getEnv("MIRROR_FTP_HOST", ""),
		MirrorFTPPort:     getEnvInt("MIRROR_FTP_PORT", 21),
		MirrorFTPUser:     getEnv("MIRROR_FTP_USER", ""),
		MirrorFTPPassword: getEnv("MIRROR_FTP_PASSWORD", ""),
		MirrorFTPPath:     getEnv("MIRROR_FTP_PATH", ""),
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
