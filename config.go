package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"medreport/pkg/intake"
	"medreport/pkg/storage"
)

// Config holds everything the process reads from the environment, loaded
// once at startup and injected into the pieces that need it. Low-level code
// never touches os.Getenv directly.
type Config struct {
	Port           string
	DBDSN          string
	AutoMigrate    bool
	JWTSecret      []byte
	UploadDir      string
	MaxFileSize    int64
	Summarizer     string // "static" or "ocr"
	StorageBackend string // "local" or "s3"
	CORSOrigin     string
	S3             storage.S3Options
}

func loadConfig() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}

	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DBDSN:          os.Getenv("DB_DSN"),
		AutoMigrate:    envBool("DB_AUTO_MIGRATE", true),
		JWTSecret:      []byte(secret),
		UploadDir:      envOr("UPLOAD_DIR", "uploads"),
		MaxFileSize:    envInt64("MAX_FILE_SIZE", intake.DefaultMaxSize),
		Summarizer:     envOr("SUMMARIZER", "static"),
		StorageBackend: envOr("STORAGE_BACKEND", "local"),
		CORSOrigin:     envOr("CORS_ORIGIN", "http://localhost:3000"),
		S3: storage.S3Options{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    envOr("S3_BUCKET", "medreport"),
			UseSSL:    envBool("S3_USE_SSL", false),
		},
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "false", "0", "no", "False", "FALSE":
		return false
	}
	return true
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}
