package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"medreport/pkg/intake"
	"medreport/pkg/storage"
	"medreport/pkg/summarize"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := loadConfig()
	jwtSecret = cfg.JWTSecret
	corsOrigin = cfg.CORSOrigin

	// Support a lightweight migrate command: `./medreport migrate`
	// It runs AutoMigrate then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if _, err := initDB(cfg); err != nil {
			log.Fatal(err)
		}
		fmt.Println("migration completed")
		return
	}

	var err error
	gdb, err = initDB(cfg)
	if err != nil {
		log.Fatal(err)
	}

	fileStore, err = buildStore(cfg)
	if err != nil {
		log.Fatal(err)
	}
	localDir := ""
	if l, ok := fileStore.(*storage.Local); ok {
		localDir = l.BaseDir()
	}

	svc = NewReportService(
		NewReportRepository(gdb),
		fileStore,
		intake.NewFilter(cfg.MaxFileSize),
		buildSummarizer(cfg),
		localDir,
	)

	r := gin.Default()
	setupRoutes(r)

	log.Printf("serving on :%s (storage=%s, summarizer=%s)", cfg.Port, cfg.StorageBackend, cfg.Summarizer)
	r.Run(":" + cfg.Port)
}

func buildStore(cfg Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3(context.Background(), cfg.S3)
	case "", "local":
		return storage.NewLocal(cfg.UploadDir)
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func buildSummarizer(cfg Config) summarize.Summarizer {
	if cfg.Summarizer == "ocr" {
		return summarize.NewOCR()
	}
	return summarize.Static{}
}
