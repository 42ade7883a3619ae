package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"medreport/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// connEventHook receives database errors that look like connection trouble
// (pool exhaustion, lost connections) rather than bad requests. main wires
// it to the process log; an orchestrator can subscribe its own observer.
var connEventHook = func(err error) {
	log.Printf("database connection event: %v", err)
}

// initDB opens the shared Postgres handle, configures the pool, verifies
// connectivity once, and runs migrations when enabled. The handle is created
// exactly once at startup and passed into the repository, never re-created
// per request.
func initDB(cfg Config) (*gorm.DB, error) {
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is not set; this service requires a Postgres DSN in DB_DSN")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.AutoMigrate {
		// Migrate models individually so a failure on one doesn't block others
		if err := gdb.AutoMigrate(&models.User{}); err != nil {
			log.Printf("migration warning (users): %v", err)
		}
		if err := gdb.AutoMigrate(&models.Report{}); err != nil {
			log.Printf("migration warning (reports): %v", err)
		}
	}
	return gdb, nil
}

// pingDB is the connectivity check behind GET /health.
func pingDB(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		connEventHook(err)
		return err
	}
	return nil
}
