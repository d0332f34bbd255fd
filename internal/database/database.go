// internal/database/database.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"psu-service/internal/config"
)

// DB wraps the sql connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewConnection opens the archive database and verifies connectivity.
func NewConnection(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	dbCfg := cfg.Storage.Database
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	db.SetConnMaxLifetime(dbCfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("host", dbCfg.Host),
		zap.String("dbname", dbCfg.DBName),
	)

	return &DB{DB: db, logger: logger}, nil
}
