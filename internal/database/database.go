package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"bridgeroute/internal/config"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	driver string
	config config.DatabaseConfig
	log    logger.Logger
}

// Open creates a connection pool for the configured driver and pings it
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.NewNop()
	}

	dsn := cfg.DSN()
	switch cfg.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if cfg.Path == ":memory:" {
			// every connection to :memory: is a separate database
			cfg.MaxOpen = 1
			cfg.MaxIdle = 1
		} else {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeDBConnection, "failed to open database", err)
	}

	// Set default values if not provided
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 10
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Test connection with retry logic
	var pingErr error
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		pingErr = sqlDB.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			break
		}

		log.Warn("Database ping failed", "attempt", i+1, "max_attempts", maxRetries, "error", pingErr)
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				sqlDB.Close()
				return nil, errors.New(errors.ErrCodeDBConnection, "database connect cancelled", ctx.Err())
			case <-time.After(time.Second * time.Duration(i+1)):
			}
		}
	}
	if pingErr != nil {
		sqlDB.Close()
		return nil, errors.New(errors.ErrCodeDBConnection,
			fmt.Sprintf("failed to ping %s database after %d attempts", cfg.Driver, maxRetries), pingErr)
	}

	log.Info("Database connection established",
		"driver", cfg.Driver, "max_open", cfg.MaxOpen, "max_idle", cfg.MaxIdle, "max_lifetime", cfg.ConnMaxLifetime.String())

	return &DB{DB: sqlDB, driver: cfg.Driver, config: cfg, log: log}, nil
}

// Driver returns the driver name
func (db *DB) Driver() string {
	return db.driver
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return errors.New(errors.ErrCodeDBConnection, "database health check failed", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
