package db

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/config"
)

type DB struct {
	Postgres *sql.DB
	Redis    *redis.Client
}

// NewDB opens Postgres (required) and Redis (optional; nil when unreachable)
func NewDB(ctx context.Context, dbCfg config.DatabaseConfig, redisCfg config.RedisConfig) (*DB, error) {
	if dbCfg.URL == "" {
		return nil, errors.New("database url is required")
	}

	pg, err := sql.Open("postgres", dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	pg.SetMaxOpenConns(25)
	pg.SetMaxIdleConns(5)
	pg.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pg.PingContext(pingCtx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Println("[DB] PostgreSQL connection established")

	var rdb *redis.Client
	opts, err := RedisOptions(redisCfg.URL, redisCfg.Password)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v (continuing without Redis)", err)
	} else {
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v (continuing without Redis)", err)
			rdb.Close()
			rdb = nil
		} else {
			log.Println("[DB] Redis connection established")
		}
	}

	return &DB{
		Postgres: pg,
		Redis:    rdb,
	}, nil
}

// RedisOptions accepts both "host:port" and "redis://" / "rediss://" URLs.
// password is only used for the host:port form.
func RedisOptions(redisURL, password string) (*redis.Options, error) {
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	opts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DB:           0,
	}

	if !strings.HasPrefix(redisURL, "redis://") && !strings.HasPrefix(redisURL, "rediss://") {
		opts.Addr = redisURL
		opts.Password = password
		return opts, nil
	}

	parsed, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	opts.Addr = parsed.Host
	if parsed.User != nil {
		opts.Username = parsed.User.Username()
		if pw, ok := parsed.User.Password(); ok {
			opts.Password = pw
		}
	}
	if parsed.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return opts, nil
}

// Close closes all database connections
func (db *DB) Close() error {
	var errs []error

	if db.Postgres != nil {
		if err := db.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

// RunMigrations executes SQL migration files in lexical order, once each
func (db *DB) RunMigrations(ctx context.Context, migrationsPath string) error {
	log.Println("[DB] Running migrations...")

	_, err := db.Postgres.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		err := db.Postgres.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", version, err)
		}

		tx, err := db.Postgres.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction for migration %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)",
			version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}

		log.Printf("[DB] Applied migration: %s", version)
	}

	log.Println("[DB] All migrations completed successfully")
	return nil
}

// Health checks database health. Redis failures are logged, not returned.
func (db *DB) Health(ctx context.Context) error {
	if err := db.Postgres.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}

	if db.Redis != nil {
		if err := db.Redis.Ping(ctx).Err(); err != nil {
			log.Printf("[WARN] Redis health check failed: %v", err)
		}
	}

	return nil
}
