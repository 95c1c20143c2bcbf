package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"clinica/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const memoryPath = ":memory:"

// DB is the SQLite document store. Appointment writes are announced on the
// configured publisher once they are committed.
type DB struct {
	*sql.DB
	logger    *zerolog.Logger
	publisher domain.EventPublisher

	clockMu   sync.Mutex
	clock     func() time.Time
	lastStamp int64
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger, clock: time.Now}

	if err := sqlDB.QueryRow(`SELECT COALESCE(MAX(created_at), 0) FROM appointments`).Scan(&db.lastStamp); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to read last appointment timestamp: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// SetPublisher registers where committed appointment changes are announced.
func (db *DB) SetPublisher(publisher domain.EventPublisher) {
	db.publisher = publisher
}

// SetClock replaces the time source used for server timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.clockMu.Lock()
	defer db.clockMu.Unlock()
	db.clock = now
}

// nextStamp returns a server timestamp strictly greater than every one
// handed out before by this store.
func (db *DB) nextStamp() time.Time {
	db.clockMu.Lock()
	defer db.clockMu.Unlock()

	stamp := db.clock().UnixNano()
	if stamp <= db.lastStamp {
		stamp = db.lastStamp + 1
	}
	db.lastStamp = stamp
	return time.Unix(0, stamp).UTC()
}

func (db *DB) publish(eventType string, payload interface{}) {
	if db.publisher == nil {
		return
	}
	if err := db.publisher.PublishJSON(eventType, payload); err != nil {
		db.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish change")
	}
}

// Ping reports whether the store answers queries.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            owner_email TEXT NOT NULL DEFAULT '',
            service_name TEXT NOT NULL,
            date TEXT NOT NULL,
            time TEXT NOT NULL,
            status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled')),
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_created ON appointments(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_owner ON appointments(owner_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status)`,
		`CREATE TABLE IF NOT EXISTS services (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT UNIQUE NOT NULL,
            name TEXT NOT NULL,
            price REAL NOT NULL DEFAULT 0,
            duration_minutes INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS documents (
            collection TEXT NOT NULL,
            id TEXT NOT NULL,
            body TEXT NOT NULL,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (collection, id)
        )`,
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'client',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            appointment_id TEXT NOT NULL,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
