package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const maxBusyRetries = 5

// DB is the entity store. Every persisted row goes through it.
type DB struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (or creates) the sqlite database at path and runs migrations.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string, logger *log.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if path == ":memory:" {
		// each connection to :memory: is its own database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			logger.Warn("failed to enable WAL mode", "err", err)
		} else {
			logger.Debug("database journal mode", "mode", journalMode)
		}
		sqlDB.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
		sqlDB.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	}
	sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	d := &DB{db: sqlDB, logger: logger.WithPrefix("db")}
	if err := d.RunMigrations(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f in a transaction and commits it. A transaction that
// fails with SQLITE_BUSY is rolled back and retried from the start.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = db.runTx(ctx, f)
		if !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	db.logger.Error("giving up on busy transaction", "err", err)
	return err
}

func (db *DB) runTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_BUSY
}

// skippedIfNoRows turns an ON CONFLICT DO NOTHING miss into ErrConflictSkipped.
func skippedIfNoRows(res sql.Result, skipped error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return skipped
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// pageBounds converts 1-based page/size into LIMIT/OFFSET.
func pageBounds(page, size int) (limit int, offset int) {
	if size <= 0 {
		size = 10
	}
	if page <= 0 {
		page = 1
	}
	return size, (page - 1) * size
}
