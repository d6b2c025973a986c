package output

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakopako/dealskyr/internal/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS deals (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	price TEXT NOT NULL,
	old_price TEXT NOT NULL,
	discount TEXT,
	link TEXT NOT NULL,
	image TEXT NOT NULL,
	source TEXT NOT NULL,
	posted TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	source TEXT NOT NULL,
	nr_items INTEGER NOT NULL,
	nr_collected INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	captcha INTEGER NOT NULL,
	fallback INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER NOT NULL
);`

// SQLiteWriter archives deals in a sqlite database. A deal is stored once,
// the first time its id is written.
type SQLiteWriter struct {
	*WriterConfig
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewSQLiteWriter(wc *WriterConfig) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", wc.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", wc.Database, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteWriter{
		WriterConfig: wc,
		db:           db,
		now:          time.Now,
		logger:       slog.With(slog.String("writer", string(SQLITE_WRITER_TYPE))),
	}, nil
}

func (w *SQLiteWriter) Write(ctx context.Context, records []types.DealRecord) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO deals
		(id, title, price, old_price, discount, link, image, source, posted, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	fetchedAt := w.now().UnixMilli()
	inserted := int64(0)
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, r.ID, r.Title, r.Price, r.OldPrice, r.Discount, r.Link, r.Image, r.Source, r.Posted, fetchedAt)
		if err != nil {
			return fmt.Errorf("failed to insert deal %s: %w", r.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	w.logger.Info(fmt.Sprintf("archived %d of %d deals in %s", inserted, len(records), w.Database))
	return nil
}

func (w *SQLiteWriter) WriteStatus(ctx context.Context, status types.RunStatus) error {
	_, err := w.db.ExecContext(ctx, `INSERT INTO runs
		(source, nr_items, nr_collected, attempts, captcha, fallback, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		status.Source, status.NrItems, status.NrCollected, status.Attempts,
		status.Captcha, status.Fallback, status.Start.UnixMilli(), status.End.UnixMilli())
	return err
}

func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
