//go:build sqlite
// +build sqlite

package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pewprobe/pkg/logx"
	"pewprobe/pkg/probe"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r *probe.Result) error {
	if r == nil {
		return nil
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO probe_results(id, ts, target, url, downloaded_bytes, elapsed_ms, max_rate_mbps)
		 VALUES(?,?,?,?,?,?,?)`,
		newRecordID(ts), ts.Format(time.RFC3339Nano), r.Target, r.URL,
		r.DownloadedBytes, r.ElapsedMS, r.MaxRateMBps,
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]probe.Result, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > 50 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, target, url, downloaded_bytes, elapsed_ms, max_rate_mbps
		 FROM probe_results ORDER BY ts DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]probe.Result, 0, n)
	for rows.Next() {
		var (
			ts string
			r  probe.Result
		)
		if err := rows.Scan(&ts, &r.Target, &r.URL, &r.DownloadedBytes, &r.ElapsedMS, &r.MaxRateMBps); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	stats := &Stats{Window: window}
	cutoff := time.Now().Add(-window).Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, target, url, downloaded_bytes, elapsed_ms, max_rate_mbps
		 FROM probe_results WHERE ts >= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts string
			r  probe.Result
		)
		if err := rows.Scan(&ts, &r.Target, &r.URL, &r.DownloadedBytes, &r.ElapsedMS, &r.MaxRateMBps); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t
		}
		stats.observe(&r)
	}
	stats.finish()
	return stats, rows.Err()
}

func (s *sqliteStore) CleanOlderThan(ctx context.Context, days int) (int, error) {
	if days < 1 {
		days = 1
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM probe_results WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
