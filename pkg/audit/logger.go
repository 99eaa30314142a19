// Package audit records served queries in a dedicated SQLite database.
// The log is request history only; the cache is never rebuilt from it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/recall/pkg/models"
)

const (
	defaultLimit      = 100
	retentionInterval = time.Hour
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS lookups (
	request_id  TEXT PRIMARY KEY,
	cache_key   TEXT NOT NULL,
	query       TEXT NOT NULL DEFAULT '',
	answer      TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL,
	cached      INTEGER NOT NULL,
	shared      INTEGER NOT NULL DEFAULT 0,
	similarity  REAL NOT NULL DEFAULT 0,
	tokens      INTEGER NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	created_ms  INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_lookups_strategy ON lookups(strategy)`,
	`CREATE INDEX IF NOT EXISTS idx_lookups_created ON lookups(created_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_lookups_key ON lookups(cache_key)`,
}

// Logger writes and queries lookup records.
// A nil *Logger accepts Log and Close as no-ops.
type Logger struct {
	db          *sql.DB
	retention   time.Duration
	maxBody     int
	keepQueries bool
	keepAnswers bool
	done        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error
}

// New opens (creating if needed) the database at cfg.DBPath. A positive
// RetentionDays starts an hourly cleanup loop that Close stops.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate audit db: %w", err)
		}
	}

	l := &Logger{
		db:        db,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		maxBody:   cfg.MaxBodySize,
		done:      make(chan struct{}),
	}
	for _, v := range cfg.Include {
		switch v {
		case "queries":
			l.keepQueries = true
		case "answers":
			l.keepAnswers = true
		}
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}
	return l, nil
}

// Log stores one lookup. Query and answer text are dropped unless "queries"
// or "answers" is included, and clipped to MaxBodySize bytes.
func (l *Logger) Log(ctx context.Context, e models.AuditEntry) error {
	if l == nil {
		return nil
	}

	var query, answer string
	if l.keepQueries {
		query = l.clip(e.Query)
	}
	if l.keepAnswers {
		answer = l.clip(e.Answer)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO lookups
		(request_id, cache_key, query, answer, strategy, cached, shared,
		 similarity, tokens, status_code, latency_ms, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.CacheKey, query, answer, string(e.Strategy),
		e.Cached, e.Shared, e.Similarity, e.Tokens, e.StatusCode,
		e.LatencyMs, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// clip truncates s to maxBody bytes without splitting a rune.
func (l *Logger) clip(s string) string {
	if l.maxBody <= 0 || len(s) <= l.maxBody {
		return s
	}
	cut := l.maxBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Query returns entries matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v ...any) {
		where = append(where, clause)
		args = append(args, v...)
	}
	if opts.RequestID != "" {
		add("request_id = ?", opts.RequestID)
	}
	if opts.CacheKey != "" {
		add("cache_key = ?", opts.CacheKey)
	}
	if opts.Strategy != models.StrategyNone {
		add("strategy = ?", string(opts.Strategy))
	}
	if opts.CachedOnly {
		add("cached = 1")
	}
	if !opts.Since.IsZero() {
		add("created_ms >= ?", opts.Since.UnixMilli())
	}

	q := `SELECT request_id, cache_key, query, answer, strategy, cached, shared,
		similarity, tokens, status_code, latency_ms, created_ms FROM lookups`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	q += " ORDER BY created_ms DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e         models.AuditEntry
			strategy  string
			createdMs int64
		)
		if err := rows.Scan(
			&e.RequestID, &e.CacheKey, &e.Query, &e.Answer, &strategy,
			&e.Cached, &e.Shared, &e.Similarity, &e.Tokens,
			&e.StatusCode, &e.LatencyMs, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Strategy = models.Strategy(strategy)
		e.CreatedAt = time.UnixMilli(createdMs).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns request counts and backend tokens per strategy and UTC day,
// newest day first.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT strategy, date(created_ms / 1000, 'unixepoch') AS day, count(*), sum(tokens)
		 FROM lookups GROUP BY strategy, day ORDER BY day DESC, strategy`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var (
			s        models.AuditStat
			strategy string
		)
		if err := rows.Scan(&strategy, &s.Day, &s.Count, &s.Tokens); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Strategy = models.Strategy(strategy)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the retention period. With a zero
// period every entry created before now is removed.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-l.retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM lookups WHERE created_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention loop and closes the database. It is safe to call
// more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		l.closeErr = l.db.Close()
	})
	return l.closeErr
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
