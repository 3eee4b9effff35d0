// Package audit keeps a journal of plugin command executions in SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/aion-project/aion/internal/plugin"
)

// Journal stores plugin executions. It implements plugin.Recorder.
type Journal struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ plugin.Recorder = (*Journal)(nil)

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the journal's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// DefaultPath returns ~/.aion/audit.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aion", "audit.db")
	}
	return filepath.Join(home, ".aion", "audit.db")
}

// Open opens or creates the journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	j := &Journal{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(j)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; SQLite serializes anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j.db = db
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	j.logger.Debug("audit journal opened", zap.String("path", path))
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		plugin TEXT NOT NULL,
		command TEXT NOT NULL,
		args TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_plugin ON executions(plugin);
	CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Path returns the database file.
func (j *Journal) Path() string {
	return j.path
}

// Record stores one execution.
func (j *Journal) Record(ctx context.Context, e plugin.Execution) error {
	args := e.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO executions (id, plugin, command, args, status, error, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Plugin, e.Command, string(argsJSON), string(e.Status), e.Error,
		e.Started.UnixNano(), int64(e.Duration))
	if err != nil {
		return fmt.Errorf("failed to record execution %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit executions, newest first. A non-empty
// pluginName restricts the result to that plugin.
func (j *Journal) Recent(ctx context.Context, pluginName string, limit int) ([]plugin.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, plugin, command, args, status, error, started_at, duration_ns
		FROM executions`
	var params []any
	if pluginName != "" {
		query += ` WHERE plugin = ?`
		params = append(params, pluginName)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	params = append(params, limit)

	rows, err := j.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []plugin.Execution
	for rows.Next() {
		var (
			e        plugin.Execution
			args     string
			status   string
			started  int64
			duration int64
		)
		if err := rows.Scan(&e.ID, &e.Plugin, &e.Command, &args, &status, &e.Error, &started, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			j.logger.Warn("execution args unreadable", zap.String("id", e.ID), zap.Error(err))
		}
		e.Status = plugin.ExecutionStatus(status)
		e.Started = time.Unix(0, started)
		e.Duration = time.Duration(duration)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PluginSummary aggregates the journal for one plugin.
type PluginSummary struct {
	Plugin     string
	Stats      plugin.ExecutionStats
	LastRunAt  time.Time
	TopCommand string
}

// Summary aggregates the journal per plugin, ordered by name.
// AverageDuration covers successful executions only.
func (j *Journal) Summary(ctx context.Context) ([]PluginSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT
			plugin,
			COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			COALESCE(AVG(CASE WHEN status = ? THEN duration_ns END), 0),
			MAX(started_at)
		FROM executions
		GROUP BY plugin
		ORDER BY plugin
	`, string(plugin.ExecutionSucceeded), string(plugin.ExecutionSucceeded))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize executions: %w", err)
	}
	defer rows.Close()

	var out []PluginSummary
	for rows.Next() {
		var (
			s       PluginSummary
			avg     float64
			lastRun int64
		)
		if err := rows.Scan(&s.Plugin, &s.Stats.Total, &s.Stats.Successful, &avg, &lastRun); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		s.Stats.Failed = s.Stats.Total - s.Stats.Successful
		s.Stats.AverageDuration = time.Duration(avg)
		s.LastRunAt = time.Unix(0, lastRun)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		top, err := j.topCommand(ctx, out[i].Plugin)
		if err != nil {
			return nil, err
		}
		out[i].TopCommand = top
	}
	return out, nil
}

func (j *Journal) topCommand(ctx context.Context, pluginName string) (string, error) {
	var command string
	err := j.db.QueryRowContext(ctx, `
		SELECT command FROM executions
		WHERE plugin = ?
		GROUP BY command
		ORDER BY COUNT(*) DESC, command
		LIMIT 1
	`, pluginName).Scan(&command)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to find top command: %w", err)
	}
	return command, nil
}

// Prune deletes executions started before cutoff and returns how many
// were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM executions WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
