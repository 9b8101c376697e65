package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BakeLens/shellgate/internal/logger"
	_ "github.com/mutecomm/go-sqlcipher/v4" // SQLCipher driver for encrypted SQLite
)

var log = logger.New("telemetry")

// ErrNotFound is returned when an execution id does not exist.
var ErrNotFound = errors.New("execution not found")

// Storage handles SQLite/SQLCipher database operations
type Storage struct {
	conn      *sql.DB
	encrypted bool
}

// MinEncryptionKeyLength is the minimum required length for encryption keys
const MinEncryptionKeyLength = 16

// NewStorage opens (or creates) the audit database, encrypted when
// encryptionKey is set.
func NewStorage(dbPath string, encryptionKey string) (*Storage, error) {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "1")

	// SECURITY: the key goes through the DSN, never through a PRAGMA string.
	if encryptionKey != "" {
		if len(encryptionKey) < MinEncryptionKeyLength {
			return nil, fmt.Errorf("encryption key must be at least %d characters", MinEncryptionKeyLength)
		}
		params.Set("_pragma_key", encryptionKey)
	}

	dsn := dbPath + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection serializes access in Go
	// instead of surfacing SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	// A wrong key only shows up on the first read.
	encrypted := false
	if encryptionKey != "" {
		var result int
		if err := conn.QueryRowContext(context.Background(), "SELECT 1").Scan(&result); err != nil {
			conn.Close()
			return nil, fmt.Errorf("encryption key verification failed: %w", err)
		}
		encrypted = true
		log.Info("Audit database encryption enabled")
	}

	s := &Storage{conn: conn, encrypted: encrypted}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// IsEncrypted returns whether the database is encrypted
func (s *Storage) IsEncrypted() bool {
	return s.encrypted
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.conn.Close()
}

// DB returns the underlying database connection
func (s *Storage) DB() *sql.DB {
	return s.conn
}

func (s *Storage) initSchema() error {
	if _, err := s.conn.ExecContext(context.Background(), schema); err != nil {
		return err
	}
	s.runMigrations()
	return nil
}

// runMigrations applies incremental schema changes to databases created by
// older builds. Each migration is idempotent.
func (s *Storage) runMigrations() {
	ctx := context.Background()
	migrations := []string{
		`ALTER TABLE executions ADD COLUMN output_size INTEGER DEFAULT 0`,
		`ALTER TABLE executions ADD COLUMN description TEXT`,
	}
	for _, m := range migrations {
		if _, err := s.conn.ExecContext(ctx, m); err != nil {
			// "duplicate column name": already applied
			if !strings.Contains(err.Error(), "duplicate column") {
				log.Debug("Migration skipped: %v", err)
			}
		}
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	agent TEXT,
	session_id TEXT,
	message_id TEXT,
	call_id TEXT,
	command TEXT NOT NULL,
	description TEXT,
	outcome TEXT NOT NULL,
	rule TEXT,
	exit_code INTEGER,
	duration_ms INTEGER DEFAULT 0,
	truncated BOOLEAN DEFAULT FALSE,
	output_size INTEGER DEFAULT 0,
	output BLOB
);
CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON executions(timestamp);
CREATE INDEX IF NOT EXISTS idx_executions_session_id ON executions(session_id);
CREATE INDEX IF NOT EXISTS idx_executions_outcome ON executions(outcome);
`

// LogExecution stores one audited request. Output is compressed.
func (s *Storage) LogExecution(ctx context.Context, e Execution) error {
	if !e.Outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	blob, err := compressOutput(e.Output)
	if err != nil {
		return err
	}
	var exit sql.NullInt64
	if e.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*e.ExitCode), Valid: true}
	}
	size := e.OutputSize
	if size == 0 {
		size = int64(len(e.Output))
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO executions (agent, session_id, message_id, call_id, command, description,
		                        outcome, rule, exit_code, duration_ms, truncated, output_size, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, strPtr(e.Agent), strPtr(e.SessionID), strPtr(e.MessageID), strPtr(e.CallID),
		e.Command, strPtr(e.Description), string(e.Outcome), strPtr(e.Rule), exit,
		e.DurationMs, e.Truncated, size, blob)
	if err != nil {
		return fmt.Errorf("failed to log execution: %w", err)
	}
	return nil
}

// MaxRecentMinutes is the maximum time window for recent logs (7 days)
const MaxRecentMinutes = 10080

// Filter selects executions. Zero fields do not filter.
type Filter struct {
	Minutes   int
	Limit     int
	SessionID string
	Outcome   Outcome
}

// ListExecutions returns matching executions, newest first.
func (s *Storage) ListExecutions(ctx context.Context, f Filter) ([]Execution, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Minutes > MaxRecentMinutes {
		f.Minutes = MaxRecentMinutes
	}

	var (
		where []string
		args  []any
	)
	if f.Minutes > 0 {
		where = append(where, "timestamp > datetime('now', ?)")
		args = append(args, fmt.Sprintf("-%d minutes", f.Minutes))
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}

	query := selectExecution
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, int64(f.Limit))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetExecution returns one execution by id.
func (s *Storage) GetExecution(ctx context.Context, id int64) (*Execution, error) {
	row := s.conn.QueryRowContext(ctx, selectExecution+" WHERE id = ?", id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Stats summarizes the audit log.
type Stats struct {
	Total     int64             `json:"total"`
	ByOutcome map[Outcome]int64 `json:"by_outcome"`
	Encrypted bool              `json:"encrypted"`
}

// GetStats counts executions per outcome.
func (s *Storage) GetStats(ctx context.Context) (*Stats, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM executions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByOutcome: map[Outcome]int64{}, Encrypted: s.encrypted}
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.ByOutcome[Outcome(outcome)] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

// MaxRetentionDays is the maximum allowed retention period
const MaxRetentionDays = 36500 // 100 years

// CleanupOldData deletes executions older than days and returns how many
// were removed. days <= 0 keeps everything.
func (s *Storage) CleanupOldData(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	if days > MaxRetentionDays {
		days = MaxRetentionDays
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit

	result, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE timestamp < datetime('now', ?)`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old executions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup transaction: %w", err)
	}

	if deleted > 0 {
		log.Info("Cleaned up %d old executions (retention: %d days)", deleted, days)
	}
	return deleted, nil
}

const selectExecution = `
	SELECT id, timestamp, agent, session_id, message_id, call_id, command, description,
	       outcome, rule, exit_code, duration_ms, truncated, output_size, output
	FROM executions`

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	var (
		e                                         Execution
		ts                                        *time.Time
		agent, session, message, call, desc, rule *string
		outcome                                   string
		exit                                      sql.NullInt64
		duration, size                            sql.NullInt64
		truncated                                 sql.NullBool
		blob                                      []byte
	)
	if err := row.Scan(&e.ID, &ts, &agent, &session, &message, &call, &e.Command, &desc,
		&outcome, &rule, &exit, &duration, &truncated, &size, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan execution row: %w", err)
	}
	if ts != nil {
		e.Timestamp = ts.UTC()
	}
	e.Agent = derefStr(agent)
	e.SessionID = derefStr(session)
	e.MessageID = derefStr(message)
	e.CallID = derefStr(call)
	e.Description = derefStr(desc)
	e.Outcome = Outcome(outcome)
	e.Rule = derefStr(rule)
	if exit.Valid {
		code := int(exit.Int64)
		e.ExitCode = &code
	}
	e.DurationMs = duration.Int64
	e.Truncated = truncated.Bool
	e.OutputSize = size.Int64

	out, err := decompressOutput(blob)
	if err != nil {
		log.Warn("execution %d: %v", e.ID, err)
	}
	e.Output = out
	return &e, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
