package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mhutchinson/wd/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's connection pool, preventing
	// "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sessionColumns = "id, repo, issue_number, phase, mode, pid, claude_session_id, started_at, exited_at, exit_code, result_file"

func (s *SQLiteStore) UpsertSession(ctx context.Context, session *models.AgentSession) error {
	if session.ID == "" {
		session.ID = newULID()
	}
	if session.Mode == "" {
		session.Mode = models.ModeBackground
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	var exitCode sql.NullInt64
	if session.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*session.ExitCode), Valid: true}
	}
	var exitedAt sql.NullTime
	if session.ExitedAt != nil {
		exitedAt = sql.NullTime{Time: *session.ExitedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo=excluded.repo, issue_number=excluded.issue_number,
			phase=excluded.phase, mode=excluded.mode, pid=excluded.pid,
			claude_session_id=excluded.claude_session_id,
			started_at=excluded.started_at, exited_at=excluded.exited_at,
			exit_code=excluded.exit_code, result_file=excluded.result_file`,
		session.ID, session.Repo, session.IssueNumber, session.Phase,
		string(session.Mode), session.PID, session.ClaudeSessionID,
		session.StartedAt, exitedAt, exitCode, session.ResultFile,
	)
	if err != nil {
		return fmt.Errorf("upsert agent session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.AgentSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM agent_sessions WHERE id = ?", id)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) FindSessions(ctx context.Context, repo string, issueNumber int) ([]*models.AgentSession, error) {
	return s.querySessions(ctx,
		"SELECT "+sessionColumns+" FROM agent_sessions WHERE repo = ? AND issue_number = ? ORDER BY started_at ASC, id ASC",
		repo, issueNumber)
}

func (s *SQLiteStore) FindActiveSession(ctx context.Context, repo string, issueNumber int) (*models.AgentSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+` FROM agent_sessions
		WHERE repo = ? AND issue_number = ? AND exited_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, repo, issueNumber)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.AgentSession, error) {
	query := "SELECT " + sessionColumns + " FROM agent_sessions"
	var conditions []string
	var args []any

	if filter.Repo != "" {
		conditions = append(conditions, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.Mode != "" {
		conditions = append(conditions, "mode = ?")
		args = append(args, string(filter.Mode))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "exited_at IS NULL")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.querySessions(ctx, query, args...)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*models.AgentSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agent sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.AgentSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.AgentSession, error) {
	session := &models.AgentSession{}
	var mode string
	var exitedAt sql.NullTime
	var exitCode sql.NullInt64

	if err := row.Scan(&session.ID, &session.Repo, &session.IssueNumber,
		&session.Phase, &mode, &session.PID, &session.ClaudeSessionID,
		&session.StartedAt, &exitedAt, &exitCode, &session.ResultFile); err != nil {
		return nil, err
	}

	session.Mode = models.SessionMode(mode)
	if exitedAt.Valid {
		session.ExitedAt = &exitedAt.Time
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		session.ExitCode = &code
	}
	return session, nil
}
