package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteStore is the default Store, backed by modernc.org/sqlite.
type sqliteStore struct {
	DB *sql.DB
	// hot-path statements, prepared at open
	stmtGetTask       *sql.Stmt
	stmtListTasks     *sql.Stmt
	stmtUpdateTask    *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetWorktree   *sql.Stmt
}

// Open opens the SQLite store at home/protected/db.sqlite, creating and
// migrating it as needed.
func Open(home string) (Store, error) {
	if home == "" {
		return nil, errors.New("store: home is required")
	}
	path := filepath.Join(home, "protected", "db.sqlite")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return OpenFile(path)
}

// OpenFile opens a SQLite database at path.
func OpenFile(path string) (Store, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &sqliteStore{DB: db}
	ctx := context.Background()
	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

const taskColumns = `id, project_id, title, description, column_name, position, assignee, created_by, labels, created_at, updated_at`

func (s *sqliteStore) prepareStatements(ctx context.Context) error {
	pairs := []struct {
		dest **sql.Stmt
		q    string
	}{
		{&s.stmtGetTask, `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = ? AND id = ?`},
		{&s.stmtListTasks, `SELECT ` + taskColumns + ` FROM tasks WHERE project_id = ?
ORDER BY CASE column_name WHEN 'backlog' THEN 0 WHEN 'in_progress' THEN 1 ELSE 2 END, position, id`},
		{&s.stmtUpdateTask, `UPDATE tasks SET title=?, description=?, column_name=?, position=?, assignee=?, labels=?, updated_at=? WHERE project_id=? AND id=?`},
		{&s.stmtAppendMessage, `INSERT INTO messages(id, from_agent, to_agent, type, content, metadata, project_id, conversation_id, correlation_id, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.stmtGetWorktree, `SELECT agent_id, project_id, branch, path, base_sha, status, created_at, merged_at FROM worktrees WHERE agent_id = ?`},
	}
	for _, p := range pairs {
		st, err := s.DB.PrepareContext(ctx, p.q)
		if err != nil {
			return err
		}
		*p.dest = st
	}
	return nil
}

// EnsureSchema opens and migrates the store at home, then closes it.
func EnsureSchema(home string) error {
	s, err := Open(home)
	if err != nil {
		return err
	}
	return s.Close()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	for _, st := range []*sql.Stmt{s.stmtGetTask, s.stmtListTasks, s.stmtUpdateTask, s.stmtAppendMessage, s.stmtGetWorktree} {
		if st != nil {
			_ = st.Close()
		}
	}
	return s.DB.Close()
}

// Migrate applies the embedded migrations newer than the recorded schema version.
func (s *sqliteStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
)`); err != nil {
		return err
	}
	var current int
	if err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}
	migs, err := LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	for _, m := range migs {
		if m.Version <= current {
			continue
		}
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, m.SQL)
		if err == nil {
			_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix())
		}
		if err == nil {
			err = tx.Commit()
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Migration is one numbered schema file, e.g. 001_init.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations reads dir/*.sql from fsys ordered by version.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	names, err := fs.Glob(fsys, dir+"/*.sql")
	if err != nil {
		return nil, err
	}
	migs := make([]Migration, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		v, err := parseMigrationVersion(base)
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		migs = append(migs, Migration{Version: v, Name: base, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs, nil
}

func parseMigrationVersion(filename string) (int, error) {
	prefix, _, _ := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s: name must start with a version number", filename)
	}
	return v, nil
}
