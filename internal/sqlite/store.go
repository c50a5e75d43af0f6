// Package sqlite is the embedded store used for local runs and end-to-end
// tests. It implements the same operations as the PostgreSQL repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
)

// Store implements the CRM store on a local SQLite database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (or creates) a SQLite database at path, enables WAL mode and
// foreign keys, and runs any pending schema migrations. ":memory:" gives a
// private database that lives as long as the store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: SQLite serializes writers anyway and an in-memory
	// database is per connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: conn, logger: logger}
	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health checks the database is reachable.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runMigrations applies every migration newer than the recorded version.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// where accumulates AND-ed predicates with '?' placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// grantList unwraps a visible_to holding a JSON string that itself encodes
// the array, the same way access.ParseVisibleTo does. Only evaluated once
// visible_to is known to be valid JSON.
const grantList = "CASE json_type(visible_to) WHEN 'text' THEN json_extract(visible_to, '$') ELSE visible_to END"

// scope adds the tenant predicate and, for restricted scopes, the visibility
// predicate. visible_to is a JSON array in a TEXT column; a value that is not
// valid JSON grants nothing.
func (w *where) scope(s access.Scope, assigneeCol string) {
	w.add("organization_id = ?", s.OrganizationID)
	if !s.Restricted() {
		return
	}

	viewer := s.ViewerID.String()
	grant := "CASE WHEN NOT json_valid(visible_to) THEN 0" +
		" WHEN json_valid(" + grantList + ") THEN EXISTS (SELECT 1 FROM json_each(" + grantList + ") WHERE json_each.value = ?)" +
		" ELSE 0 END"
	if assigneeCol == "" {
		w.add("(visibility = 'org' OR owner_id = ? OR "+grant+")", viewer, viewer)
		return
	}
	w.add("(visibility = 'org' OR owner_id = ? OR "+assigneeCol+" = ? OR "+grant+")",
		viewer, viewer, viewer)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) paginate(p db.Page) string {
	p = p.Normalize()
	w.args = append(w.args, p.Limit, p.Offset)
	return " LIMIT ? OFFSET ?"
}

func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// affected turns a zero-row mutation into db.ErrNotFound.
func affected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, db.ErrNotFound)
	}
	return nil
}
