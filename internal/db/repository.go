package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/access"
)

// Repository is the PostgreSQL implementation of every store the API,
// notification service and audit logger consume. Each call is a single
// statement or a single transaction; nothing spans entities.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a repository over an open pool.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// where accumulates AND-ed predicates written with '?' placeholders and
// renumbers them into pgx's $n form.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	var b strings.Builder
	next := 0
	for _, r := range cond {
		if r == '?' && next < len(args) {
			w.args = append(w.args, args[next])
			next++
			fmt.Fprintf(&b, "$%d", len(w.args))
			continue
		}
		b.WriteRune(r)
	}
	w.conds = append(w.conds, b.String())
}

// scope adds the tenant predicate and, for restricted scopes, the visibility
// predicate. assigneeCol is empty for records without an assignee.
func (w *where) scope(s access.Scope, assigneeCol string) {
	w.add("organization_id = ?", s.OrganizationID)
	if !s.Restricted() {
		return
	}

	viewer := *s.ViewerID
	if assigneeCol == "" {
		w.add("(visibility = 'org' OR owner_id = ? OR ? = ANY(visible_to))", viewer, viewer)
		return
	}
	w.add("(visibility = 'org' OR owner_id = ? OR "+assigneeCol+" = ? OR ? = ANY(visible_to))",
		viewer, viewer, viewer)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// paginate appends LIMIT/OFFSET placeholders.
func (w *where) paginate(p Page) string {
	p = p.Normalize()
	w.args = append(w.args, p.Limit, p.Offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}

func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Health pings the underlying pool.
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}
