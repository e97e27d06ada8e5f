package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// Schema returns the feed schema migrations compiled into the binary.
func Schema() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

const defaultTable = "schema_migrations"

// ErrNothingApplied is returned by Down when no migration is recorded.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Migration is one versioned schema step. Version is the file name without
// the .up.sql or .down.sql suffix, e.g. "0001_init".
type Migration struct {
	Version string
	Up      string
	Down    string
}

// Entry describes a migration's state in Status output.
type Entry struct {
	Version   string
	AppliedAt time.Time
	Pending   bool
}

// Manager applies versioned SQL migrations read from a file system. Each
// step runs in its own transaction together with its bookkeeping row.
type Manager struct {
	db     *sql.DB
	source fs.FS
	table  string
	logger *zap.Logger
	now    func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithLogger sets the logger that reports applied and rolled back steps.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager over source. A nil source uses Schema().
func NewManager(db *sql.DB, source fs.FS, opts ...Option) *Manager {
	if source == nil {
		source = Schema()
	}
	m := &Manager{
		db:     db,
		source: source,
		table:  defaultTable,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("migrate")
	return m
}

// Migrations lists the steps found in the source, ordered by version.
func (m *Manager) Migrations() ([]Migration, error) {
	byVersion := map[string]*Migration{}
	err := fs.WalkDir(m.source, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := path.Base(p)
		var version string
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			version, up = strings.TrimSuffix(name, ".up.sql"), true
		case strings.HasSuffix(name, ".down.sql"):
			version = strings.TrimSuffix(name, ".down.sql")
		default:
			return nil
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}
		target := &mig.Down
		if up {
			target = &mig.Up
		}
		if *target != "" {
			return fmt.Errorf("migrate: duplicate %s in %s and %s", name, *target, p)
		}
		*target = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Up == "" {
			return nil, fmt.Errorf("migrate: %s has no up migration", mig.Version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies every pending migration in version order and returns the
// versions it applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	migs, err := m.Migrations()
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	var done []string
	for _, mig := range migs {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		record := fmt.Sprintf(`insert into %s(version, applied_at) values ($1, $2)`, m.table)
		if err := m.run(ctx, mig.Up, record, mig.Version, m.now()); err != nil {
			return done, fmt.Errorf("apply %s: %w", mig.Version, err)
		}
		m.logger.Info("migration applied", zap.String("version", mig.Version))
		done = append(done, mig.Version)
	}
	return done, nil
}

// Down rolls back the most recently applied migration and returns its version.
func (m *Manager) Down(ctx context.Context) (string, error) {
	migs, err := m.Migrations()
	if err != nil {
		return "", err
	}
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}
	var last string
	err = m.db.QueryRowContext(ctx, fmt.Sprintf(`select version from %s order by version desc limit 1`, m.table)).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNothingApplied
	}
	if err != nil {
		return "", err
	}
	var down string
	for _, mig := range migs {
		if mig.Version == last {
			down = mig.Down
		}
	}
	if down == "" {
		return "", fmt.Errorf("migrate: missing down migration for %s", last)
	}
	record := fmt.Sprintf(`delete from %s where version = $1`, m.table)
	if err := m.run(ctx, down, record, last); err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	m.logger.Info("migration rolled back", zap.String("version", last))
	return last, nil
}

// Status reports every known migration, and any recorded version missing
// from the source, in version order.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	migs, err := m.Migrations()
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(migs))
	for _, mig := range migs {
		at, ok := applied[mig.Version]
		out = append(out, Entry{Version: mig.Version, AppliedAt: at, Pending: !ok})
		delete(applied, mig.Version)
	}
	for version, at := range applied {
		out = append(out, Entry{Version: version, AppliedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			version text primary key,
			applied_at timestamptz not null default now()
		)`, m.table))
	return err
}

func (m *Manager) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select version, applied_at from %s`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var (
			version string
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		out[version] = at
	}
	return out, rows.Err()
}

// run executes the statements of file and the bookkeeping statement in one
// transaction.
func (m *Manager) run(ctx context.Context, file, record string, args ...any) error {
	body, err := fs.ReadFile(m.source, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements splits SQL on semicolons outside single-quoted strings
// and drops blank statements.
func splitStatements(src string) []string {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, r := range src {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ';' && !quoted:
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return stmts
}
