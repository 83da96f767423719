package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"xsidir/internal/storage"
)

// maxRowsPerInsert keeps a multi-row INSERT well below SQLite's bound
// parameter limit for wide records.
const maxRowsPerInsert = 200

// Repo implements storage.Repository for SQLite.
//
// Columns are created with TEXT affinity and the key column carries a UNIQUE
// constraint, so "INSERT OR IGNORE" gives idempotent loads.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database named by cfg.DSN (a file path or "file:" URI).
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the table if needed, then adds any missing column.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	if _, err := storage.KeyIndex(spec); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, buildCreateSQL(spec)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}

	existing, err := r.columns(ctx, spec.Name)
	if err != nil {
		return err
	}
	for _, c := range spec.Columns {
		if existing[c] {
			continue
		}
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", sqlIdent(spec.Name), sqlIdent(c))
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add column %s.%s: %w", spec.Name, c, err)
		}
	}
	return nil
}

func (r *Repo) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// InsertRows inserts in one transaction using INSERT OR IGNORE.
func (r *Repo) InsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(rows); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(rows))
		q, args := buildInsertSQL(spec, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func buildCreateSQL(spec storage.TableSpec) string {
	defs := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		def := sqlIdent(c) + " TEXT"
		if c == spec.KeyColumn {
			def += " NOT NULL UNIQUE"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(spec.Name), strings.Join(defs, ", "))
}

func buildInsertSQL(spec storage.TableSpec, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(sqlIdent(spec.Name))
	b.WriteString(" (")
	b.WriteString(joinIdentList(spec.Columns))
	b.WriteString(") VALUES ")

	ph := "(" + strings.TrimRight(strings.Repeat("?,", len(spec.Columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(spec.Columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		args = append(args, row...)
	}
	return b.String(), args
}

// sqlIdent quotes id as a SQLite identifier.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	q := make([]string, len(columns))
	for i, c := range columns {
		q[i] = sqlIdent(c)
	}
	return strings.Join(q, ", ")
}
