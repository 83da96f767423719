package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"xsidir/internal/storage"
)

// maxRowsPerInsert keeps each statement under the 65535 bind-parameter limit.
const maxRowsPerInsert = 500

/*
Repo implements storage.Repository for Postgres.

Loads are idempotent through a UNIQUE constraint on the key column and
INSERT ... ON CONFLICT (key) DO NOTHING. Table names may be schema-qualified
("contacts.group_directory"); the schema is created if missing.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pgx connection pool for cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable creates schema and table when missing and adds missing columns.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	if _, err := storage.KeyIndex(spec); err != nil {
		return err
	}

	schemaSQL, createSQL, alterSQL := buildCreateSQL(spec)
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", spec.Name, err)
		}
	}
	if _, err := r.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	for _, q := range alterSQL {
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("alter table %s: %w", spec.Name, err)
		}
	}
	return nil
}

// InsertRows inserts in one transaction, skipping existing keys.
func (r *Repo) InsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for start := 0; start < len(rows); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(rows))
		q, args := buildInsertSQL(spec, rows[start:end])
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return 0, err
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// buildCreateSQL returns the optional CREATE SCHEMA, the CREATE TABLE and one
// ALTER TABLE ... ADD COLUMN IF NOT EXISTS per non-key column.
func buildCreateSQL(spec storage.TableSpec) (schemaSQL, createSQL string, alterSQL []string) {
	schema, _ := splitQualifiedName(spec.Name)
	if schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{schema}.Sanitize()
	}

	table := tableIdent(spec.Name)
	defs := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		def := pgx.Identifier{c}.Sanitize() + " TEXT"
		if c == spec.KeyColumn {
			def += " NOT NULL"
		} else {
			alterSQL = append(alterSQL, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT", table, pgx.Identifier{c}.Sanitize()))
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("UNIQUE (%s)", pgx.Identifier{spec.KeyColumn}.Sanitize()))

	createSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	return schemaSQL, createSQL, alterSQL
}

// buildInsertSQL builds a multi-row INSERT ... ON CONFLICT (key) DO NOTHING.
func buildInsertSQL(spec storage.TableSpec, rows [][]any) (string, []any) {
	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(spec.Name))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(pgx.Identifier{spec.KeyColumn}.Sanitize())
	b.WriteString(") DO NOTHING")
	return b.String(), args
}

func splitQualifiedName(name string) (schema string, table string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func tableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}
