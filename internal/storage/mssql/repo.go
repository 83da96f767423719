package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"xsidir/internal/storage"
)

// maxParams stays under SQL Server's 2100 parameters per request.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server has no "insert or ignore"; idempotence uses
// INSERT ... SELECT ... WHERE NOT EXISTS against the key column. Because that
// statement does not collapse duplicates inside its own VALUES list, rows are
// deduplicated per call before insertion (first occurrence wins).
//
// This package does NOT import a driver. The "sqlserver" driver must be
// registered elsewhere (xsidir/internal/storage/all does it).
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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

// EnsureTable creates the table if missing, then adds missing columns.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	if _, err := storage.KeyIndex(spec); err != nil {
		return err
	}
	for _, q := range buildEnsureSQL(spec) {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure table %s: %w", spec.Name, err)
		}
	}
	return nil
}

// InsertRows inserts rows not yet present, in one transaction.
func (r *Repo) InsertRows(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	rows, err := storage.DedupeRows(spec, rows)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := max(1, maxParams/len(spec.Columns))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args := buildInsertNotExistsSQL(spec, rows[start:end])
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

// buildEnsureSQL returns the create-if-missing batch followed by one
// add-column-if-missing batch per non-key column.
func buildEnsureSQL(spec storage.TableSpec) []string {
	table := mssqlTableIdent(spec.Name)
	lit := strings.ReplaceAll(spec.Name, "'", "''")

	defs := make([]string, 0, len(spec.Columns)+1)
	var out []string
	for _, c := range spec.Columns {
		if c == spec.KeyColumn {
			defs = append(defs, mssqlIdent(c)+" NVARCHAR(64) NOT NULL")
			continue
		}
		defs = append(defs, mssqlIdent(c)+" NVARCHAR(MAX) NULL")
		out = append(out, fmt.Sprintf(
			"IF COL_LENGTH(N'%s', N'%s') IS NULL ALTER TABLE %s ADD %s NVARCHAR(MAX) NULL",
			lit, strings.ReplaceAll(c, "'", "''"), table, mssqlIdent(c),
		))
	}
	defs = append(defs, fmt.Sprintf("UNIQUE (%s)", mssqlIdent(spec.KeyColumn)))

	create := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", lit, table, strings.Join(defs, ", "))
	return append([]string{create}, out...)
}

// buildInsertNotExistsSQL builds:
//
//	INSERT INTO t (cols) SELECT cols FROM (VALUES (...), ...) AS v (cols)
//	WHERE NOT EXISTS (SELECT 1 FROM t WHERE t.key = v.key)
func buildInsertNotExistsSQL(spec storage.TableSpec, rows [][]any) (string, []any) {
	table := mssqlTableIdent(spec.Name)
	cols := make([]string, len(spec.Columns))
	vcols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = mssqlIdent(c)
		vcols[i] = "v." + mssqlIdent(c)
	}
	colList := strings.Join(cols, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM (VALUES ", table, colList, strings.Join(vcols, ", "))

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
			fmt.Fprintf(&b, "@p%d", n)
			n++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}

	key := mssqlIdent(spec.KeyColumn)
	fmt.Fprintf(&b, ") AS v (%s) WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE t.%s = v.%s)", colList, table, key, key)
	return b.String(), args
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func mssqlTableIdent(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return mssqlIdent(name[:i]) + "." + mssqlIdent(name[i+1:])
	}
	return mssqlIdent(name)
}
