package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"xsidir/internal/xsi"
)

const (
	// DirectoryColumn holds the directory type each row was extracted from.
	DirectoryColumn = "directory"

	// HashColumn holds the row fingerprint used as the dedupe key.
	HashColumn = "row_hash"

	hashSeparator = "\x1f"
)

// BuildRows lays out d as a table: one column per record key (first-seen
// order across all records), then DirectoryColumn and HashColumn.
//
// Record fields missing from a given record are stored as NULL.
func BuildRows(table string, d *xsi.Directory) (TableSpec, [][]any) {
	var fields []string
	seen := map[string]bool{}
	for _, r := range d.Records() {
		for _, k := range r.Keys() {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}

	spec := TableSpec{
		Name:      table,
		Columns:   append(append([]string(nil), fields...), DirectoryColumn, HashColumn),
		KeyColumn: HashColumn,
	}

	rows := make([][]any, 0, d.Len())
	for _, r := range d.Records() {
		row := make([]any, 0, len(spec.Columns))
		for _, f := range fields {
			if v, ok := r.Get(f); ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		row = append(row, d.Type().String(), RowHash(d.Type(), r))
		rows = append(rows, row)
	}
	return spec, rows
}

// RowHash fingerprints a record as SHA-256 over its own "field=value" pairs,
// sorted by field and joined by 0x1f, prefixed by the directory type. Other
// records in the directory never change a record's hash, so reloads that
// reorder or extend the directory leave existing rows alone.
func RowHash(typ xsi.DirectoryType, r xsi.Record) string {
	keys := r.Keys()
	slices.Sort(keys)

	var b strings.Builder
	b.Grow(len(keys) * 20)

	b.WriteString(DirectoryColumn)
	b.WriteByte('=')
	b.WriteString(typ.String())
	for _, k := range keys {
		v, _ := r.Get(k)
		b.WriteString(hashSeparator)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Load ensures the table and inserts every record of d, returning the number
// of rows written.
func Load(ctx context.Context, repo Repository, table string, d *xsi.Directory) (int64, error) {
	spec, rows := BuildRows(table, d)
	if err := repo.EnsureTable(ctx, spec); err != nil {
		return 0, fmt.Errorf("ensure table %s: %w", table, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := repo.InsertRows(ctx, spec, rows)
	if err != nil {
		return n, fmt.Errorf("insert into %s: %w", table, err)
	}
	return n, nil
}

// KeyIndex returns the position of spec.KeyColumn in spec.Columns.
func KeyIndex(spec TableSpec) (int, error) {
	for i, c := range spec.Columns {
		if c == spec.KeyColumn {
			return i, nil
		}
	}
	return -1, fmt.Errorf("storage: key column %q not in columns %v", spec.KeyColumn, spec.Columns)
}

// DedupeRows keeps the first row for each key value, preserving order.
func DedupeRows(spec TableSpec, rows [][]any) ([][]any, error) {
	idx, err := KeyIndex(spec)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		k := NormalizeKey(r[idx])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}
