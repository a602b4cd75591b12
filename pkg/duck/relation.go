package duck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Relation is a schema-qualified table materialized in the store.
type Relation struct {
	Schema string
	Table  string
}

func (r Relation) String() string {
	return QuoteIdent(r.Schema) + "." + QuoteIdent(r.Table)
}

// Column is one row of DESCRIBE output.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ReadCSVAuto returns a table function expression that reads path with
// DuckDB's type inference.
func ReadCSVAuto(path string) string {
	return fmt.Sprintf("read_csv_auto(%s, header = true)", QuoteLiteral(path))
}

func EnsureSchema(ctx context.Context, conn Connection, schema string) error {
	if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+QuoteIdent(schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// ReplaceTableAs drops and recreates rel from selectSQL in one transaction.
func ReplaceTableAs(ctx context.Context, log *slog.Logger, conn Connection, rel Relation, selectSQL string) error {
	start := time.Now()
	log.Debug("duck: replacing table", "table", rel.String())

	if err := EnsureSchema(ctx, conn, rel.Schema); err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", rel, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS\n%s", rel, selectSQL)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to replace %s: %w", rel, err)
	}
	if err := tx.Commit(); err != nil {
		log.Error("duck: transaction commit failed", "table", rel.String(), "error", err)
		return fmt.Errorf("failed to commit transaction for %s: %w", rel, err)
	}

	log.Debug("duck: table replaced", "table", rel.String(), "duration", time.Since(start).String())
	return nil
}

// AppendInto inserts the rows of selectSQL into rel. Columns are matched by
// position, so the caller is responsible for checking the layout first.
func AppendInto(ctx context.Context, log *slog.Logger, conn Connection, rel Relation, selectSQL string) (int64, error) {
	start := time.Now()
	log.Debug("duck: appending to table", "table", rel.String())

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for %s: %w", rel, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s\n%s", rel, selectSQL))
	if err != nil {
		return 0, fmt.Errorf("failed to append to %s: %w", rel, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction for %s: %w", rel, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		n = -1
	}
	log.Debug("duck: appended to table", "table", rel.String(), "rows", n, "duration", time.Since(start).String())
	return n, nil
}

func TableExists(ctx context.Context, conn Connection, rel Relation) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		rel.Schema, rel.Table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", rel, err)
	}
	return n > 0, nil
}

func CountRows(ctx context.Context, conn Connection, rel Relation) (int64, error) {
	var n int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+rel.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", rel, err)
	}
	return n, nil
}

// Describe returns the column layout of rel.
func Describe(ctx context.Context, conn Connection, rel Relation) ([]Column, error) {
	return DescribeQuery(ctx, conn, "SELECT * FROM "+rel.String())
}

// DescribeQuery returns the column layout selectSQL would produce without
// materializing it.
func DescribeQuery(ctx context.Context, conn Connection, selectSQL string) ([]Column, error) {
	rows, err := conn.QueryContext(ctx, "DESCRIBE "+selectSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to describe: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read describe columns: %w", err)
	}

	var cols []Column
	for rows.Next() {
		vals := make([]sql.NullString, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan describe row: %w", err)
		}
		var col Column
		for i, name := range names {
			switch name {
			case "column_name":
				col.Name = vals[i].String
			case "column_type":
				col.Type = vals[i].String
			case "null":
				col.Nullable = vals[i].String == "YES"
			}
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate describe rows: %w", err)
	}
	if len(cols) == 0 {
		return nil, errors.New("describe returned no columns")
	}
	return cols, nil
}

func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// MissingColumns returns the entries of want that are not in cols, in order.
func MissingColumns(cols []Column, want []string) []string {
	have := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		have[c.Name] = struct{}{}
	}
	var missing []string
	for _, w := range want {
		if _, ok := have[w]; !ok {
			missing = append(missing, w)
		}
	}
	return missing
}
