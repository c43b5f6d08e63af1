// Package introspection reads table metadata from TiDB's information_schema.
// Column type names found here decide which precompiled action
// specializations a table-backed frame can use.
package introspection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/dbexec"
)

// ErrTableNotFound is returned when a table has no visible columns.
var ErrTableNotFound = errors.New("table not found")

// Column describes one table column.
type Column struct {
	Name         string
	DataType     string
	ColumnType   string
	IsNullable   bool
	IsPrimaryKey bool
	// EnumValues holds the members of ENUM and SET columns.
	EnumValues []string
	Comment    string
}

// Tag returns the element type frames read the column as.
func (c Column) Tag() coltype.Tag {
	return coltype.MapSQL(c.ColumnType)
}

// Table is the metadata of one base table or view.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// Column returns the named column, matched case-insensitively like MySQL does.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error)
}

var tracer = otel.Tracer("tidb-dataframe/introspection")

// inSchema restricts an information_schema query to one database, and to one
// table when table is non-empty.
func inSchema(b sq.SelectBuilder, database, table string) sq.SelectBuilder {
	b = b.Where(sq.Eq{"TABLE_SCHEMA": database})
	if table != "" {
		b = b.Where(sq.Eq{"TABLE_NAME": table})
	}
	return b
}

// queryAll runs b and scans every row with scan. The span is marked failed on
// any error.
func queryAll[T any](ctx context.Context, db Queryer, span trace.Span, b sq.SelectBuilder, scan func(dbexec.Rows) (T, error)) ([]T, error) {
	out, err := func() ([]T, error) {
		query, args, err := b.ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		var out []T
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, rows.Err()
	}()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func scanName(rows dbexec.Rows) (string, error) {
	var name string
	err := rows.Scan(&name)
	return name, err
}

// ListTables returns the base tables and views of a database, sorted by name.
func ListTables(ctx context.Context, db Queryer, databaseName string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "introspection.list_tables",
		trace.WithAttributes(attribute.String("db.name", databaseName)))
	defer span.End()

	b := inSchema(sq.Select("TABLE_NAME").From("INFORMATION_SCHEMA.TABLES"), databaseName, "").
		Where(sq.Eq{"TABLE_TYPE": []string{"BASE TABLE", "VIEW"}}).
		OrderBy("TABLE_NAME")
	return queryAll(ctx, db, span, b, scanName)
}

// DescribeTable loads the columns and primary key of one table.
func DescribeTable(ctx context.Context, db Queryer, databaseName, tableName string) (*Table, error) {
	ctx, span := tracer.Start(ctx, "introspection.describe_table",
		trace.WithAttributes(
			attribute.String("db.name", databaseName),
			attribute.String("db.table", tableName),
		))
	defer span.End()

	columns, err := queryAll(ctx, db, span,
		inSchema(sq.Select("COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_COMMENT", "IS_NULLABLE").
			From("INFORMATION_SCHEMA.COLUMNS"), databaseName, tableName).
			OrderBy("ORDINAL_POSITION"),
		scanColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for %s: %w", tableName, err)
	}
	if len(columns) == 0 {
		err := fmt.Errorf("%w: %s.%s", ErrTableNotFound, databaseName, tableName)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	primaryKey, err := queryAll(ctx, db, span,
		inSchema(sq.Select("COLUMN_NAME").From("INFORMATION_SCHEMA.KEY_COLUMN_USAGE"), databaseName, tableName).
			Where(sq.Eq{"CONSTRAINT_NAME": "PRIMARY"}).
			OrderBy("ORDINAL_POSITION"),
		scanName)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary key for %s: %w", tableName, err)
	}
	for i := range columns {
		for _, pk := range primaryKey {
			if columns[i].Name == pk {
				columns[i].IsPrimaryKey = true
			}
		}
	}

	span.SetAttributes(attribute.Int("db.table.columns", len(columns)))
	return &Table{Schema: databaseName, Name: tableName, Columns: columns}, nil
}

func scanColumn(rows dbexec.Rows) (Column, error) {
	var (
		col      Column
		nullable string
		comment  sql.NullString
	)
	if err := rows.Scan(&col.Name, &col.DataType, &col.ColumnType, &comment, &nullable); err != nil {
		return col, err
	}
	col.Comment = strings.TrimSpace(comment.String)
	col.IsNullable = strings.EqualFold(nullable, "YES")

	var parse func(string) ([]string, error)
	switch strings.ToLower(col.DataType) {
	case "enum":
		parse = parseEnumValues
	case "set":
		parse = parseSetValues
	default:
		return col, nil
	}
	members, err := parse(col.ColumnType)
	if err != nil {
		slog.Default().Warn("failed to parse column members",
			slog.String("column", col.Name),
			slog.String("type", col.ColumnType),
			slog.String("error", err.Error()))
		return col, nil
	}
	col.EnumValues = members
	return col, nil
}
