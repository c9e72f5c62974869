// Package rowsource provides the SQL-backed row source behind a view.
package rowsource

import (
	"context"
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tidb-datatables/internal/datatables"
	"tidb-datatables/internal/dbexec"
	"tidb-datatables/internal/sqlutil"
)

// SQLQuery is a rendered statement and its bound arguments.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// SQLSource reads one table through a QueryExecutor. It implements
// datatables.WindowedRowSource and is safe for concurrent use.
type SQLSource struct {
	exec    dbexec.QueryExecutor
	dialect sqlutil.Dialect
	table   string
}

var _ datatables.WindowedRowSource = (*SQLSource)(nil)

// NewSQLSource creates a row source over table, which may be schema-qualified.
func NewSQLSource(exec dbexec.QueryExecutor, dialect sqlutil.Dialect, table string) (*SQLSource, error) {
	if exec == nil {
		return nil, fmt.Errorf("row source for %q requires an executor", table)
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, fmt.Errorf("row source requires a table name")
	}
	if slices.Contains(strings.Split(table, "."), "") {
		return nil, fmt.Errorf("table name %q has an empty part", table)
	}
	return &SQLSource{exec: exec, dialect: dialect, table: table}, nil
}

// Table returns the configured table name.
func (s *SQLSource) Table() string {
	return s.table
}

// Count returns the number of rows in the table.
func (s *SQLSource) Count(ctx context.Context) (int64, error) {
	query, err := s.CountQuery()
	if err != nil {
		return 0, err
	}

	rows, err := s.exec.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	defer rows.Close()

	var total int64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, fmt.Errorf("scan count for %s: %w", s.table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return total, nil
}

// Fetch returns every row projected to attributes and ordered by order.
func (s *SQLSource) Fetch(ctx context.Context, attributes []string, order []datatables.SortInstruction) ([]datatables.Row, error) {
	query, err := s.SelectQuery(attributes, order, nil)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, query, attributes)
}

// FetchWindow is Fetch with the page window applied by the database.
func (s *SQLSource) FetchWindow(ctx context.Context, attributes []string, order []datatables.SortInstruction, page datatables.Page) ([]datatables.Row, error) {
	query, err := s.SelectQuery(attributes, order, &page)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, query, attributes)
}

// Probe checks that the table exposes every attribute without reading rows.
func (s *SQLSource) Probe(ctx context.Context, attributes []string) error {
	query, err := s.ProbeQuery(attributes)
	if err != nil {
		return err
	}

	rows, err := s.exec.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("probe %s: %w", s.table, err)
	}
	for _, attr := range attributes {
		if !slices.ContainsFunc(columns, func(c string) bool { return strings.EqualFold(c, attr) }) {
			return fmt.Errorf("probe %s: attribute %q not returned", s.table, attr)
		}
	}
	return rows.Err()
}

// CountQuery renders the total row count statement.
func (s *SQLSource) CountQuery() (SQLQuery, error) {
	sql, args, err := sq.Select("COUNT(*)").
		From(s.dialect.QuoteQualified(s.table)).
		PlaceholderFormat(s.placeholder()).
		ToSql()
	if err != nil {
		return SQLQuery{}, fmt.Errorf("build count query: %w", err)
	}
	return SQLQuery{SQL: sql, Args: args}, nil
}

// SelectQuery renders the ordered projection, windowed when page is non-nil
// and does not request every row.
func (s *SQLSource) SelectQuery(attributes []string, order []datatables.SortInstruction, page *datatables.Page) (SQLQuery, error) {
	builder, err := s.selectBuilder(attributes)
	if err != nil {
		return SQLQuery{}, err
	}

	for _, term := range order {
		builder = builder.OrderBy(s.dialect.Quote(term.Attribute) + " " + term.Direction.String())
	}
	if page != nil && !page.All {
		builder = builder.Limit(uint64(page.Length)).Offset(uint64(page.Offset))
	}

	sql, args, err := builder.PlaceholderFormat(s.placeholder()).ToSql()
	if err != nil {
		return SQLQuery{}, fmt.Errorf("build select query: %w", err)
	}
	return SQLQuery{SQL: sql, Args: args}, nil
}

// ProbeQuery renders a projection that returns no rows.
func (s *SQLSource) ProbeQuery(attributes []string) (SQLQuery, error) {
	builder, err := s.selectBuilder(attributes)
	if err != nil {
		return SQLQuery{}, err
	}
	sql, args, err := builder.Limit(0).PlaceholderFormat(s.placeholder()).ToSql()
	if err != nil {
		return SQLQuery{}, fmt.Errorf("build probe query: %w", err)
	}
	return SQLQuery{SQL: sql, Args: args}, nil
}

func (s *SQLSource) selectBuilder(attributes []string) (sq.SelectBuilder, error) {
	if len(attributes) == 0 {
		return sq.SelectBuilder{}, fmt.Errorf("select from %s requires at least one attribute", s.table)
	}
	columns := make([]string, len(attributes))
	for i, attr := range attributes {
		columns[i] = s.dialect.Quote(attr)
	}
	return sq.Select(columns...).From(s.dialect.QuoteQualified(s.table)), nil
}

func (s *SQLSource) placeholder() sq.PlaceholderFormat {
	if s.dialect == sqlutil.Postgres {
		return sq.Dollar
	}
	return sq.Question
}

func (s *SQLSource) query(ctx context.Context, query SQLQuery, attributes []string) ([]datatables.Row, error) {
	rows, err := s.exec.QueryContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", s.table, err)
	}
	defer rows.Close()

	result, err := scanRows(rows, attributes)
	if err != nil {
		return nil, fmt.Errorf("scan rows from %s: %w", s.table, err)
	}
	return result, nil
}

// scanRows keys each value by the requested attribute at the same position.
func scanRows(rows dbexec.Rows, attributes []string) ([]datatables.Row, error) {
	results := []datatables.Row{}

	for rows.Next() {
		values := make([]interface{}, len(attributes))
		valuePtrs := make([]interface{}, len(attributes))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(datatables.Row, len(attributes))
		for i, attr := range attributes {
			row[attr] = convertValue(values[i])
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

func convertValue(val interface{}) interface{} {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
