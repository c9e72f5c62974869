package rowsource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-datatables/internal/datatables"
	"tidb-datatables/internal/dbexec"
	"tidb-datatables/internal/sqlutil"
)

func newMockSource(t *testing.T, dialect sqlutil.Dialect, table string) (*SQLSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	source, err := NewSQLSource(dbexec.NewStandardExecutor(db), dialect, table)
	require.NoError(t, err)
	return source, mock
}

func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// Accept either bound args or literal LIMIT/OFFSET in SQL.
func assertLimitOffset(t *testing.T, query SQLQuery, limit, offset int) {
	t.Helper()

	if len(query.Args) == 0 {
		assert.Contains(t, normalizeSQL(query.SQL), fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset))
		return
	}
	assert.Equal(t, []interface{}{uint64(limit), uint64(offset)}, query.Args)
}

func TestNewSQLSource_Validation(t *testing.T) {
	exec := dbexec.NewStandardExecutor(nil)

	_, err := NewSQLSource(nil, sqlutil.MySQL, "people")
	assert.Error(t, err)
	_, err = NewSQLSource(exec, sqlutil.MySQL, "  ")
	assert.Error(t, err)
	_, err = NewSQLSource(exec, sqlutil.MySQL, "shop.")
	assert.Error(t, err)

	source, err := NewSQLSource(exec, sqlutil.MySQL, " shop.people ")
	require.NoError(t, err)
	assert.Equal(t, "shop.people", source.Table())
}

func TestSelectQuery_Dialects(t *testing.T) {
	order := []datatables.SortInstruction{
		{Attribute: "last", Direction: datatables.Descending},
		{Attribute: "first", Direction: datatables.Ascending},
	}

	tests := []struct {
		dialect sqlutil.Dialect
		table   string
		prefix  string
	}{
		{sqlutil.MySQL, "shop.people", "SELECT `first`, `last` FROM `shop`.`people` ORDER BY `last` DESC, `first` ASC"},
		{sqlutil.Postgres, "people", `SELECT "first", "last" FROM "people" ORDER BY "last" DESC, "first" ASC`},
		{sqlutil.SQLite, "people", `SELECT "first", "last" FROM "people" ORDER BY "last" DESC, "first" ASC`},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			source, err := NewSQLSource(dbexec.NewStandardExecutor(nil), tt.dialect, tt.table)
			require.NoError(t, err)

			unbounded, err := source.SelectQuery([]string{"first", "last"}, order, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, normalizeSQL(unbounded.SQL))
			assert.Empty(t, unbounded.Args)

			page := datatables.Paginate(100, 25, 10)
			windowed, err := source.SelectQuery([]string{"first", "last"}, order, &page)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(normalizeSQL(windowed.SQL), tt.prefix))
			assertLimitOffset(t, windowed, 10, 25)
		})
	}
}

func TestSelectQuery_AllRowsHasNoLimit(t *testing.T) {
	source, err := NewSQLSource(dbexec.NewStandardExecutor(nil), sqlutil.MySQL, "people")
	require.NoError(t, err)

	page := datatables.Paginate(100, 0, datatables.DisplayAll)
	query, err := source.SelectQuery([]string{"name"}, nil, &page)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `name` FROM `people`", normalizeSQL(query.SQL))
}

func TestSelectQuery_RequiresAttributes(t *testing.T) {
	source, err := NewSQLSource(dbexec.NewStandardExecutor(nil), sqlutil.MySQL, "people")
	require.NoError(t, err)
	_, err = source.SelectQuery(nil, nil, nil)
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	source, mock := newMockSource(t, sqlutil.MySQL, "people")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `people`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(42))

	total, err := source.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount_Error(t *testing.T) {
	source, mock := newMockSource(t, sqlutil.MySQL, "people")
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `people`")).WillReturnError(boom)

	_, err := source.Count(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFetchWindow_ConvertsBytes(t *testing.T) {
	source, mock := newMockSource(t, sqlutil.MySQL, "people")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `first`, `last`, `age` FROM `people` ORDER BY `age` DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"first", "last", "age"}).
			AddRow([]byte("Ada"), "Lovelace", int64(36)).
			AddRow("Alan", []byte("Turing"), nil))

	page := datatables.Paginate(2, 0, 10)
	rows, err := source.FetchWindow(context.Background(), []string{"first", "last", "age"},
		[]datatables.SortInstruction{{Attribute: "age", Direction: datatables.Descending}}, page)
	require.NoError(t, err)

	assert.Equal(t, []datatables.Row{
		{"first": "Ada", "last": "Lovelace", "age": int64(36)},
		{"first": "Alan", "last": "Turing", "age": nil},
	}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_Empty(t *testing.T) {
	source, mock := newMockSource(t, sqlutil.Postgres, "people")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "name" FROM "people"`)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	rows, err := source.Fetch(context.Background(), []string{"name"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestProbe(t *testing.T) {
	source, mock := newMockSource(t, sqlutil.MySQL, "people")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `name`, `age` FROM `people` LIMIT 0")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "age"}))
	require.NoError(t, source.Probe(context.Background(), []string{"name", "age"}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `name`, `nope` FROM `people` LIMIT 0")).
		WillReturnError(errors.New("Unknown column 'nope'"))
	err := source.Probe(context.Background(), []string{"name", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `name`, `age` FROM `people` LIMIT 0")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	err = source.Probe(context.Background(), []string{"name", "age"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"age"`)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_InView(t *testing.T) {
	source, mock := newMockSource(t, sqlutil.MySQL, "people")
	view := &datatables.View{
		Name:    "people",
		Columns: datatables.MustColumnSpec("name", "{first} {last}"),
		Source:  source,
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `people`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `name`, `first`, `last` FROM `people` ORDER BY `first` ASC, `last` ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "first", "last"}).AddRow("Ada", "Ada", "Lovelace"))

	result, err := view.Process(context.Background(), datatables.Params{
		"sEcho":          "1",
		"iDisplayStart":  "0",
		"iDisplayLength": "10",
		"iSortingCols":   "1",
		"iSortCol_0":     "1",
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Ada", "Ada Lovelace"}}, result.Response.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}
