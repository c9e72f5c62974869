package datatables

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// memorySource is an in-memory RowSource that records how it was called.
type memorySource struct {
	rows       []Row
	countErr   error
	fetchErr   error
	dropAttr   string
	counts     int
	fetches    int
	lastAttrs  []string
	lastOrder  []SortInstruction
	lastWindow *Page
}

func (m *memorySource) Count(ctx context.Context) (int64, error) {
	m.counts++
	if m.countErr != nil {
		return 0, m.countErr
	}
	return int64(len(m.rows)), nil
}

func (m *memorySource) Fetch(ctx context.Context, attributes []string, order []SortInstruction) ([]Row, error) {
	m.fetches++
	m.lastAttrs = attributes
	m.lastOrder = order
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	sorted := make([]Row, len(m.rows))
	copy(sorted, m.rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, term := range order {
			a := fmt.Sprint(sorted[i][term.Attribute])
			b := fmt.Sprint(sorted[j][term.Attribute])
			if a == b {
				continue
			}
			if term.Direction == Descending {
				return a > b
			}
			return a < b
		}
		return false
	})

	out := make([]Row, 0, len(sorted))
	for _, row := range sorted {
		projected := Row{}
		for _, attr := range attributes {
			if attr == m.dropAttr {
				continue
			}
			projected[attr] = row[attr]
		}
		out = append(out, projected)
	}
	return out, nil
}

// windowedSource pushes the page window into the source.
type windowedSource struct {
	memorySource
}

func (w *windowedSource) FetchWindow(ctx context.Context, attributes []string, order []SortInstruction, page Page) ([]Row, error) {
	w.lastWindow = &page
	rows, err := w.Fetch(ctx, attributes, order)
	if err != nil {
		return nil, err
	}
	return page.Slice(rows), nil
}

func people(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			"name":  fmt.Sprintf("person-%03d", i),
			"first": fmt.Sprintf("First%03d", i),
			"last":  fmt.Sprintf("Last%03d", i),
			"age":   fmt.Sprintf("%03d", i),
		}
	}
	return rows
}

func requestParams(echo string, start, length int, sorts ...string) Params {
	params := Params{
		ParamEcho:          echo,
		ParamDisplayStart:  fmt.Sprint(start),
		ParamDisplayLength: fmt.Sprint(length),
		ParamSortingCols:   fmt.Sprint(len(sorts)),
	}
	for i, s := range sorts {
		col, dir, _ := strings.Cut(s, ":")
		params[fmt.Sprintf("iSortCol_%d", i)] = col
		if dir != "" {
			params[fmt.Sprintf("sSortDir_%d", i)] = dir
		}
	}
	return params
}

func TestViewProcess_NameColumns(t *testing.T) {
	source := &memorySource{rows: []Row{{"name": "Ada", "first": "Ada", "last": "Lovelace"}}}
	view := &View{Name: "people", Columns: MustColumnSpec("name", "{first} {last}"), Source: source}

	result, err := view.Process(context.Background(), requestParams("1", 0, 10))
	require.NoError(t, err)

	assert.Equal(t, [][]any{{"Ada", "Ada Lovelace"}}, result.Response.Data)
	assert.Equal(t, []string{"name", "first", "last"}, source.lastAttrs)
}

func TestViewProcess_SortedWindow(t *testing.T) {
	source := &memorySource{rows: people(100)}
	view := &View{Name: "people", Columns: MustColumnSpec("name", "{first} {last}", "age"), Source: source}

	result, err := view.Process(context.Background(), requestParams("9", 25, 10, "2:desc"))
	require.NoError(t, err)

	resp := result.Response
	assert.Equal(t, int64(100), resp.TotalRecords)
	assert.Equal(t, int64(100), resp.TotalDisplayRecords)
	assert.Equal(t, "9", resp.Echo)
	require.Len(t, resp.Data, 10)
	// Descending by age: rank 25 holds age 074.
	assert.Equal(t, "074", resp.Data[0][2])
	assert.Equal(t, "065", resp.Data[9][2])
	assert.Equal(t, []SortInstruction{{Attribute: "age", Direction: Descending}}, source.lastOrder)
	assert.Equal(t, 3, result.Page.Number)
}

func TestViewProcess_CompositeSortExpands(t *testing.T) {
	source := &memorySource{rows: people(3)}
	view := &View{Name: "people", Columns: MustColumnSpec("name", "{first} {last}"), Source: source}

	_, err := view.Process(context.Background(), requestParams("1", 0, 10, "1:desc", "0"))
	require.NoError(t, err)

	assert.Equal(t, []SortInstruction{
		{Attribute: "first", Direction: Descending},
		{Attribute: "last", Direction: Descending},
		{Attribute: "name", Direction: Ascending},
	}, source.lastOrder)
}

func TestViewProcess_ClientErrorsSkipSource(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"zero length", requestParams("1", 0, 0)},
		{"out of range sort column", requestParams("1", 0, 10, "5")},
		{"missing echo", func() Params {
			p := requestParams("1", 0, 10)
			delete(p, ParamEcho)
			return p
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &memorySource{rows: people(5)}
			view := &View{Name: "people", Columns: MustColumnSpec("name", "age"), Source: source}

			_, err := view.Process(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, IsClientError(err))
			assert.Zero(t, source.counts)
			assert.Zero(t, source.fetches)
		})
	}
}

func TestViewProcess_PastEndSkipsFetch(t *testing.T) {
	source := &memorySource{rows: people(5)}
	view := &View{Name: "people", Columns: MustColumnSpec("name"), Source: source}

	result, err := view.Process(context.Background(), requestParams("4", 50, 10))
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.Response.TotalRecords)
	assert.NotNil(t, result.Response.Data)
	assert.Empty(t, result.Response.Data)
	assert.Zero(t, source.fetches)
}

func TestViewProcess_DisplayAll(t *testing.T) {
	source := &memorySource{rows: people(42)}
	view := &View{Name: "people", Columns: MustColumnSpec("name"), Source: source}

	result, err := view.Process(context.Background(), requestParams("1", 17, DisplayAll))
	require.NoError(t, err)
	assert.Len(t, result.Response.Data, 42)
	assert.Equal(t, "person-000", result.Response.Data[0][0])
}

func TestViewProcess_HugeLengthInMemory(t *testing.T) {
	source := &memorySource{rows: people(3)}
	view := &View{Name: "people", Columns: MustColumnSpec("name"), Source: source}

	params := requestParams("1", 1, 10)
	params[ParamDisplayLength] = fmt.Sprint(math.MaxInt)

	result, err := view.Process(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"person-001"}, {"person-002"}}, result.Response.Data)
}

func TestViewProcess_WindowPushdown(t *testing.T) {
	source := &windowedSource{memorySource{rows: people(30)}}
	view := &View{Name: "people", Columns: MustColumnSpec("name"), Source: source}

	result, err := view.Process(context.Background(), requestParams("1", 10, 5, "0"))
	require.NoError(t, err)

	require.NotNil(t, source.lastWindow)
	assert.Equal(t, 10, source.lastWindow.Offset)
	assert.Equal(t, 5, source.lastWindow.Length)
	require.Len(t, result.Response.Data, 5)
	assert.Equal(t, "person-010", result.Response.Data[0][0])
}

func TestViewProcess_Idempotent(t *testing.T) {
	source := &memorySource{rows: people(20)}
	view := &View{Name: "people", Columns: MustColumnSpec("name", "{first} {last}"), Source: source}
	params := requestParams("2", 5, 5, "1:desc")

	first, err := view.Process(context.Background(), params)
	require.NoError(t, err)
	second, err := view.Process(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first.Response, second.Response)
}

func TestViewProcess_SourceErrors(t *testing.T) {
	boom := errors.New("connection refused")

	source := &memorySource{rows: people(3), countErr: boom}
	view := &View{Name: "people", Columns: MustColumnSpec("name"), Source: source}
	_, err := view.Process(context.Background(), requestParams("1", 0, 10))
	require.ErrorIs(t, err, boom)
	assert.False(t, IsClientError(err))

	source = &memorySource{rows: people(3), fetchErr: boom}
	view.Source = source
	_, err = view.Process(context.Background(), requestParams("1", 0, 10))
	require.ErrorIs(t, err, boom)
}

func TestViewProcess_ContractViolation(t *testing.T) {
	source := &memorySource{rows: people(3), dropAttr: "last"}
	view := &View{Name: "people", Columns: MustColumnSpec("{first} {last}"), Source: source}

	_, err := view.Process(context.Background(), requestParams("1", 0, 10))
	var violation *ContractViolationError
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "last", violation.Attribute)
}

func TestViewExport(t *testing.T) {
	source := &memorySource{rows: people(12)}
	view := &View{Name: "people", Columns: MustColumnSpec("name", "age"), Source: source}

	params := requestParams("1", 5, 2, "1:desc")
	rows, err := view.Export(context.Background(), params, 0)
	require.NoError(t, err)
	require.Len(t, rows, 12)
	assert.Equal(t, "011", rows[0][1])

	_, err = view.Export(context.Background(), params, 10)
	var limitErr *ExportLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, int64(12), limitErr.Rows)
	assert.Equal(t, 10, limitErr.Limit)
}

func TestViewExport_RequiresSortingCols(t *testing.T) {
	view := &View{Name: "people", Columns: MustColumnSpec("name"), Source: &memorySource{}}
	_, err := view.Export(context.Background(), Params{}, 0)
	assert.True(t, IsClientError(err))
}

func TestViewProcess_FetchSpanExpectedRows(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	source := &memorySource{rows: people(12)}
	view := &View{Name: "people", Columns: MustColumnSpec("name"), Source: source}
	_, err := view.Process(context.Background(), requestParams("1", 10, 5))
	require.NoError(t, err)

	var fetch sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "datatables.fetch" {
			fetch = span
		}
	}
	require.NotNil(t, fetch)
	assert.Contains(t, fetch.Attributes(), attribute.Int("datatables.page.expected_rows", 2))
	assert.Contains(t, fetch.Attributes(), attribute.Int("datatables.rows", 2))
}
