package datatables

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RowSource is the storage collaborator a view reads from.
type RowSource interface {
	// Count returns the total, unfiltered number of rows.
	Count(ctx context.Context) (int64, error)
	// Fetch returns every row with exactly the requested attributes, ordered by order.
	Fetch(ctx context.Context, attributes []string, order []SortInstruction) ([]Row, error)
}

// WindowedRowSource is a RowSource that can apply the page window itself.
type WindowedRowSource interface {
	RowSource
	FetchWindow(ctx context.Context, attributes []string, order []SortInstruction, page Page) ([]Row, error)
}

// View binds a column spec to a row source. It holds no per-request state.
type View struct {
	Name    string
	Columns *ColumnSpec
	Source  RowSource
}

// Result carries a response together with the facts callers log and measure.
type Result struct {
	Response *Response
	Request  *Request
	Order    []SortInstruction
	Page     Page
}

// Process runs one protocol request end to end. Client errors are returned
// before the row source is touched.
func (v *View) Process(ctx context.Context, params Params) (*Result, error) {
	req, err := ParseRequest(params)
	if err != nil {
		return nil, err
	}
	order, err := ResolveOrder(req.Sort, v.Columns)
	if err != nil {
		return nil, err
	}

	total, err := v.count(ctx)
	if err != nil {
		return nil, err
	}

	page := Paginate(total, req.DisplayStart, req.DisplayLength)
	rows, err := v.fetchPage(ctx, order, page, total)
	if err != nil {
		return nil, err
	}

	data, err := FormatRows(rows, v.Columns)
	if err != nil {
		return nil, err
	}

	return &Result{
		Response: BuildResponse(total, total, req.Echo, data),
		Request:  req,
		Order:    order,
		Page:     page,
	}, nil
}

// ExportLimitError reports an export that would exceed the configured row limit.
type ExportLimitError struct {
	Rows  int64
	Limit int
}

func (e *ExportLimitError) Error() string {
	return fmt.Sprintf("export of %d rows exceeds the limit of %d", e.Rows, e.Limit)
}

// Export returns every row of the view, ordered by the request's sort params
// and formatted. Paging params are ignored. maxRows <= 0 means unbounded.
func (v *View) Export(ctx context.Context, params Params, maxRows int) ([][]any, error) {
	specs, err := ParseSortSpecs(params)
	if err != nil {
		return nil, err
	}
	order, err := ResolveOrder(specs, v.Columns)
	if err != nil {
		return nil, err
	}

	total, err := v.count(ctx)
	if err != nil {
		return nil, err
	}
	if maxRows > 0 && total > int64(maxRows) {
		return nil, &ExportLimitError{Rows: total, Limit: maxRows}
	}

	rows, err := v.fetchPage(ctx, order, Paginate(total, 0, DisplayAll), total)
	if err != nil {
		return nil, err
	}
	return FormatRows(rows, v.Columns)
}

func (v *View) count(ctx context.Context) (int64, error) {
	ctx, span := startSpan(ctx, "datatables.count", attribute.String("datatables.view", v.Name))
	total, err := v.Source.Count(ctx)
	finishSpan(span, err)
	if err != nil {
		return 0, fmt.Errorf("count rows for view %s: %w", v.Name, err)
	}
	span.SetAttributes(attribute.Int64("datatables.total", total))
	return total, nil
}

func (v *View) fetchPage(ctx context.Context, order []SortInstruction, page Page, total int64) ([]Row, error) {
	if page.Empty {
		return []Row{}, nil
	}

	ctx, span := startSpan(ctx, "datatables.fetch",
		attribute.String("datatables.view", v.Name),
		attribute.Int("datatables.page.offset", page.Offset),
		attribute.Int("datatables.page.length", page.Length),
		attribute.Int("datatables.page.expected_rows", page.Size(total)),
		attribute.Int("datatables.order.terms", len(order)),
	)

	attrs := v.Columns.RequiredAttributes()
	var (
		rows []Row
		err  error
	)
	if windowed, ok := v.Source.(WindowedRowSource); ok {
		rows, err = windowed.FetchWindow(ctx, attrs, order, page)
	} else {
		rows, err = v.Source.Fetch(ctx, attrs, order)
		if err == nil {
			rows = page.Slice(rows)
		}
	}
	finishSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("fetch rows for view %s: %w", v.Name, err)
	}
	span.SetAttributes(attribute.Int("datatables.rows", len(rows)))
	return rows, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("tidb-datatables/datatables").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
