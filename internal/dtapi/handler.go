// Package dtapi serves views over HTTP using the DataTables protocol.
package dtapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tidb-datatables/internal/datatables"
	"tidb-datatables/internal/export"
	"tidb-datatables/internal/logging"
	"tidb-datatables/internal/observability"
	"tidb-datatables/internal/viewdef"
)

const maxFormBytes = 1 << 20

// Request kinds recorded on metrics.
const (
	kindProtocol = "protocol"
	kindExport   = "export"
)

// Options configures the handlers.
type Options struct {
	ExportEnabled bool
	// ExportMaxRows bounds exports; zero means unbounded.
	ExportMaxRows int
	Metrics       *observability.ViewMetrics
}

// Handler serves the registered views.
type Handler struct {
	registry *viewdef.Registry
	opts     Options
}

// New creates a Handler over registry.
func New(registry *viewdef.Registry, opts Options) *Handler {
	return &Handler{registry: registry, opts: opts}
}

// Register installs the view routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /views", h.ServeList)
	mux.HandleFunc("GET /views/{name}", h.ServeView)
	mux.HandleFunc("POST /views/{name}", h.ServeView)
	if h.opts.ExportEnabled {
		mux.HandleFunc("GET /views/{name}/export.xlsx", h.ServeExport)
	}
}

type viewListing struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []string `json:"columns"`
	Kinds       []string `json:"kinds"`
	Titles      []string `json:"titles"`
}

// ServeList answers the catalogue of views.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.List()
	views := make([]viewListing, 0, len(entries))
	for _, entry := range entries {
		columns := entry.View.Columns.Columns()
		kinds := make([]string, len(columns))
		for i, col := range columns {
			kinds[i] = col.Kind.String()
		}
		views = append(views, viewListing{
			Name:        entry.Definition.Name,
			Description: entry.Definition.Description,
			Columns:     entry.View.Columns.Sources(),
			Kinds:       kinds,
			Titles:      entry.Definition.Headers(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"views": views})
}

// ServeView answers one protocol request. GET reads the query string and
// POST reads the form body.
func (h *Handler) ServeView(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	name := r.PathValue("name")
	logger := logging.FromContext(ctx).WithView(name)

	entry, ok := h.registry.Get(name)
	if !ok {
		h.opts.Metrics.RecordRequest(ctx, name, kindProtocol, observability.OutcomeNotFound, time.Since(start))
		writeError(w, http.StatusNotFound, "unknown view", "")
		return
	}

	h.opts.Metrics.IncrementActiveRequests(ctx)
	defer h.opts.Metrics.DecrementActiveRequests(ctx)

	params, err := requestParams(w, r)
	if err != nil {
		h.opts.Metrics.RecordRequest(ctx, name, kindProtocol, observability.OutcomeRejected, time.Since(start))
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}

	result, err := entry.View.Process(ctx, params)
	if err != nil {
		outcome := h.failure(ctx, w, logger, name, err)
		h.opts.Metrics.RecordRequest(ctx, name, kindProtocol, outcome, time.Since(start))
		return
	}

	resp := result.Response
	logger.Debug("view page served",
		slog.String("echo", resp.Echo),
		slog.Int("page", result.Page.Number),
		slog.Int("offset", result.Page.Offset),
		slog.Int("rows", len(resp.Data)),
		slog.Int64("total", resp.TotalRecords),
		slog.Int("order_terms", len(result.Order)),
	)
	h.opts.Metrics.RecordPage(ctx, name, len(resp.Data), resp.TotalRecords)
	h.opts.Metrics.RecordRequest(ctx, name, kindProtocol, observability.OutcomeOK, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

// ServeExport answers a workbook of every row of the view, ordered by the
// request's sort parameters.
func (h *Handler) ServeExport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	name := r.PathValue("name")
	logger := logging.FromContext(ctx).WithView(name)

	entry, ok := h.registry.Get(name)
	if !ok {
		h.opts.Metrics.RecordRequest(ctx, name, kindExport, observability.OutcomeNotFound, time.Since(start))
		writeError(w, http.StatusNotFound, "unknown view", "")
		return
	}

	h.opts.Metrics.IncrementActiveRequests(ctx)
	defer h.opts.Metrics.DecrementActiveRequests(ctx)

	params := datatables.ParamsFromValues(r.URL.Query())
	if _, ok := params[datatables.ParamSortingCols]; !ok {
		params[datatables.ParamSortingCols] = "0"
	}

	rows, err := entry.View.Export(ctx, params, h.opts.ExportMaxRows)
	if err != nil {
		outcome := h.failure(ctx, w, logger, name, err)
		h.opts.Metrics.RecordRequest(ctx, name, kindExport, outcome, time.Since(start))
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, name, entry.Definition.Headers(), rows); err != nil {
		logger.Error("failed to render export", slog.String("error", err.Error()))
		h.opts.Metrics.RecordRequest(ctx, name, kindExport, observability.OutcomeSourceError, time.Since(start))
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	logger.Info("view exported", slog.Int("rows", len(rows)), slog.Int("bytes", buf.Len()))
	h.opts.Metrics.RecordExport(ctx, name, len(rows))
	h.opts.Metrics.RecordRequest(ctx, name, kindExport, observability.OutcomeOK, time.Since(start))

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// failure maps a pipeline error to a response and returns the metric outcome.
func (h *Handler) failure(ctx context.Context, w http.ResponseWriter, logger *logging.Logger, view string, err error) string {
	if datatables.IsClientError(err) {
		field := datatables.ErrorField(err)
		logger.Warn("view request rejected", slog.String("field", field), slog.String("error", err.Error()))
		h.opts.Metrics.RecordRejected(ctx, view, field)
		writeError(w, http.StatusBadRequest, err.Error(), field)
		return observability.OutcomeRejected
	}

	var limitErr *datatables.ExportLimitError
	if errors.As(err, &limitErr) {
		logger.Warn("export rejected", slog.Int64("rows", limitErr.Rows), slog.Int("limit", limitErr.Limit))
		writeError(w, http.StatusRequestEntityTooLarge, err.Error(), "")
		return observability.OutcomeTooLarge
	}

	if errors.Is(err, context.Canceled) {
		logger.Info("view request canceled by client")
		return observability.OutcomeSourceError
	}

	var violation *datatables.ContractViolationError
	if errors.As(err, &violation) {
		logger.Error("row source returned a row without a required attribute",
			slog.String("attribute", violation.Attribute),
			slog.Int("column", violation.Column),
		)
	} else {
		logger.Error("view request failed", slog.String("error", err.Error()))
	}
	writeError(w, http.StatusInternalServerError, "internal error", "")
	return observability.OutcomeSourceError
}

func requestParams(w http.ResponseWriter, r *http.Request) (datatables.Params, error) {
	if r.Method != http.MethodPost {
		return datatables.ParamsFromValues(r.URL.Query()), nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return datatables.ParamsFromValues(r.PostForm), nil
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, field string) {
	writeJSON(w, status, errorBody{Error: message, Field: field})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
