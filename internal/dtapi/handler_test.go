package dtapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tidb-datatables/internal/datatables"
	"tidb-datatables/internal/viewdef"
)

type fakeSource struct {
	rows     []datatables.Row
	err      error
	dropAttr string
	calls    int
}

func (f *fakeSource) Count(ctx context.Context) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.rows)), nil
}

func (f *fakeSource) Fetch(ctx context.Context, attributes []string, order []datatables.SortInstruction) ([]datatables.Row, error) {
	f.calls++
	out := make([]datatables.Row, 0, len(f.rows))
	for _, row := range f.rows {
		projected := datatables.Row{}
		for _, attr := range attributes {
			if attr != f.dropAttr {
				projected[attr] = row[attr]
			}
		}
		out = append(out, projected)
	}
	if len(order) > 0 {
		term := order[0]
		sort.SliceStable(out, func(i, j int) bool {
			a, b := fmt.Sprint(out[i][term.Attribute]), fmt.Sprint(out[j][term.Attribute])
			if term.Direction == datatables.Descending {
				return a > b
			}
			return a < b
		})
	}
	return out, nil
}

func newTestHandler(t *testing.T, source *fakeSource, opts Options) http.Handler {
	t.Helper()
	registry, err := viewdef.NewRegistry([]viewdef.Definition{{
		Name:        "people",
		Table:       "people",
		Columns:     []string{"name", "{first} {last}"},
		Titles:      []string{"Name", "Full name"},
		Description: "Everyone",
	}}, func(viewdef.Definition) (datatables.RowSource, error) { return source, nil })
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(registry, opts).Register(mux)
	return mux
}

func adaLovelace() *fakeSource {
	return &fakeSource{rows: []datatables.Row{
		{"name": "Ada", "first": "Ada", "last": "Lovelace"},
		{"name": "Alan", "first": "Alan", "last": "Turing"},
	}}
}

func protocolQuery(extra map[string]string) url.Values {
	values := url.Values{
		"sEcho":          {"7"},
		"iDisplayStart":  {"0"},
		"iDisplayLength": {"10"},
		"iSortingCols":   {"0"},
	}
	for k, v := range extra {
		values.Set(k, v)
	}
	return values
}

func TestServeView_GET(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/views/people?"+protocolQuery(map[string]string{
		"iSortingCols": "1",
		"iSortCol_0":   "0",
		"sSortDir_0":   "desc",
	}).Encode(), nil)
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"iTotalRecords": 2,
		"iTotalDisplayRecords": 2,
		"sEcho": "7",
		"aaData": [["Alan", "Alan Turing"], ["Ada", "Ada Lovelace"]]
	}`, rr.Body.String())
}

func TestServeView_POST(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/views/people", strings.NewReader(protocolQuery(map[string]string{
		"sEcho":          "",
		"iDisplayLength": "1",
	}).Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp datatables.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "", resp.Echo)
	assert.Len(t, resp.Data, 1)
}

func TestServeView_ClientErrors(t *testing.T) {
	tests := []struct {
		name  string
		extra map[string]string
		field string
	}{
		{"zero length", map[string]string{"iDisplayLength": "0"}, "iDisplayLength"},
		{"non-integer start", map[string]string{"iDisplayStart": "x"}, "iDisplayStart"},
		{"sort column out of range", map[string]string{"iSortingCols": "1", "iSortCol_0": "2"}, "iSortCol_0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := adaLovelace()
			handler := newTestHandler(t, source, Options{})

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/views/people?"+protocolQuery(tt.extra).Encode(), nil)
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.field, body.Field)
			assert.NotEmpty(t, body.Error)
			assert.Zero(t, source.calls)
		})
	}
}

func TestServeView_UnknownView(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/views/nobody?"+protocolQuery(nil).Encode(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeView_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/views/people", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServeView_SourceFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	handler := newTestHandler(t, source, Options{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/views/people?"+protocolQuery(nil).Encode(), nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestServeView_ContractViolation(t *testing.T) {
	source := adaLovelace()
	source.dropAttr = "last"
	handler := newTestHandler(t, source, Options{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/views/people?"+protocolQuery(nil).Encode(), nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "aaData")
}

func TestServeList(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/views", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"views": [{
		"name": "people",
		"description": "Everyone",
		"columns": ["name", "{first} {last}"],
		"kinds": ["simple", "composite"],
		"titles": ["Name", "Full name"]
	}]}`, rr.Body.String())
}

func TestServeExport(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{ExportEnabled: true})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/views/people/export.xlsx?iSortingCols=1&iSortCol_0=1&sSortDir_0=desc", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "people.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("people")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Name", "Full name"},
		{"Alan", "Alan Turing"},
		{"Ada", "Ada Lovelace"},
	}, rows)
}

func TestServeExport_NoSortParams(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{ExportEnabled: true})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/views/people/export.xlsx", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServeExport_TooLarge(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{ExportEnabled: true, ExportMaxRows: 1})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/views/people/export.xlsx", nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestServeExport_Disabled(t *testing.T) {
	handler := newTestHandler(t, adaLovelace(), Options{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/views/people/export.xlsx", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
