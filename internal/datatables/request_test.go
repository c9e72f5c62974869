package datatables

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseParams() Params {
	return Params{
		ParamEcho:          "3",
		ParamDisplayLength: "10",
		ParamDisplayStart:  "0",
		ParamSortingCols:   "0",
	}
}

func TestParseRequest_Valid(t *testing.T) {
	params := baseParams()
	params[ParamSortingCols] = "2"
	params["iSortCol_0"] = "1"
	params["sSortDir_0"] = "desc"
	params["iSortCol_1"] = "0"
	params["sSortDir_1"] = "asc"
	params[ParamColumns] = "2"
	params[ParamSearch] = "ada"

	req, err := ParseRequest(params)
	require.NoError(t, err)

	assert.Equal(t, "3", req.Echo)
	assert.Equal(t, 10, req.DisplayLength)
	assert.Equal(t, 0, req.DisplayStart)
	assert.Equal(t, []SortSpec{{Column: 1, Direction: Descending}, {Column: 0, Direction: Ascending}}, req.Sort)
	assert.Equal(t, 2, req.Columns)
	assert.Equal(t, "ada", req.Search)
	assert.False(t, req.All())
}

func TestParseRequest_EchoPreservedVerbatim(t *testing.T) {
	for _, echo := range []string{"", "0", "abc", " 12 "} {
		params := baseParams()
		params[ParamEcho] = echo
		req, err := ParseRequest(params)
		require.NoError(t, err)
		assert.Equal(t, echo, req.Echo)
	}
}

func TestParseRequest_DisplayAll(t *testing.T) {
	params := baseParams()
	params[ParamDisplayLength] = "-1"
	req, err := ParseRequest(params)
	require.NoError(t, err)
	assert.True(t, req.All())
	assert.Equal(t, -1, req.Columns)
}

func TestParseRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(Params)
		field string
	}{
		{"missing echo", func(p Params) { delete(p, ParamEcho) }, ParamEcho},
		{"missing length", func(p Params) { delete(p, ParamDisplayLength) }, ParamDisplayLength},
		{"zero length", func(p Params) { p[ParamDisplayLength] = "0" }, ParamDisplayLength},
		{"negative length", func(p Params) { p[ParamDisplayLength] = "-2" }, ParamDisplayLength},
		{"non-integer length", func(p Params) { p[ParamDisplayLength] = "ten" }, ParamDisplayLength},
		{"missing start", func(p Params) { delete(p, ParamDisplayStart) }, ParamDisplayStart},
		{"negative start", func(p Params) { p[ParamDisplayStart] = "-1" }, ParamDisplayStart},
		{"missing sorting cols", func(p Params) { delete(p, ParamSortingCols) }, ParamSortingCols},
		{"negative sorting cols", func(p Params) { p[ParamSortingCols] = "-1" }, ParamSortingCols},
		{"missing sort col", func(p Params) { p[ParamSortingCols] = "1" }, "iSortCol_0"},
		{"non-integer sort col", func(p Params) {
			p[ParamSortingCols] = "1"
			p["iSortCol_0"] = "name"
		}, "iSortCol_0"},
		{"negative columns", func(p Params) { p[ParamColumns] = "-3" }, ParamColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := baseParams()
			tt.edit(params)

			_, err := ParseRequest(params)
			require.Error(t, err)

			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, tt.field, validationErr.Field)
			assert.True(t, IsClientError(err))
			assert.Equal(t, tt.field, ErrorField(err))
		})
	}
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, Descending, ParseDirection("desc"))
	assert.Equal(t, Ascending, ParseDirection("DESC"))
	assert.Equal(t, Ascending, ParseDirection(" desc "))
	assert.Equal(t, Ascending, ParseDirection("asc"))
	assert.Equal(t, Ascending, ParseDirection(""))
	assert.Equal(t, Ascending, ParseDirection("sideways"))
	assert.Equal(t, "DESC", Descending.String())
	assert.Equal(t, "ASC", Ascending.String())
}

func TestParamsFromValues(t *testing.T) {
	values := url.Values{
		"sEcho":          {"7", "8"},
		"iDisplayLength": {"25"},
		"empty":          {},
	}
	params := ParamsFromValues(values)
	assert.Equal(t, Params{"sEcho": "7", "iDisplayLength": "25"}, params)
}
