package datatables

// Response is the wire envelope of one protocol response.
type Response struct {
	TotalRecords        int64   `json:"iTotalRecords"`
	TotalDisplayRecords int64   `json:"iTotalDisplayRecords"`
	Echo                string  `json:"sEcho"`
	Data                [][]any `json:"aaData"`
}

// BuildResponse assembles the envelope. filtered equals total while no
// filter predicate is applied.
func BuildResponse(total, filtered int64, echo string, rows [][]any) *Response {
	if rows == nil {
		rows = [][]any{}
	}
	return &Response{
		TotalRecords:        total,
		TotalDisplayRecords: filtered,
		Echo:                echo,
		Data:                rows,
	}
}
