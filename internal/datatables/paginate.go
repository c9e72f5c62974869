package datatables

// Page is the window of the ordered result set a request asked for.
type Page struct {
	// Number is the 1-based page index implied by start and length.
	Number int
	Offset int
	// Length is the maximum number of rows; zero when All is set.
	Length int
	All    bool
	// Empty is set when the window starts at or beyond the last row.
	Empty bool
}

// Paginate computes the window for a validated start/length pair.
// length must be positive or DisplayAll.
func Paginate(total int64, start, length int) Page {
	if length == DisplayAll {
		return Page{Number: 1, Offset: 0, All: true, Empty: total == 0}
	}
	return Page{
		Number: start/length + 1,
		Offset: start,
		Length: length,
		Empty:  int64(start) >= total,
	}
}

// Size returns how many rows the page holds against a set of total rows.
func (p Page) Size(total int64) int {
	if p.Empty || int64(p.Offset) >= total {
		return 0
	}
	remaining := total - int64(p.Offset)
	if p.All || remaining < int64(p.Length) {
		return int(remaining)
	}
	return p.Length
}

// Slice applies the window to an already ordered, unpaged result set.
func (p Page) Slice(rows []Row) []Row {
	if p.Offset >= len(rows) {
		return []Row{}
	}
	end := len(rows)
	// Compared as a difference so a huge length cannot overflow.
	if !p.All && p.Length < end-p.Offset {
		end = p.Offset + p.Length
	}
	return rows[p.Offset:end]
}
