package dbexec

import (
	"context"
	"time"
)

// TimeoutExecutor bounds every query with a deadline. The deadline covers
// row iteration and is released when the rows are closed.
type TimeoutExecutor struct {
	next    QueryExecutor
	timeout time.Duration
}

// WithTimeout wraps next so that each query runs under timeout.
// A non-positive timeout returns next unchanged.
func WithTimeout(next QueryExecutor, timeout time.Duration) QueryExecutor {
	if timeout <= 0 {
		return next
	}
	return &TimeoutExecutor{next: next, timeout: timeout}
}

func (e *TimeoutExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	rows, err := e.next.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnCloseRows{Rows: rows, cancel: cancel}, nil
}

type cancelOnCloseRows struct {
	Rows
	cancel context.CancelFunc
}

func (r *cancelOnCloseRows) Close() error {
	defer r.cancel()
	return r.Rows.Close()
}
