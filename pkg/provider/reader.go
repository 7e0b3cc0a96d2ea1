package provider

import (
	"context"
	"fmt"
	"io"
	"time"
)

// inactivityReader wraps a stream body and fails a Read that produces no
// bytes within the window. This catches vendors that accept the request and
// then stall mid-stream, which a total-call timeout alone would let run to
// the full budget.
type inactivityReader struct {
	ctx    context.Context
	r      io.Reader
	window time.Duration
}

func newInactivityReader(ctx context.Context, r io.Reader, window time.Duration) *inactivityReader {
	return &inactivityReader{ctx: ctx, r: r, window: window}
}

type readResult struct {
	n   int
	err error
}

func (ir *inactivityReader) Read(p []byte) (int, error) {
	resCh := make(chan readResult, 1)
	go func() {
		n, err := ir.r.Read(p)
		resCh <- readResult{n, err}
	}()

	timer := time.NewTimer(ir.window)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res.n, res.err
	case <-ir.ctx.Done():
		return 0, ir.ctx.Err()
	case <-timer.C:
		return 0, fmt.Errorf("no bytes for %v: %w", ir.window, ErrTimeout)
	}
}
