// Package throttle implements the bandwidth-capped byte sink (§4.1): a
// reader wrapper that blocks the calling context just long enough to hold
// its transfer rate at or below a configured bytes/second ceiling. The
// token bucket is golang.org/x/time/rate.Limiter.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Reader wraps an io.ReadCloser, throttling Read calls to maxBps
// bytes/second. A non-positive maxBps means unbounded.
type Reader struct {
	inner   io.ReadCloser
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewReader wraps inner with a bandwidth cap of maxBps bytes/second. The
// returned Reader's Read blocks against ctx, so cancelling ctx (or calling
// the returned cancel via Close) promptly unblocks any in-flight Read.
func NewReader(ctx context.Context, inner io.ReadCloser, maxBps int64) *Reader {
	rctx, cancel := context.WithCancel(ctx)

	r := &Reader{inner: inner, ctx: rctx, cancel: cancel}
	if maxBps > 0 {
		// Burst equal to one second's worth of data: §4.1's window is 1000ms.
		r.limiter = rate.NewLimiter(rate.Limit(maxBps), int(maxBps))
	}
	return r
}

// Read forwards to the inner reader first, then waits for bucket tokens
// covering the bytes it returned (at most one burst per wait), so the rate
// stays at or below maxBps; it does not wait before the inner read.
// Suspension is cancellable: if the sink's context is cancelled, Read
// returns promptly with the cancellation error.
func (r *Reader) Read(p []byte) (int, error) {
	if r.limiter == nil {
		return r.inner.Read(p)
	}

	n, err := r.inner.Read(p)
	if n <= 0 {
		return n, err
	}

	for remaining := n; remaining > 0; {
		step := remaining
		if burst := r.limiter.Burst(); step > burst {
			step = burst
		}
		if waitErr := r.limiter.WaitN(r.ctx, step); waitErr != nil {
			return n, waitErr
		}
		remaining -= step
	}

	return n, err
}

// Seek delegates to the inner stream if it supports seeking.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if seeker, ok := r.inner.(io.Seeker); ok {
		return seeker.Seek(offset, whence)
	}
	return 0, io.ErrUnexpectedEOF
}

// Close cancels any pending throttle wait and disposes the inner stream.
func (r *Reader) Close() error {
	r.cancel()
	return r.inner.Close()
}
