// Package ratelimit throttles data connection bandwidth.
//
// Limits are expressed in bytes per second on top of golang.org/x/time/rate.
// A nil *rate.Limiter means unlimited everywhere in this package, so callers
// can wrap readers and writers unconditionally.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// New creates a limiter allowing bytesPerSecond on average, with a burst of
// one second worth of data. It returns nil for zero or negative rates.
func New(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(min(bytesPerSecond, int64(maxBurst)))
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// maxBurst keeps the burst within int on 32-bit platforms.
const maxBurst = 1 << 30

// chunk returns how many bytes may be requested from l in one WaitN call.
func chunk(l *rate.Limiter, n int) int {
	return max(1, min(n, l.Burst()))
}

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewReader returns a reader that blocks until limiter grants the bytes it
// is about to read. A cancelled ctx makes Read fail with ctx.Err().
// If limiter is nil, r is returned unchanged.
func NewReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, limiter: limiter}
}

// Read implements io.Reader with rate limiting.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := chunk(r.limiter, len(p))
	if err := r.limiter.WaitN(r.ctx, n); err != nil {
		return 0, err
	}
	return r.r.Read(p[:n])
}

type writer struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// NewWriter returns a writer that waits on limiter before each chunk it
// writes. If limiter is nil, w is returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, limiter: limiter}
}

// Write implements io.Writer with rate limiting.
func (w *writer) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n := chunk(w.limiter, len(p)-total)
		if err := w.limiter.WaitN(w.ctx, n); err != nil {
			return total, err
		}

		written, err := w.w.Write(p[total : total+n])
		total += written
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
