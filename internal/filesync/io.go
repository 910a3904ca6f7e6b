package filesync

import (
	"context"
	"io"

	"github.com/quantarax/deltasync/internal/ratelimit"
)

// reader wraps r with cancellation and the engine's rate limit.
func (e *Engine) reader(ctx context.Context, r io.Reader) io.Reader {
	if e.limiter != nil {
		r = ratelimit.NewReader(ctx, r, e.limiter)
	}
	return &ctxReader{ctx: ctx, r: r}
}

func (e *Engine) readerAt(ctx context.Context, r io.ReaderAt) io.ReaderAt {
	if e.limiter != nil {
		r = ratelimit.NewReaderAt(ctx, r, e.limiter)
	}
	return &ctxReaderAt{ctx: ctx, r: r}
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type ctxReaderAt struct {
	ctx context.Context
	r   io.ReaderAt
}

func (c *ctxReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.ReadAt(p, off)
}
