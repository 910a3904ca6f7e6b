package ratelimit

import (
	"context"
	"io"
)

// Reader throttles reads from r to the bucket's rate.
type Reader struct {
	ctx context.Context
	r   io.Reader
	tb  *TokenBucket
}

func NewReader(ctx context.Context, r io.Reader, tb *TokenBucket) *Reader {
	return &Reader{ctx: ctx, r: r, tb: tb}
}

func (l *Reader) Read(p []byte) (int, error) {
	if len(p) > l.tb.Burst() {
		p = p[:l.tb.Burst()]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.tb.Wait(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// ReaderAt throttles random access reads. Each ReadAt is split into
// burst-sized pieces so large blocks still respect the rate.
type ReaderAt struct {
	ctx context.Context
	r   io.ReaderAt
	tb  *TokenBucket
}

func NewReaderAt(ctx context.Context, r io.ReaderAt, tb *TokenBucket) *ReaderAt {
	return &ReaderAt{ctx: ctx, r: r, tb: tb}
}

func (l *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		chunk := p[total:min(len(p), total+l.tb.Burst())]
		n, err := l.r.ReadAt(chunk, off+int64(total))
		total += n
		if n > 0 {
			if werr := l.tb.Wait(l.ctx, n); werr != nil {
				return total, werr
			}
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
