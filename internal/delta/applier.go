package delta

import (
	"bytes"
	"fmt"
	"io"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/chunker"
	"github.com/quantarax/deltasync/internal/errs"
)

// Result describes a finished reconstruction.
type Result struct {
	// Verified is true when the output matched the delta's recorded size
	// and digest.
	Verified bool
	// Digest is the strong hash of what was actually written.
	Digest  []byte
	Written int64
}

// Err returns errs.ErrDigestMismatch for an unverified result.
func (r Result) Err() error {
	if r.Verified {
		return nil
	}
	return errs.ErrDigestMismatch
}

// Applier replays deltas against a base stream.
type Applier struct {
	weak   checksum.Weak
	strong checksum.Strong
}

func NewApplier(weak checksum.Weak, strong checksum.Strong) *Applier {
	return &Applier{weak: weak, strong: strong}
}

// Apply writes the reconstructed target to out, reading copied blocks from
// base, which holds baseSize bytes.
//
// A digest mismatch is not an error: the bytes have been written and the
// returned Result is unverified. A copy beyond the end of the base aborts
// with errs.ErrBlockOutOfRange; out may then hold a partial target.
func (a *Applier) Apply(d *Delta, base io.ReaderAt, baseSize int64, out io.Writer) (Result, error) {
	if err := checksum.CheckIDs(d.WeakAlgorithm, d.StrongAlgorithm, a.weak, a.strong); err != nil {
		return Result{}, err
	}
	if err := d.Validate(); err != nil {
		return Result{}, err
	}

	blocks, err := chunker.NewBlockReader(base, baseSize, d.BlockSize)
	if err != nil {
		return Result{}, err
	}

	hasher := a.strong.New()
	w := &countingWriter{w: io.MultiWriter(out, hasher)}

	var buf []byte
	for i, c := range d.Commands {
		switch c.Op {
		case OpLiteral:
			if _, err := w.Write(c.Data); err != nil {
				return Result{Written: w.n}, fmt.Errorf("failed to write command %d: %w", i, err)
			}
		case OpCopy:
			buf, err = blocks.ReadBlock(c.Block, buf)
			if err != nil {
				return Result{Written: w.n}, fmt.Errorf("command %d: %w", i, err)
			}
			if _, err := w.Write(buf); err != nil {
				return Result{Written: w.n}, fmt.Errorf("failed to write command %d: %w", i, err)
			}
		}
	}

	sum := hasher.Sum(nil)
	return Result{
		Verified: w.n == d.TargetSize && bytes.Equal(sum, d.TargetDigest),
		Digest:   sum,
		Written:  w.n,
	}, nil
}

// maxPrealloc bounds how much ApplyBytes trusts a delta's declared size.
const maxPrealloc = 64 << 20

// ApplyBytes reconstructs the target in memory. The bytes are returned
// even when the result is unverified so callers can inspect them.
func (a *Applier) ApplyBytes(d *Delta, base []byte) ([]byte, Result, error) {
	var out bytes.Buffer
	if d.TargetSize > 0 {
		out.Grow(int(min(d.TargetSize, maxPrealloc)))
	}
	res, err := a.Apply(d, bytes.NewReader(base), int64(len(base)), &out)
	if err != nil {
		return nil, res, err
	}
	return out.Bytes(), res, nil
}
