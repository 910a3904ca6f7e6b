package delta

import (
	"bytes"
	"hash"
	"io"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/signature"
)

// minScanBuffer keeps reads from the target reasonably large for small
// block sizes.
const minScanBuffer = 64 << 10

// Options tunes delta construction.
type Options struct {
	// MaxLiteralRun splits literal runs longer than this many bytes into
	// several Literal commands. Zero means unbounded.
	MaxLiteralRun int
}

// Builder produces deltas against one signature set. A Builder holds no
// per-scan state, so one set and one Builder may serve concurrent scans.
type Builder struct {
	set    *signature.BlockedHashSet
	weak   checksum.Weak
	strong checksum.Strong
	opts   Options
}

// NewBuilder checks that weak and strong are the providers set was built
// with; anything else is errs.ErrAlgorithmMismatch.
func NewBuilder(set *signature.BlockedHashSet, weak checksum.Weak, strong checksum.Strong, opts Options) (*Builder, error) {
	if err := checksum.CheckIDs(set.Weak().ID(), set.Strong().ID(), weak, strong); err != nil {
		return nil, err
	}
	if opts.MaxLiteralRun < 0 {
		opts.MaxLiteralRun = 0
	}
	return &Builder{set: set, weak: weak, strong: strong, opts: opts}, nil
}

// Build scans target and collects the resulting delta in memory.
func (b *Builder) Build(target io.Reader) (*Delta, error) {
	var commands []Command
	digest, size, err := b.Stream(target, SinkFunc(func(c Command) error {
		commands = append(commands, c)
		return nil
	}))
	if err != nil {
		return nil, err
	}

	return &Delta{
		BlockSize:       b.set.BlockSize(),
		WeakAlgorithm:   b.weak.ID(),
		StrongAlgorithm: b.strong.ID(),
		TargetSize:      size,
		TargetDigest:    digest,
		Commands:        commands,
	}, nil
}

// Stream scans target once, left to right, sending commands to sink as
// they are decided. It returns the strong digest and length of the whole
// target.
//
// Matching is greedy: at each offset the first candidate block, in
// insertion order, whose strong hash equals the window's wins, and the
// matched bytes are never looked at again.
func (b *Builder) Stream(target io.Reader, sink CommandSink) ([]byte, int64, error) {
	digest := b.strong.New()
	counter := &countingWriter{w: digest}
	bs := b.set.BlockSize()

	s := &scan{
		Builder: b,
		sink:    sink,
		hasher:  b.strong.New(),
		scratch: make([]byte, 0, b.strong.Size()),
		in: window{
			r:   io.TeeReader(target, counter),
			buf: make([]byte, max(2*bs, minScanBuffer)+1),
		},
	}
	if err := s.run(bs); err != nil {
		return nil, 0, err
	}
	return digest.Sum(nil), counter.n, nil
}

type scan struct {
	*Builder
	sink    CommandSink
	hasher  hash.Hash
	scratch []byte
	in      window
	literal []byte
}

func (s *scan) run(bs int) error {
	in := &s.in
	var (
		roll    checksum.Window
		rolling bool
	)

	for {
		if err := in.fill(bs); err != nil {
			return err
		}
		if in.buffered() < bs {
			break
		}

		cur := in.buf[in.pos : in.pos+bs]
		if !rolling {
			roll = checksum.NewWindow(s.weak, cur)
			rolling = true
		}

		if block, ok := s.match(roll.Sum(), cur); ok {
			if err := s.flush(); err != nil {
				return err
			}
			if err := s.sink.Emit(Copy(int64(block))); err != nil {
				return err
			}
			in.pos += bs
			rolling = false
			continue
		}

		out := cur[0]
		if err := s.addLiteral(cur[:1]); err != nil {
			return err
		}

		// fill may move the buffer; cur is not valid past this point.
		if err := in.fill(bs + 1); err != nil {
			return err
		}
		if in.buffered() < bs+1 {
			in.pos++
			break
		}
		roll.Roll(out, in.buf[in.pos+bs])
		in.pos++
	}

	// Fewer than a block remains: no match is possible.
	if err := s.addLiteral(in.buf[in.pos:in.end]); err != nil {
		return err
	}
	in.pos = in.end
	return s.flush()
}

// match returns the first candidate for sum whose strong hash equals the
// window's. The window's strong hash is computed at most once.
func (s *scan) match(sum uint32, win []byte) (int, bool) {
	var digest []byte
	for c := range s.set.Candidates(sum) {
		if s.set.BlockLength(c) != len(win) {
			continue
		}
		if digest == nil {
			s.hasher.Reset()
			s.hasher.Write(win)
			digest = s.hasher.Sum(s.scratch[:0])
		}
		if bytes.Equal(digest, s.set.StrongHash(c)) {
			return c, true
		}
	}
	return 0, false
}

func (s *scan) addLiteral(p []byte) error {
	limit := s.opts.MaxLiteralRun
	if limit == 0 {
		s.literal = append(s.literal, p...)
		return nil
	}
	for len(p) > 0 {
		n := min(len(p), limit-len(s.literal))
		s.literal = append(s.literal, p[:n]...)
		p = p[n:]
		if len(s.literal) >= limit {
			if err := s.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush emits the pending literal run, if any. The run's slice is handed
// to the sink and a fresh one is started.
func (s *scan) flush() error {
	if len(s.literal) == 0 {
		return nil
	}
	lit := s.literal
	s.literal = nil
	return s.sink.Emit(Literal(lit))
}

// window buffers the target so the current block-length window is always
// contiguous in memory.
type window struct {
	r        io.Reader
	buf      []byte
	pos, end int
	eof      bool
}

func (w *window) buffered() int {
	return w.end - w.pos
}

// fill reads until at least n bytes are buffered past pos or the stream
// ends. n must not exceed len(buf).
func (w *window) fill(n int) error {
	if w.buffered() >= n || w.eof {
		return nil
	}
	if len(w.buf)-w.pos < n {
		w.end = copy(w.buf, w.buf[w.pos:w.end])
		w.pos = 0
	}
	for w.buffered() < n {
		m, err := w.r.Read(w.buf[w.end:])
		w.end += m
		if err == io.EOF {
			w.eof = true
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
