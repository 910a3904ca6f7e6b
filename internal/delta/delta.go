// Package delta encodes a target stream as copy and literal commands
// against the signature set of a base stream, and replays those commands
// to reconstruct the target.
package delta

import (
	"fmt"

	"github.com/quantarax/deltasync/internal/errs"
)

// Op tags a Command.
type Op uint8

const (
	// OpCopy emits one base block verbatim.
	OpCopy Op = iota + 1
	// OpLiteral emits raw bytes carried in the delta.
	OpLiteral
)

func (o Op) String() string {
	switch o {
	case OpCopy:
		return "copy"
	case OpLiteral:
		return "literal"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

func (o Op) MarshalText() ([]byte, error) {
	switch o {
	case OpCopy, OpLiteral:
		return []byte(o.String()), nil
	default:
		return nil, fmt.Errorf("%w: unknown op %d", errs.ErrMalformedDelta, uint8(o))
	}
}

func (o *Op) UnmarshalText(text []byte) error {
	switch string(text) {
	case "copy":
		*o = OpCopy
	case "literal":
		*o = OpLiteral
	default:
		return fmt.Errorf("%w: unknown op %q", errs.ErrMalformedDelta, text)
	}
	return nil
}

// Command is one step of a reconstruction. Block is set for copies, Data
// for literals.
type Command struct {
	Op    Op     `json:"op"`
	Block int64  `json:"block,omitempty"`
	Data  []byte `json:"data,omitempty"`
}

// Copy returns a command emitting base block index.
func Copy(index int64) Command {
	return Command{Op: OpCopy, Block: index}
}

// Literal returns a command emitting data. The command takes ownership of
// the slice.
func Literal(data []byte) Command {
	return Command{Op: OpLiteral, Data: data}
}

func (c Command) String() string {
	if c.Op == OpCopy {
		return fmt.Sprintf("copy(%d)", c.Block)
	}
	return fmt.Sprintf("literal(%d bytes)", len(c.Data))
}

// Delta is a complete patch: the commands that rebuild a target from a
// base, plus what is needed to check the result.
type Delta struct {
	// BlockSize must equal the block size of the base signature set.
	BlockSize       int    `json:"block_size"`
	WeakAlgorithm   string `json:"weak_algorithm"`
	StrongAlgorithm string `json:"strong_algorithm"`

	// TargetSize and TargetDigest describe the whole target stream,
	// independent of blocking.
	TargetSize   int64  `json:"target_size"`
	TargetDigest []byte `json:"target_digest"`

	Commands []Command `json:"commands"`
}

// Validate checks the delta is self-consistent. It does not need the base.
func (d *Delta) Validate() error {
	if d.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d", errs.ErrMalformedDelta, d.BlockSize)
	}
	if d.WeakAlgorithm == "" || d.StrongAlgorithm == "" {
		return fmt.Errorf("%w: missing algorithm identifier", errs.ErrMalformedDelta)
	}
	if len(d.TargetDigest) == 0 {
		return fmt.Errorf("%w: missing target digest", errs.ErrMalformedDelta)
	}
	if d.TargetSize < 0 {
		return fmt.Errorf("%w: target size %d", errs.ErrMalformedDelta, d.TargetSize)
	}

	var literalBytes int64
	for i, c := range d.Commands {
		switch c.Op {
		case OpCopy:
			if c.Block < 0 {
				return fmt.Errorf("%w: command %d copies block %d", errs.ErrMalformedDelta, i, c.Block)
			}
			if len(c.Data) != 0 {
				return fmt.Errorf("%w: command %d is a copy carrying data", errs.ErrMalformedDelta, i)
			}
		case OpLiteral:
			if len(c.Data) == 0 {
				return fmt.Errorf("%w: command %d is an empty literal", errs.ErrMalformedDelta, i)
			}
			literalBytes += int64(len(c.Data))
		default:
			return fmt.Errorf("%w: command %d has op %d", errs.ErrMalformedDelta, i, uint8(c.Op))
		}
	}
	if literalBytes > d.TargetSize {
		return fmt.Errorf("%w: %d literal bytes exceed target size %d", errs.ErrMalformedDelta, literalBytes, d.TargetSize)
	}
	return nil
}

// Stats summarizes a delta's command stream.
type Stats struct {
	Copies       int
	Literals     int
	LiteralBytes int64
	// CopiedBytes counts every copy as a full block, so it may overstate
	// by the shortfall of the base's last block.
	CopiedBytes int64
}

func (d *Delta) Stats() Stats {
	var s Stats
	for _, c := range d.Commands {
		switch c.Op {
		case OpCopy:
			s.Copies++
			s.CopiedBytes += int64(d.BlockSize)
		case OpLiteral:
			s.Literals++
			s.LiteralBytes += int64(len(c.Data))
		}
	}
	return s
}

// CommandSink receives commands in order as the builder produces them.
type CommandSink interface {
	Emit(Command) error
}

// SinkFunc adapts a function to CommandSink.
type SinkFunc func(Command) error

func (f SinkFunc) Emit(c Command) error {
	return f(c)
}
