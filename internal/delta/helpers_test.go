package delta

import (
	"bytes"
	"hash"
	"math/rand"
	"testing"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/signature"
)

// constantWeak puts every window in the same chain so that the strong hash
// alone decides matches.
type constantWeak struct{}

func (constantWeak) ID() string                          { return "constant" }
func (constantWeak) Checksum([]byte) uint32              { return 42 }
func (constantWeak) Roll(uint32, int, byte, byte) uint32 { return 42 }

// countingStrong wraps a strong provider and counts hasher creations.
type countingStrong struct {
	checksum.Strong
	created *int
}

func (c countingStrong) New() hash.Hash {
	*c.created++
	return c.Strong.New()
}

func buildSet(t testing.TB, base []byte, blockSize int, weak checksum.Weak, strong checksum.Strong) *signature.BlockedHashSet {
	t.Helper()
	set, err := signature.Build(bytes.NewReader(base), blockSize, weak, strong, int64(len(base)))
	if err != nil {
		t.Fatalf("signature.Build failed: %v", err)
	}
	return set
}

func buildDelta(t testing.TB, base, target []byte, blockSize int, weak checksum.Weak, strong checksum.Strong, opts Options) *Delta {
	t.Helper()
	b, err := NewBuilder(buildSet(t, base, blockSize, weak, strong), weak, strong, opts)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	d, err := b.Build(bytes.NewReader(target))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return d
}

func applyDelta(t testing.TB, d *Delta, base []byte, weak checksum.Weak, strong checksum.Strong) ([]byte, Result) {
	t.Helper()
	out, res, err := NewApplier(weak, strong).ApplyBytes(d, base)
	if err != nil {
		t.Fatalf("ApplyBytes failed: %v", err)
	}
	return out, res
}

// referenceCommands is a direct, quadratic restatement of the matching
// rule: at each offset, the lowest-index base block with identical content
// wins; otherwise the byte becomes literal.
func referenceCommands(base, target []byte, bs int) []Command {
	first := map[string]int{}
	for i := 0; i*bs+bs <= len(base); i++ {
		key := string(base[i*bs : i*bs+bs])
		if _, ok := first[key]; !ok {
			first[key] = i
		}
	}

	var (
		out []Command
		lit []byte
	)
	pos := 0
	for pos+bs <= len(target) {
		if i, ok := first[string(target[pos:pos+bs])]; ok {
			if len(lit) > 0 {
				out = append(out, Literal(lit))
				lit = nil
			}
			out = append(out, Copy(int64(i)))
			pos += bs
			continue
		}
		lit = append(lit, target[pos])
		pos++
	}
	lit = append(lit, target[pos:]...)
	if len(lit) > 0 {
		out = append(out, Literal(lit))
	}
	return out
}

// mutate derives a target from base by cutting, inserting and moving
// ranges, so that it shares blocks at shifted offsets.
func mutate(rng *rand.Rand, base []byte) []byte {
	target := append([]byte(nil), base...)
	for edits := rng.Intn(6) + 1; edits > 0; edits-- {
		if len(target) == 0 {
			target = append(target, byte(rng.Intn(256)))
			continue
		}
		at := rng.Intn(len(target))
		switch rng.Intn(3) {
		case 0:
			ins := make([]byte, rng.Intn(40)+1)
			rng.Read(ins)
			target = append(target[:at], append(ins, target[at:]...)...)
		case 1:
			end := min(len(target), at+rng.Intn(40)+1)
			target = append(target[:at], target[end:]...)
		case 2:
			end := min(len(target), at+rng.Intn(60)+1)
			moved := append([]byte(nil), target[at:end]...)
			target = append(target[:at], target[end:]...)
			to := rng.Intn(len(target) + 1)
			target = append(target[:to], append(moved, target[to:]...)...)
		}
	}
	return target
}
