package delta

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/errs"
)

const fixtureBase = "0123456789abcdefghijkAAAAAAAAAAAAAABBBBBBBBBBBBBBBBBBCCCCCCCCCCCCCCCCC0123456789abcdefghijk"

// fixtureTarget reorders the base's runs and wraps them in filler text.
const fixtureTarget = "BBBBB" + "hello" + "AAAAA" + "CCCCC" + "--" + "CCCCC" + "fghij" + "kworld" + "0123456789" + "end"

func TestBuild_FixtureScenario(t *testing.T) {
	base := []byte(fixtureBase)
	target := []byte(fixtureTarget)

	d := buildDelta(t, base, target, 5, checksum.Rollsum{}, checksum.Blake3{}, Options{})

	want := []Command{
		Copy(7),
		Literal([]byte("hello")),
		Copy(5),
		Copy(11),
		Literal([]byte("--")),
		Copy(11),
		Copy(3),
		Literal([]byte("kworld")),
		Copy(0),
		Copy(1),
		Literal([]byte("end")),
	}
	if len(d.Commands) != 11 {
		t.Errorf("Expected 11 commands, got %d", len(d.Commands))
	}
	if diff := cmp.Diff(want, d.Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(referenceCommands(base, target, 5), d.Commands); diff != "" {
		t.Errorf("commands differ from reference (-want +got):\n%s", diff)
	}

	out, res := applyDelta(t, d, base, checksum.Rollsum{}, checksum.Blake3{})
	if !bytes.Equal(out, target) {
		t.Errorf("reconstructed %q, want %q", out, target)
	}
	if !res.Verified {
		t.Error("reconstruction should verify")
	}
}

func TestBuild_Metadata(t *testing.T) {
	target := []byte(fixtureTarget)
	d := buildDelta(t, []byte(fixtureBase), target, 5, checksum.Adler32{}, checksum.SHA256{}, Options{})

	if d.BlockSize != 5 {
		t.Errorf("BlockSize = %d, want 5", d.BlockSize)
	}
	if d.WeakAlgorithm != checksum.Adler32ID || d.StrongAlgorithm != checksum.SHA256ID {
		t.Errorf("algorithms = %s/%s", d.WeakAlgorithm, d.StrongAlgorithm)
	}
	if d.TargetSize != int64(len(target)) {
		t.Errorf("TargetSize = %d, want %d", d.TargetSize, len(target))
	}
	if !bytes.Equal(d.TargetDigest, checksum.Sum(checksum.SHA256{}, target)) {
		t.Error("TargetDigest is not the strong hash of the target")
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestBuild_IdentityIsAllCopies(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, bs := range []int{1, 3, 16, 64} {
		base := make([]byte, bs*37)
		rng.Read(base)

		d := buildDelta(t, base, base, bs, checksum.Rollsum{}, checksum.Blake3{}, Options{})

		want := make([]Command, 37)
		for i := range want {
			want[i] = Copy(int64(i))
		}
		if bs == 1 {
			// Repeated byte values map to their first occurrence.
			for i := range want {
				want[i] = Copy(int64(bytes.IndexByte(base, base[i])))
			}
		}
		if diff := cmp.Diff(want, d.Commands); diff != "" {
			t.Errorf("bs=%d identity commands mismatch (-want +got):\n%s", bs, diff)
		}
	}
}

func TestBuild_NoOverlapIsSingleLiteral(t *testing.T) {
	base := bytes.Repeat([]byte("x"), 100)
	target := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 20))

	d := buildDelta(t, base, target, 8, checksum.Rollsum{}, checksum.Blake3{}, Options{})

	if diff := cmp.Diff([]Command{Literal(target)}, d.Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_ShortTargetNeverCopies(t *testing.T) {
	base := []byte(fixtureBase)
	for n := 0; n < 5; n++ {
		target := base[:n]
		d := buildDelta(t, base, target, 5, checksum.Rollsum{}, checksum.Blake3{}, Options{})
		if n == 0 {
			if len(d.Commands) != 0 {
				t.Errorf("empty target produced %d commands", len(d.Commands))
			}
			continue
		}
		if diff := cmp.Diff([]Command{Literal(append([]byte(nil), target...))}, d.Commands); diff != "" {
			t.Errorf("n=%d commands mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestBuild_TrailingShortBlockIsLiteral(t *testing.T) {
	// Identical streams without a clean block boundary: the short last
	// block is never matched by a full window.
	base := []byte("abcdefghijklm")
	d := buildDelta(t, base, base, 5, checksum.Rollsum{}, checksum.Blake3{}, Options{})
	want := []Command{Copy(0), Copy(1), Literal([]byte("klm"))}
	if diff := cmp.Diff(want, d.Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_CollisionPicksStrongMatch(t *testing.T) {
	// "aca" and "bab" share a rollsum checksum.
	base := []byte("acabab")
	d := buildDelta(t, base, []byte("bab"), 3, checksum.Rollsum{}, checksum.Blake3{}, Options{})
	if diff := cmp.Diff([]Command{Copy(1)}, d.Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_AllCollideStillCorrect(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	base := make([]byte, 400)
	rng.Read(base)
	target := mutate(rng, base)

	d := buildDelta(t, base, target, 8, constantWeak{}, checksum.Blake3{}, Options{})
	if diff := cmp.Diff(referenceCommands(base, target, 8), d.Commands); diff != "" {
		t.Errorf("commands differ from reference (-want +got):\n%s", diff)
	}
	out, res := applyDelta(t, d, base, constantWeak{}, checksum.Blake3{})
	if !bytes.Equal(out, target) || !res.Verified {
		t.Error("round trip failed under total weak collision")
	}
}

func TestBuild_MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for iter := 0; iter < 60; iter++ {
		base := make([]byte, rng.Intn(600))
		rng.Read(base)
		// Small alphabet to provoke repeated blocks and weak collisions.
		if iter%2 == 0 {
			for i := range base {
				base[i] = 'a' + base[i]%3
			}
		}
		target := mutate(rng, base)
		bs := rng.Intn(12) + 1

		for _, weak := range []checksum.Weak{checksum.Rollsum{}, checksum.Adler32{}} {
			d := buildDelta(t, base, target, bs, weak, checksum.Blake3{}, Options{})
			if diff := cmp.Diff(referenceCommands(base, target, bs), d.Commands); diff != "" {
				t.Fatalf("iter %d %s bs=%d commands differ from reference (-want +got):\n%s", iter, weak.ID(), bs, diff)
			}
		}
	}
}

func TestBuild_ShortReads(t *testing.T) {
	base := []byte(fixtureBase)
	target := []byte(fixtureTarget)

	set := buildSet(t, base, 5, checksum.Rollsum{}, checksum.Blake3{})
	b, err := NewBuilder(set, checksum.Rollsum{}, checksum.Blake3{}, Options{})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	d, err := b.Build(iotest.OneByteReader(bytes.NewReader(target)))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if diff := cmp.Diff(referenceCommands(base, target, 5), d.Commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_LargeTargetCrossesBuffer(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	base := make([]byte, 300<<10)
	rng.Read(base)
	target := append([]byte("prefix"), base[1000:]...)
	target = append(target, base[:5000]...)

	d := buildDelta(t, base, target, 1024, checksum.Rollsum{}, checksum.Blake3{}, Options{})
	if diff := cmp.Diff(referenceCommands(base, target, 1024), d.Commands); diff != "" {
		t.Fatalf("commands differ from reference (-want +got):\n%s", diff)
	}
	out, res := applyDelta(t, d, base, checksum.Rollsum{}, checksum.Blake3{})
	if !bytes.Equal(out, target) || !res.Verified {
		t.Fatal("round trip failed")
	}
	if s := d.Stats(); s.LiteralBytes >= int64(len(target))/10 {
		t.Errorf("expected mostly copies, got %d literal bytes of %d", s.LiteralBytes, len(target))
	}
}

func TestBuild_MaxLiteralRun(t *testing.T) {
	base := bytes.Repeat([]byte("z"), 64)
	target := []byte(strings.Repeat("0123456789", 5))

	d := buildDelta(t, base, target, 8, checksum.Rollsum{}, checksum.Blake3{}, Options{MaxLiteralRun: 16})
	if len(d.Commands) != 4 {
		t.Fatalf("Expected 4 literal commands, got %d", len(d.Commands))
	}
	for i, c := range d.Commands {
		if c.Op != OpLiteral || len(c.Data) > 16 {
			t.Errorf("command %d = %v, want literal of at most 16 bytes", i, c)
		}
	}
	out, res := applyDelta(t, d, base, checksum.Rollsum{}, checksum.Blake3{})
	if !bytes.Equal(out, target) || !res.Verified {
		t.Error("round trip failed with literal cap")
	}
}

func TestBuild_LiteralsAreIndependent(t *testing.T) {
	// Each literal command must own its bytes.
	base := []byte("0123456789")
	target := []byte("xx01234yy56789zz")
	d := buildDelta(t, base, target, 5, checksum.Rollsum{}, checksum.Blake3{}, Options{})
	d.Commands[0].Data[0] = '!'
	if d.Commands[2].Data[0] != 'y' {
		t.Errorf("literal runs share storage: %q", d.Commands[2].Data)
	}
}

func TestBuild_ReusesHashers(t *testing.T) {
	created := 0
	strong := countingStrong{Strong: checksum.Blake3{}, created: &created}
	base := []byte(strings.Repeat("q", 40))
	set := buildSet(t, base, 4, constantWeak{}, strong)
	b, err := NewBuilder(set, constantWeak{}, strong, Options{})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	created = 0
	if _, err := b.Build(bytes.NewReader([]byte("abcdefgh"))); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// One digest hasher and one window hasher per scan, however many
	// windows are checked against the chain.
	if created != 2 {
		t.Errorf("strong hashers created = %d, want 2", created)
	}
}

func TestNewBuilder_AlgorithmMismatch(t *testing.T) {
	set := buildSet(t, []byte(fixtureBase), 5, checksum.Rollsum{}, checksum.Blake3{})
	if _, err := NewBuilder(set, checksum.Adler32{}, checksum.Blake3{}, Options{}); !errors.Is(err, errs.ErrAlgorithmMismatch) {
		t.Errorf("weak mismatch error = %v", err)
	}
	if _, err := NewBuilder(set, checksum.Rollsum{}, checksum.SHA256{}, Options{}); !errs.IsContractViolation(err) {
		t.Errorf("strong mismatch error = %v", err)
	}
}

func TestStream_SinkErrorStops(t *testing.T) {
	set := buildSet(t, []byte(fixtureBase), 5, checksum.Rollsum{}, checksum.Blake3{})
	b, _ := NewBuilder(set, checksum.Rollsum{}, checksum.Blake3{}, Options{})

	stop := errors.New("sink full")
	calls := 0
	_, _, err := b.Stream(strings.NewReader(fixtureTarget), SinkFunc(func(Command) error {
		calls++
		return stop
	}))
	if !errors.Is(err, stop) {
		t.Errorf("Stream error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("sink called %d times after failing, want 1", calls)
	}
}

func TestStream_ReadErrorPropagates(t *testing.T) {
	set := buildSet(t, []byte(fixtureBase), 5, checksum.Rollsum{}, checksum.Blake3{})
	b, _ := NewBuilder(set, checksum.Rollsum{}, checksum.Blake3{}, Options{})

	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("0123456789abc"), iotest.ErrReader(boom))
	if _, err := b.Build(r); !errors.Is(err, boom) {
		t.Errorf("Build error = %v, want %v", err, boom)
	}
}

func BenchmarkBuild(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	base := make([]byte, 4<<20)
	rng.Read(base)
	target := mutate(rng, base)

	set := buildSet(b, base, 2048, checksum.Rollsum{}, checksum.Blake3{})
	builder, _ := NewBuilder(set, checksum.Rollsum{}, checksum.Blake3{}, Options{})

	b.SetBytes(int64(len(target)))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, err := builder.Build(bytes.NewReader(target)); err != nil {
			b.Fatal(err)
		}
	}
}
