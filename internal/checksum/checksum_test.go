package checksum

import (
	"bytes"
	"errors"
	"hash/adler32"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quantarax/deltasync/internal/errs"
)

func randomBytes(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	rng.Read(buf)
	return buf
}

func TestWeak_RollMatchesRecompute(t *testing.T) {
	data := randomBytes(1, 4096)

	for _, weak := range []Weak{Rollsum{}, Adler32{}} {
		for _, n := range []int{1, 2, 5, 64, 1000} {
			w := NewWindow(weak, data[:n])
			for i := 1; i+n <= len(data); i++ {
				w.Roll(data[i-1], data[i+n-1])
				want := weak.Checksum(data[i : i+n])
				if w.Sum() != want {
					t.Fatalf("%s n=%d offset %d: rolled %08x, recomputed %08x", weak.ID(), n, i, w.Sum(), want)
				}
			}
		}
	}
}

func TestWeak_RollAllHighBytes(t *testing.T) {
	// Worst case for modular underflow in the roll.
	data := bytes.Repeat([]byte{0xff}, 300)
	data = append(data, bytes.Repeat([]byte{0x00}, 300)...)

	for _, weak := range []Weak{Rollsum{}, Adler32{}} {
		n := 257
		w := NewWindow(weak, data[:n])
		for i := 1; i+n <= len(data); i++ {
			w.Roll(data[i-1], data[i+n-1])
			if want := weak.Checksum(data[i : i+n]); w.Sum() != want {
				t.Fatalf("%s offset %d: rolled %08x, recomputed %08x", weak.ID(), i, w.Sum(), want)
			}
		}
	}
}

func TestAdler32_AgreesWithStdlib(t *testing.T) {
	data := randomBytes(2, 777)
	if got, want := (Adler32{}).Checksum(data), adler32.Checksum(data); got != want {
		t.Errorf("Checksum = %08x, want %08x", got, want)
	}
}

func TestWeak_WindowLengthSensitive(t *testing.T) {
	data := []byte("abcdefgh")
	for _, weak := range []Weak{Rollsum{}, Adler32{}} {
		w := NewWindow(weak, data[:4])
		if w.Len() != 4 {
			t.Fatalf("Len = %d, want 4", w.Len())
		}
		// Rolling with the wrong length gives a different checksum.
		wrong := weak.Roll(weak.Checksum(data[:4]), 5, data[0], data[4])
		if wrong == weak.Checksum(data[1:5]) {
			t.Errorf("%s: roll accepted a mismatched window length", weak.ID())
		}
	}
}

func TestRollsum_KnownCollision(t *testing.T) {
	// Same byte sum and same weighted sum, different content.
	a := Rollsum{}.Checksum([]byte("aca"))
	b := Rollsum{}.Checksum([]byte("bab"))
	if a != b {
		t.Fatalf("expected collision, got %08x and %08x", a, b)
	}
}

func TestStrong_Providers(t *testing.T) {
	for _, s := range []Strong{Blake3{}, SHA256{}} {
		sum := Sum(s, []byte("hello"))
		if len(sum) != s.Size() {
			t.Errorf("%s: digest length %d, want %d", s.ID(), len(sum), s.Size())
		}
		if bytes.Equal(sum, Sum(s, []byte("hellp"))) {
			t.Errorf("%s: distinct inputs hashed equal", s.ID())
		}
		h := s.New()
		h.Write([]byte("hel"))
		h.Write([]byte("lo"))
		if !bytes.Equal(h.Sum(nil), sum) {
			t.Errorf("%s: streamed digest differs from one-shot", s.ID())
		}
	}
}

func TestRegistry(t *testing.T) {
	if diff := cmp.Diff([]string{Adler32ID, RollsumID}, WeakIDs()); diff != "" {
		t.Errorf("WeakIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{Blake3ID, SHA256ID}, StrongIDs()); diff != "" {
		t.Errorf("StrongIDs mismatch (-want +got):\n%s", diff)
	}

	w, err := LookupWeak(RollsumID)
	if err != nil || w.ID() != RollsumID {
		t.Fatalf("LookupWeak(%q) = %v, %v", RollsumID, w, err)
	}
	if _, err := LookupWeak("crc32"); !errors.Is(err, errs.ErrUnknownAlgorithm) {
		t.Errorf("LookupWeak(crc32) error = %v, want ErrUnknownAlgorithm", err)
	}
	if _, err := LookupStrong("md4"); !errs.IsContractViolation(err) {
		t.Errorf("LookupStrong(md4) error = %v, want contract violation", err)
	}
}

func TestCheckIDs(t *testing.T) {
	if err := CheckIDs(RollsumID, Blake3ID, Rollsum{}, Blake3{}); err != nil {
		t.Fatalf("CheckIDs matching: %v", err)
	}
	if err := CheckIDs(Adler32ID, Blake3ID, Rollsum{}, Blake3{}); !errors.Is(err, errs.ErrAlgorithmMismatch) {
		t.Errorf("weak mismatch error = %v", err)
	}
	if err := CheckIDs(RollsumID, SHA256ID, Rollsum{}, Blake3{}); !errors.Is(err, errs.ErrAlgorithmMismatch) {
		t.Errorf("strong mismatch error = %v", err)
	}
}

func BenchmarkRollsumRoll(b *testing.B) {
	data := randomBytes(3, 1<<20)
	n := 2048
	b.SetBytes(int64(len(data) - n))
	for i := 0; i < b.N; i++ {
		w := NewWindow(Rollsum{}, data[:n])
		for j := n; j < len(data); j++ {
			w.Roll(data[j-n], data[j])
		}
	}
}
