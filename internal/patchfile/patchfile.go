// Package patchfile persists deltas. A patch file is an envelope around a
// delta.Delta, written as indented JSON or as CBOR.
package patchfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/quantarax/deltasync/internal/delta"
	"github.com/quantarax/deltasync/internal/errs"
)

// Version is the current envelope version.
const Version = 1

// Format selects the on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat accepts "json" or "cbor".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCBOR:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported patch format %q", s)
}

// Envelope wraps a delta with identifying metadata.
type Envelope struct {
	Version   int          `json:"version"`
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Delta     *delta.Delta `json:"delta"`
}

// New wraps d in an envelope with a fresh id.
func New(d *delta.Delta) *Envelope {
	return &Envelope{
		Version:   Version,
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Delta:     d,
	}
}

var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	cborEncMode, err = opts.EncMode()
	if err != nil {
		panic("patchfile: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("patchfile: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode writes env to w in the given format.
func Encode(w io.Writer, format Format, env *Envelope) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(env); err != nil {
			return fmt.Errorf("encoding JSON patch: %w", err)
		}
	case FormatCBOR:
		if err := cborEncMode.NewEncoder(w).Encode(env); err != nil {
			return fmt.Errorf("encoding CBOR patch: %w", err)
		}
	default:
		return fmt.Errorf("unsupported patch format %q", format)
	}
	return nil
}

// Decode reads one envelope from r, detecting the format from its first
// significant byte, and validates the delta inside.
func Decode(r io.Reader) (*Envelope, Format, error) {
	br := bufio.NewReader(r)
	format, err := sniff(br)
	if err != nil {
		return nil, "", err
	}

	var env Envelope
	switch format {
	case FormatJSON:
		err = json.NewDecoder(br).Decode(&env)
	case FormatCBOR:
		err = cborDecMode.NewDecoder(br).Decode(&env)
	}
	if err != nil {
		return nil, format, fmt.Errorf("%w: decoding %s patch: %v", errs.ErrMalformedDelta, format, err)
	}

	if env.Version != Version {
		return nil, format, fmt.Errorf("%w: patch version %d, want %d", errs.ErrMalformedDelta, env.Version, Version)
	}
	if env.Delta == nil {
		return nil, format, fmt.Errorf("%w: patch carries no delta", errs.ErrMalformedDelta)
	}
	if err := env.Delta.Validate(); err != nil {
		return nil, format, err
	}
	return &env, format, nil
}

// sniff peeks past leading whitespace: JSON envelopes open with '{', a CBOR
// map opens with a major type 5 byte.
func sniff(br *bufio.Reader) (Format, error) {
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return "", fmt.Errorf("%w: empty patch", errs.ErrMalformedDelta)
		}
		if err != nil {
			return "", err
		}
		switch {
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			continue
		case b == '{':
			return FormatJSON, br.UnreadByte()
		case b>>5 == 5:
			return FormatCBOR, br.UnreadByte()
		default:
			return "", fmt.Errorf("%w: unrecognized patch encoding (first byte 0x%02x)", errs.ErrMalformedDelta, b)
		}
	}
}
