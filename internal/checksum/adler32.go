package checksum

import "hash/adler32"

// Adler32ID identifies the rolling Adler-32 checksum.
const Adler32ID = "adler32"

// largest prime below 2^16, as in RFC 1950
const adlerMod = 65521

func init() {
	RegisterWeak(Adler32{})
}

// Adler32 is Adler-32 with a constant-time roll. Checksum agrees with
// hash/adler32 for the same window.
type Adler32 struct{}

var _ Weak = Adler32{}

func (Adler32) ID() string {
	return Adler32ID
}

func (Adler32) Checksum(window []byte) uint32 {
	return adler32.Checksum(window)
}

func (Adler32) Roll(sum uint32, n int, out, in byte) uint32 {
	a := sum & 0xffff
	b := sum >> 16

	a = (a + adlerMod - uint32(out) + uint32(in)) % adlerMod
	nOut := uint32(n%adlerMod) * uint32(out) % adlerMod
	// a was seeded with 1, so every byte of b carries an extra 1 that
	// must not be counted twice.
	b = (b + 2*adlerMod - nOut + a - 1) % adlerMod

	return b<<16 | a
}
