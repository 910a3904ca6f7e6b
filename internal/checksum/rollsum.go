package checksum

// RollsumID identifies the rsync rolling checksum.
const RollsumID = "rollsum"

func init() {
	RegisterWeak(Rollsum{})
}

// Rollsum is the rolling checksum from the rsync technical report: two
// 16-bit sums, a plain byte sum in the low half and a position weighted
// sum in the high half.
type Rollsum struct{}

var _ Weak = Rollsum{}

func (Rollsum) ID() string {
	return RollsumID
}

func (Rollsum) Checksum(window []byte) uint32 {
	var a, b uint16
	n := len(window)
	for i, x := range window {
		a += uint16(x)
		b += uint16(n-i) * uint16(x)
	}
	return uint32(a) | uint32(b)<<16
}

func (Rollsum) Roll(sum uint32, n int, out, in byte) uint32 {
	a := uint16(sum)
	b := uint16(sum >> 16)
	a = a - uint16(out) + uint16(in)
	b = b - uint16(n)*uint16(out) + a
	return uint32(a) | uint32(b)<<16
}
