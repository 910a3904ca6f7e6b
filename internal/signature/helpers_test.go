package signature

// CandidateList collects Candidates into a slice.
func (s *BlockedHashSet) CandidateList(weak uint32) []int {
	var out []int
	for i := range s.Candidates(weak) {
		out = append(out, i)
	}
	return out
}

// WeakChecksum returns the weak checksum of block index.
func (s *BlockedHashSet) WeakChecksum(index int) uint32 {
	s.checkIndex(index)
	return s.weaks[index]
}
