package postings

func (s *Set) binary(o *Set, op func(a, b uint32) uint32) *Set {
	b := o.rawCopy()

	s.mu.Lock()
	a := s.rawLocked()
	n := max(len(a), len(b))
	out := make([]uint32, n)
	for i := range n {
		var x, y uint32
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		out[i] = op(x, y)
	}
	s.mu.Unlock()

	return &Set{kind: KindRaw, words: out}
}

// And returns s ∩ o.
func (s *Set) And(o *Set) *Set {
	return s.binary(o, func(a, b uint32) uint32 { return a & b })
}

// Or returns s ∪ o.
func (s *Set) Or(o *Set) *Set {
	return s.binary(o, func(a, b uint32) uint32 { return a | b })
}

// AndNot returns s \ o.
func (s *Set) AndNot(o *Set) *Set {
	return s.binary(o, func(a, b uint32) uint32 { return a &^ b })
}

// Xor returns the symmetric difference.
func (s *Set) Xor(o *Set) *Set {
	return s.binary(o, func(a, b uint32) uint32 { return a ^ b })
}

// Not returns the offsets in [0, size) that are not members of s.
func (s *Set) Not(size int) *Set {
	return Fill(size).AndNot(s)
}

// OrWith adds every member of o to s in place.
func (s *Set) OrWith(o *Set) {
	b := o.rawCopy()

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.rawLocked()
	if len(b) > len(a) {
		a = append(a, make([]uint32, len(b)-len(a))...)
		s.words = a
	}
	for i, w := range b {
		a[i] |= w
	}
	s.dirty = true
}
