package permission

// mask is a growable bitset, one bit per registered permission. The zero
// value is an empty set.
type mask []uint64

func (m *mask) set(bit int) {
	if bit < 0 {
		return
	}
	word := bit / 64
	for len(*m) <= word {
		*m = append(*m, 0)
	}
	(*m)[word] |= 1 << (bit % 64)
}

func (m mask) has(bit int) bool {
	if bit < 0 {
		return false
	}
	word := bit / 64
	return word < len(m) && m[word]&(1<<(bit%64)) != 0
}

func (m *mask) union(other mask) {
	for len(*m) < len(other) {
		*m = append(*m, 0)
	}
	for i, w := range other {
		(*m)[i] |= w
	}
}
