package permission

// Mask64 is a fixed 64-bit permission set.
type Mask64 uint64

// Has reports whether bit is set. With rootReserved, the highest bit grants
// every permission.
func (m Mask64) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= MaxBits {
		return false
	}
	if rootReserved && m&(1<<(MaxBits-1)) != 0 {
		return true
	}
	return m&(1<<bit) != 0
}

func (m *Mask64) Set(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	*m |= 1 << bit
}

func (m *Mask64) Clear(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	*m &^= 1 << bit
}

func (m Mask64) Raw() uint64 {
	return uint64(m)
}
