package match

import (
	"math"
)

// Locator addresses one attribute slot of a match.
type Locator struct {
	Idx  int
	Blob bool
}

var InvalidLocator = Locator{Idx: -1}

func (loc Locator) Valid() bool {
	return loc.Idx >= 0
}

// Match is one candidate row. Scalars are stored inline, ints as int64
// bits and floats as float64 bits. Blob attributes hold a BlobPool handle.
type Match struct {
	RowID  uint64
	Weight int32
	Tag    int32
	Attrs  []uint64
}

func (m *Match) GetAttr(loc Locator) uint64 {
	return m.Attrs[loc.Idx]
}

func (m *Match) SetAttr(loc Locator, v uint64) {
	m.Attrs[loc.Idx] = v
}

func (m *Match) GetInt(loc Locator) int64 {
	return int64(m.Attrs[loc.Idx])
}

func (m *Match) SetInt(loc Locator, v int64) {
	m.Attrs[loc.Idx] = uint64(v)
}

func (m *Match) AddInt(loc Locator, v int64) {
	m.Attrs[loc.Idx] = uint64(int64(m.Attrs[loc.Idx]) + v)
}

func (m *Match) GetFloat(loc Locator) float64 {
	return math.Float64frombits(m.Attrs[loc.Idx])
}

func (m *Match) SetFloat(loc Locator, v float64) {
	m.Attrs[loc.Idx] = math.Float64bits(v)
}

// Reset clears the match for a schema with n attributes.
func (m *Match) Reset(n int) {
	m.RowID = 0
	m.Weight = 0
	m.Tag = 0
	if cap(m.Attrs) >= n {
		m.Attrs = m.Attrs[:n]
		clear(m.Attrs)
	} else {
		m.Attrs = make([]uint64, n)
	}
}

// Empty reports whether m holds no row. Used for slots of the arenas.
func (m *Match) Empty() bool {
	return m.Attrs == nil
}
