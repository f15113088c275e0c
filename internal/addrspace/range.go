package addrspace

import "fmt"

// Range is a half-open interval [Start, End) of virtual addresses.
// A point query is represented as the empty range [a, a).
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func NewRange(start, end uint64) Range {
	return Range{Start: start, End: end}
}

// Point returns the single-point query range [addr, addr).
func Point(addr uint64) Range {
	return Range{Start: addr, End: addr}
}

func (r Range) IsPoint() bool {
	return r.Start == r.End
}

func (r Range) Length() uint64 {
	return r.End - r.Start
}

func (r Range) ContainsPoint(addr uint64) bool {
	return r.Start <= addr && addr < r.End
}

// Overlaps reports whether two ranges intersect. A point query
// intersects any range containing its address.
func (r Range) Overlaps(o Range) bool {
	if r.IsPoint() {
		return o.ContainsPoint(r.Start)
	}
	if o.IsPoint() {
		return r.ContainsPoint(o.Start)
	}
	return r.Start < o.End && o.Start < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}
