package domain

import "sort"

// Box is a half-open pixel rectangle [X0,X1) x [Y0,Y1).
type Box struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Width returns the number of columns.
func (b Box) Width() int {
	if b.X1 <= b.X0 {
		return 0
	}
	return b.X1 - b.X0
}

// Height returns the number of rows.
func (b Box) Height() int {
	if b.Y1 <= b.Y0 {
		return 0
	}
	return b.Y1 - b.Y0
}

// Area returns the pixel count.
func (b Box) Area() int { return b.Width() * b.Height() }

// Empty reports whether the box holds no pixels.
func (b Box) Empty() bool { return b.Area() == 0 }

// Contains reports whether pixel (x, y) lies inside the box.
func (b Box) Contains(x, y int) bool {
	return x >= b.X0 && x < b.X1 && y >= b.Y0 && y < b.Y1
}

// Intersect returns the overlap of two boxes.
func (b Box) Intersect(other Box) Box {
	out := Box{
		X0: max(b.X0, other.X0),
		Y0: max(b.Y0, other.Y0),
		X1: min(b.X1, other.X1),
		Y1: min(b.Y1, other.Y1),
	}
	if out.Empty() {
		return Box{}
	}
	return out
}

// Span is a half-open run of pixels [X0,X1) on row Y.
type Span struct {
	Y  int `json:"y"`
	X0 int `json:"x0"`
	X1 int `json:"x1"`
}

// Region is a normalized span set: spans are sorted by row then column,
// non-empty, and never overlap or touch within a row.
type Region struct {
	spans []Span
}

// NewRegion normalizes the supplied spans into a Region.
func NewRegion(spans ...Span) Region {
	if len(spans) == 0 {
		return Region{}
	}
	sorted := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.X1 > s.X0 {
			sorted = append(sorted, s)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Y == sorted[j].Y {
			return sorted[i].X0 < sorted[j].X0
		}
		return sorted[i].Y < sorted[j].Y
	})
	merged := make([]Span, 0, len(sorted))
	for _, s := range sorted {
		if n := len(merged); n > 0 && merged[n-1].Y == s.Y && s.X0 <= merged[n-1].X1 {
			if s.X1 > merged[n-1].X1 {
				merged[n-1].X1 = s.X1
			}
			continue
		}
		merged = append(merged, s)
	}
	return Region{spans: merged}
}

// BoxRegion returns the region covering every pixel of b.
func BoxRegion(b Box) Region {
	if b.Empty() {
		return Region{}
	}
	spans := make([]Span, 0, b.Height())
	for y := b.Y0; y < b.Y1; y++ {
		spans = append(spans, Span{Y: y, X0: b.X0, X1: b.X1})
	}
	return Region{spans: spans}
}

// Spans returns a copy of the normalized spans.
func (r Region) Spans() []Span {
	return append([]Span(nil), r.spans...)
}

// Empty reports whether the region holds no pixels.
func (r Region) Empty() bool { return len(r.spans) == 0 }

// Area returns the pixel count.
func (r Region) Area() int {
	total := 0
	for _, s := range r.spans {
		total += s.X1 - s.X0
	}
	return total
}

// BBox returns the smallest box enclosing the region.
func (r Region) BBox() Box {
	if len(r.spans) == 0 {
		return Box{}
	}
	b := Box{X0: r.spans[0].X0, Y0: r.spans[0].Y, X1: r.spans[0].X1, Y1: r.spans[len(r.spans)-1].Y + 1}
	for _, s := range r.spans[1:] {
		b.X0 = min(b.X0, s.X0)
		b.X1 = max(b.X1, s.X1)
	}
	return b
}

// Contains reports whether pixel (x, y) belongs to the region.
func (r Region) Contains(x, y int) bool {
	i := sort.Search(len(r.spans), func(i int) bool {
		s := r.spans[i]
		return s.Y > y || (s.Y == y && s.X1 > x)
	})
	return i < len(r.spans) && r.spans[i].Y == y && r.spans[i].X0 <= x
}

// Intersect returns the pixels present in both regions.
func (r Region) Intersect(other Region) Region {
	a, b := r.spans, other.spans
	var out []Span
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Y < b[j].Y:
			i++
		case b[j].Y < a[i].Y:
			j++
		default:
			lo := max(a[i].X0, b[j].X0)
			hi := min(a[i].X1, b[j].X1)
			if lo < hi {
				out = append(out, Span{Y: a[i].Y, X0: lo, X1: hi})
			}
			if a[i].X1 < b[j].X1 {
				i++
			} else {
				j++
			}
		}
	}
	return Region{spans: out}
}

// IntersectBox clips the region to a box.
func (r Region) IntersectBox(b Box) Region {
	return r.Intersect(BoxRegion(b))
}

// ContainsRegion reports whether other is a subset of r.
func (r Region) ContainsRegion(other Region) bool {
	return r.Intersect(other).Equal(other)
}

// Equal reports whether both regions cover the same pixels.
func (r Region) Equal(other Region) bool {
	if len(r.spans) != len(other.spans) {
		return false
	}
	for i := range r.spans {
		if r.spans[i] != other.spans[i] {
			return false
		}
	}
	return true
}
