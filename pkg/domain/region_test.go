package domain

import "testing"

func TestNewRegionNormalizes(t *testing.T) {
	r := NewRegion(
		Span{Y: 2, X0: 5, X1: 8},
		Span{Y: 1, X0: 0, X1: 3},
		Span{Y: 2, X0: 0, X1: 5},
		Span{Y: 1, X0: 2, X1: 4},
		Span{Y: 3, X0: 4, X1: 4},
	)
	want := []Span{{Y: 1, X0: 0, X1: 4}, {Y: 2, X0: 0, X1: 8}}
	got := r.Spans()
	if len(got) != len(want) {
		t.Fatalf("expected %d spans, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("span %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if r.Area() != 12 {
		t.Fatalf("expected area 12, got %d", r.Area())
	}
	if bbox := r.BBox(); bbox != (Box{X0: 0, Y0: 1, X1: 8, Y1: 3}) {
		t.Fatalf("unexpected bbox %+v", bbox)
	}
}

func TestRegionContains(t *testing.T) {
	r := NewRegion(Span{Y: 0, X0: 0, X1: 2}, Span{Y: 0, X0: 5, X1: 7}, Span{Y: 4, X0: 1, X1: 2})
	cases := []struct {
		x, y int
		want bool
	}{
		{0, 0, true},
		{1, 0, true},
		{2, 0, false},
		{5, 0, true},
		{7, 0, false},
		{1, 4, true},
		{1, 3, false},
		{-1, 0, false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.x, tc.y); got != tc.want {
			t.Errorf("Contains(%d,%d) = %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestRegionIntersectAndSubset(t *testing.T) {
	a := BoxRegion(Box{X0: 0, Y0: 0, X1: 4, Y1: 4})
	b := BoxRegion(Box{X0: 2, Y0: 2, X1: 6, Y1: 6})
	inter := a.Intersect(b)
	if !inter.Equal(BoxRegion(Box{X0: 2, Y0: 2, X1: 4, Y1: 4})) {
		t.Fatalf("unexpected intersection %+v", inter.Spans())
	}
	if !a.ContainsRegion(inter) || !b.ContainsRegion(inter) {
		t.Fatalf("intersection must be a subset of both operands")
	}
	if a.ContainsRegion(b) {
		t.Fatalf("a does not contain b")
	}
	if !a.ContainsRegion(Region{}) {
		t.Fatalf("every region contains the empty region")
	}
	if got := a.IntersectBox(Box{X0: 3, Y0: 0, X1: 10, Y1: 1}); got.Area() != 1 {
		t.Fatalf("expected single pixel, got %+v", got.Spans())
	}
	split := NewRegion(Span{Y: 0, X0: 0, X1: 1}, Span{Y: 0, X0: 3, X1: 4})
	if !a.ContainsRegion(split) || split.ContainsRegion(a) {
		t.Fatalf("subset checks must handle gaps")
	}
}

func TestBoxIntersectEmpty(t *testing.T) {
	a := Box{X0: 0, Y0: 0, X1: 2, Y1: 2}
	if got := a.Intersect(Box{X0: 5, Y0: 5, X1: 6, Y1: 6}); !got.Empty() || got != (Box{}) {
		t.Fatalf("expected empty box, got %+v", got)
	}
	if !BoxRegion(Box{X0: 1, Y0: 1, X1: 1, Y1: 3}).Empty() {
		t.Fatalf("zero-width box must produce an empty region")
	}
}
