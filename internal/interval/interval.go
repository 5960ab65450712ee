package interval

import "sort"

// Span is a half-open [Start, End) range of minutes from local midnight.
// A Span with End <= Start is empty.
type Span struct {
	Start int
	End   int
}

func (s Span) Empty() bool {
	return s.End <= s.Start
}

func (s Span) Length() int {
	if s.Empty() {
		return 0
	}
	return s.End - s.Start
}

// Overlaps reports whether two half-open spans intersect. Spans that merely
// touch at a boundary do not overlap.
func Overlaps(a, b Span) bool {
	return a.Start < b.End && b.Start < a.End
}

// Subtract returns the parts of base not covered by any span in cut.
// Base spans are assumed sorted and non-overlapping; cut spans may arrive in
// any order and may overlap each other. The result is sorted, disjoint, and
// contains no empty spans.
func Subtract(base, cut []Span) []Span {
	busy := make([]Span, 0, len(cut))
	for _, c := range cut {
		if !c.Empty() {
			busy = append(busy, c)
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start < busy[j].Start })

	var free []Span
	for _, b := range base {
		if b.Empty() {
			continue
		}
		cur := b.Start
		for _, c := range busy {
			if cur >= b.End {
				break
			}
			if !Overlaps(b, c) {
				continue
			}
			if cur < c.Start {
				free = append(free, Span{Start: cur, End: c.Start})
			}
			if c.End > cur {
				cur = c.End
			}
		}
		if cur < b.End {
			free = append(free, Span{Start: cur, End: b.End})
		}
	}
	return free
}

// Total returns the summed length of the given spans.
func Total(spans []Span) int {
	total := 0
	for _, s := range spans {
		total += s.Length()
	}
	return total
}
