// Package geo holds the geographic helpers used while importing a feed:
// the running bounding box of an agency and planar-to-WGS84 projections.
package geo

// Point is a [lon, lat] pair.
type Point [2]float64

// Bounds is the running southwest/northeast extent of a set of points.
// The zero value is empty.
type Bounds struct {
	SW    Point
	NE    Point
	count int
}

// Extend returns b grown to include p. The first point seeds both corners.
func Extend(b Bounds, p Point) Bounds {
	if b.count == 0 {
		return Bounds{SW: p, NE: p, count: 1}
	}
	for i := 0; i < 2; i++ {
		if p[i] < b.SW[i] {
			b.SW[i] = p[i]
		}
		if p[i] > b.NE[i] {
			b.NE[i] = p[i]
		}
	}
	b.count++
	return b
}

// Empty reports whether no point has been added.
func (b Bounds) Empty() bool {
	return b.count == 0
}

// Count is the number of points folded into b.
func (b Bounds) Count() int {
	return b.count
}

// Center returns the midpoint of the two corners. ok is false for empty
// bounds, in which case the returned point is meaningless.
func Center(b Bounds) (p Point, ok bool) {
	if b.count == 0 {
		return Point{}, false
	}
	return Point{
		(b.SW[0] + b.NE[0]) / 2,
		(b.SW[1] + b.NE[1]) / 2,
	}, true
}

// Document renders b the way it is persisted on the agency record: two
// [lon, lat] arrays, both empty when no point was seen.
func (b Bounds) Document() map[string]interface{} {
	if b.count == 0 {
		return map[string]interface{}{"sw": []float64{}, "ne": []float64{}}
	}
	return map[string]interface{}{
		"sw": []float64{b.SW[0], b.SW[1]},
		"ne": []float64{b.NE[0], b.NE[1]},
	}
}
