// Package analytics computes per-tracked-object zone dwell times and
// directional line crossings from detection streams.
package analytics

// Point is a position in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone is a named polygonal region. The polygon is implicitly closed
// (last vertex connects back to the first) and must have at least 3 vertices.
type Zone struct {
	Name    string  `json:"name"`
	Polygon []Point `json:"polygon"`
}

// Line is a named directed segment from A to B. Crossings from the right
// side of the direction of travel to the left count as "in", the reverse
// as "out".
type Line struct {
	Name string `json:"name"`
	A    Point  `json:"a"`
	B    Point  `json:"b"`
}

// pointInPolygon is the even-odd ray casting test. Points exactly on an
// edge may land on either side; zone membership at the boundary is not
// guaranteed stable and the dwell state machine tolerates that.
func pointInPolygon(p Point, poly []Point) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			x := pi.X + (p.Y-pi.Y)/(pj.Y-pi.Y)*(pj.X-pi.X)
			if p.X < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// lineSide returns the sign of the 2D cross product of (B-A) × (P-A):
// +1 when p is left of the directed segment, -1 when right, 0 when exactly
// collinear. Zero means "no observation" to the crossing state machine.
func lineSide(l Line, p Point) int {
	cross := (l.B.X-l.A.X)*(p.Y-l.A.Y) - (l.B.Y-l.A.Y)*(p.X-l.A.X)
	switch {
	case cross > 0:
		return 1
	case cross < 0:
		return -1
	default:
		return 0
	}
}
