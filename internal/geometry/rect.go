// internal/geometry/rect.go
package geometry

import "math"

// Rect is an axis-aligned bounding box in page coordinates, as reported by
// the host for an element.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Empty reports whether the box has no area. Hidden elements report empty boxes.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether p lies inside the box, edges included.
func (r Rect) Contains(p Vector2D) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// DistanceTo returns the Euclidean distance from p to the closest point of the
// box. It is 0 when p is inside.
func (r Rect) DistanceTo(p Vector2D) float64 {
	dx := math.Max(0, math.Max(r.X-p.X, p.X-r.Right()))
	dy := math.Max(0, math.Max(r.Y-p.Y, p.Y-r.Bottom()))
	return math.Hypot(dx, dy)
}

// NearestDistance returns the smallest distance from p to any non-empty box.
// The boolean is false when there is no candidate box.
func NearestDistance(p Vector2D, boxes []Rect) (float64, bool) {
	best, found := math.Inf(1), false
	for _, b := range boxes {
		if b.Empty() {
			continue
		}
		if d := b.DistanceTo(p); d < best {
			best, found = d, true
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}
