// internal/geometry/vector.go
package geometry

import "math"

// Vector2D represents a point or displacement in page coordinates (CSS pixels).
// Pointer samples, click positions and pointer deltas all use it.
type Vector2D struct {
	// X is the horizontal component, growing to the right.
	X float64 `json:"x"`
	// Y is the vertical component, growing downwards.
	Y float64 `json:"y"`
}

// zeroEpsilon is the magnitude below which a vector is treated as zero length.
const zeroEpsilon = 1e-9

// Add performs vector addition, returning `v + other`.
func (v Vector2D) Add(other Vector2D) Vector2D {
	return Vector2D{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub performs vector subtraction, returning `v - other`.
func (v Vector2D) Sub(other Vector2D) Vector2D {
	return Vector2D{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul performs scalar multiplication, returning `v * scalar`.
func (v Vector2D) Mul(scalar float64) Vector2D {
	return Vector2D{X: v.X * scalar, Y: v.Y * scalar}
}

// Dot calculates the dot product of `v` and `other`.
func (v Vector2D) Dot(other Vector2D) float64 {
	return v.X*other.X + v.Y*other.Y
}

// MagSq calculates the squared magnitude `|v|^2`. Radius checks use it to
// avoid the square root.
func (v Vector2D) MagSq() float64 {
	return v.X*v.X + v.Y*v.Y
}

// Mag calculates the Euclidean length of the vector.
func (v Vector2D) Mag() float64 {
	return math.Hypot(v.X, v.Y)
}

// Dist calculates the Euclidean distance between the points `v` and `other`.
func (v Vector2D) Dist(other Vector2D) float64 {
	return math.Hypot(v.X-other.X, v.Y-other.Y)
}

// Within reports whether `other` lies within `radius` of `v` (inclusive).
func (v Vector2D) Within(other Vector2D, radius float64) bool {
	return v.Sub(other).MagSq() <= radius*radius
}

// AngleBetween returns the unsigned angle in radians, in [0, Pi], between two
// displacement vectors. When either vector is zero length the angle is 0, so
// stationary samples never produce NaN.
func AngleBetween(a, b Vector2D) float64 {
	magA, magB := a.Mag(), b.Mag()
	if magA < zeroEpsilon || magB < zeroEpsilon {
		return 0
	}
	cos := a.Dot(b) / (magA * magB)
	// Rounding can push the cosine fractionally outside [-1, 1].
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}
