package court

import (
	"math"

	"github.com/courtkit/rotation/pkg/core"
)

// COURT SPACE
// All rule comparisons run in court space: meters over one team's half of a
// regulation court. Screen pixels are converted at the boundary and never
// reach the rules or constraint code.

// Court geometry, meters.
const (
	Width  = 9.0
	Length = 9.0

	// ServiceZoneDepth extends the playable area behind the endline for
	// the player preparing to serve.
	ServiceZoneDepth = 2.0

	// Tolerance absorbs floating-point and pixel-rounding noise in every
	// boundary comparison. One pixel at the default screen scale is
	// 0.025 m, just under one tolerance step.
	Tolerance = 0.03
)

// Orientation convention, fixed once for the whole engine: the net lies
// along y = NetY and y grows toward the endline, so "in front of" means
// smaller y. x grows from the left sideline as seen from behind the
// serving team, so "left of" means smaller x. Every comparison, snap and
// constraint half-plane agrees with these four constants.
const (
	NetY           = 0.0
	EndlineY       = Length
	LeftSidelineX  = 0.0
	RightSidelineX = Width
)

// Bound selects which side of an interval ApplyTolerance relaxes.
type Bound int

const (
	BoundMin Bound = iota
	BoundMax
)

// ApplyTolerance relaxes a raw boundary value by the tolerance epsilon so
// that a point sitting exactly on the boundary is accepted.
func ApplyTolerance(value float64, bound Bound) float64 {
	if bound == BoundMin {
		return value - Tolerance
	}
	return value + Tolerance
}

// WithinRange reports whether value lies in [min-ε, max+ε]. Callers pass
// raw bounds: the epsilon is applied here, exactly once, and bounds that
// were already adjusted by ApplyTolerance must not be passed in.
func WithinRange(value, min, max float64) bool {
	return value >= min-Tolerance && value <= max+Tolerance
}

// PointsEqual reports whether two points differ by at most the tolerance
// on both axes.
func PointsEqual(a, b core.CourtPosition) bool {
	return math.Abs(a.X-b.X) <= Tolerance && math.Abs(a.Y-b.Y) <= Tolerance
}

// IsFinite reports whether v is an ordinary number.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IsValidPosition reports whether p lies on the court, within tolerance of
// its boundaries. With allowServiceZone the accepted area extends behind
// the endline by ServiceZoneDepth.
func IsValidPosition(p core.CourtPosition, allowServiceZone bool) bool {
	maxY := EndlineY
	if allowServiceZone {
		maxY += ServiceZoneDepth
	}
	return WithinRange(p.X, LeftSidelineX, RightSidelineX) && WithinRange(p.Y, NetY, maxY)
}

// NormalizeCoordinates clamps an out-of-range point to the nearest legal
// boundary. When the service zone is allowed its outer edge takes
// precedence over the endline. Non-finite components collapse to the near
// corner so a broken input can never escape the court.
func NormalizeCoordinates(p core.CourtPosition, allowServiceZone bool) core.CourtPosition {
	if !IsFinite(p.X) {
		p.X = LeftSidelineX
	}
	if !IsFinite(p.Y) {
		p.Y = NetY
	}
	maxY := EndlineY
	if allowServiceZone {
		maxY += ServiceZoneDepth
	}
	if p.X < LeftSidelineX {
		p.X = LeftSidelineX
	} else if p.X > RightSidelineX {
		p.X = RightSidelineX
	}
	if p.Y < NetY {
		p.Y = NetY
	} else if p.Y > maxY {
		p.Y = maxY
	}
	return p
}

// Distance returns the Euclidean distance between two court points.
func Distance(a, b core.CourtPosition) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// FullCourt returns the unconstrained rectangle covering the whole court.
func FullCourt() core.PositionBounds {
	return core.PositionBounds{
		MinX: LeftSidelineX,
		MaxX: RightSidelineX,
		MinY: NetY,
		MaxY: EndlineY,
	}
}
