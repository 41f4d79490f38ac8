// pkg/core/validation.go
package core

// ViolationCode classifies a rule breach.
type ViolationCode string

const (
	// ViolationRowOrder is a left-right ordering breach within a row.
	ViolationRowOrder ViolationCode = "ROW_ORDER"
	// ViolationColumnOrder is a front-back ordering breach within a column.
	ViolationColumnOrder ViolationCode = "COLUMN_ORDER"
	// ViolationLineup is a malformed lineup: wrong slot count, duplicate
	// slots, or a slot outside 1-6.
	ViolationLineup ViolationCode = "MALFORMED_LINEUP"
	// ViolationCoordinate is a position that could not be interpreted,
	// such as a NaN or infinite coordinate.
	ViolationCoordinate ViolationCode = "BAD_COORDINATE"
)

// Violation names one breach and the slots jointly responsible for it.
type Violation struct {
	Code    ViolationCode `json:"code"`
	Message string        `json:"message"`
	Slots   []Slot        `json:"slots"`
}

// ValidationResult is the outcome of checking a full lineup.
type ValidationResult struct {
	IsLegal    bool        `json:"isLegal"`
	Violations []Violation `json:"violations"`
}

// PositionBounds is the axis-aligned rectangle of legal positions for one
// player. IsConstrained is false when no neighbor narrowed the full court;
// Reasons carries one human-readable cause per narrowed edge.
type PositionBounds struct {
	MinX          float64  `json:"minX"`
	MaxX          float64  `json:"maxX"`
	MinY          float64  `json:"minY"`
	MaxY          float64  `json:"maxY"`
	IsConstrained bool     `json:"isConstrained"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Contains reports whether p lies inside the rectangle, boundary included.
func (b PositionBounds) Contains(p CourtPosition) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Clamp returns p moved to the nearest point inside the rectangle.
func (b PositionBounds) Clamp(p CourtPosition) CourtPosition {
	if p.X < b.MinX {
		p.X = b.MinX
	} else if p.X > b.MaxX {
		p.X = b.MaxX
	}
	if p.Y < b.MinY {
		p.Y = b.MinY
	} else if p.Y > b.MaxY {
		p.Y = b.MaxY
	}
	return p
}
