package court

import (
	"errors"

	"github.com/courtkit/rotation/pkg/core"
)

// DefaultScale is the default screen resolution in pixels per meter.
const DefaultScale = 40.0

// ErrInvalidScale is returned when a transformer is built with a scale
// that is zero, negative or not finite.
var ErrInvalidScale = errors.New("invalid screen scale")

// Transformer maps between UI pixel space and court meter space with a
// fixed linear scale: court = (screen - offset) / scale. The screen
// top-left corner maps to the court's near-left corner at the net, so
// both spaces share the orientation convention of this package.
type Transformer struct {
	scale   float64 // pixels per meter
	offsetX float64 // screen x of the left sideline
	offsetY float64 // screen y of the net
}

// NewTransformer builds a transformer for the given scale and screen
// offsets.
func NewTransformer(scale, offsetX, offsetY float64) (*Transformer, error) {
	if !IsFinite(scale) || scale <= 0 || !IsFinite(offsetX) || !IsFinite(offsetY) {
		return nil, ErrInvalidScale
	}
	return &Transformer{scale: scale, offsetX: offsetX, offsetY: offsetY}, nil
}

// DefaultTransformer returns a transformer at DefaultScale with the court
// corner on the screen origin.
func DefaultTransformer() *Transformer {
	return &Transformer{scale: DefaultScale}
}

// ScreenToCourt converts a screen pixel position to court meters.
func (t *Transformer) ScreenToCourt(sx, sy float64) core.CourtPosition {
	return core.CourtPosition{
		X: (sx - t.offsetX) / t.scale,
		Y: (sy - t.offsetY) / t.scale,
	}
}

// CourtToScreen converts a court position back to screen pixels.
func (t *Transformer) CourtToScreen(p core.CourtPosition) (sx, sy float64) {
	return p.X*t.scale + t.offsetX, p.Y*t.scale + t.offsetY
}

// BoundsToScreen converts a court-space rectangle to screen pixels so the
// UI can clamp pointer movement directly. The constrained flag and
// reasons carry over unchanged. Scale is positive, so edge ordering is
// preserved.
func (t *Transformer) BoundsToScreen(b core.PositionBounds) core.PositionBounds {
	minX, minY := t.CourtToScreen(core.CourtPosition{X: b.MinX, Y: b.MinY})
	maxX, maxY := t.CourtToScreen(core.CourtPosition{X: b.MaxX, Y: b.MaxY})
	return core.PositionBounds{
		MinX:          minX,
		MaxX:          maxX,
		MinY:          minY,
		MaxY:          maxY,
		IsConstrained: b.IsConstrained,
		Reasons:       b.Reasons,
	}
}

// BoundsToCourt converts a screen-space rectangle to court meters.
func (t *Transformer) BoundsToCourt(b core.PositionBounds) core.PositionBounds {
	min := t.ScreenToCourt(b.MinX, b.MinY)
	max := t.ScreenToCourt(b.MaxX, b.MaxY)
	return core.PositionBounds{
		MinX:          min.X,
		MaxX:          max.X,
		MinY:          min.Y,
		MaxY:          max.Y,
		IsConstrained: b.IsConstrained,
		Reasons:       b.Reasons,
	}
}
