// Package lineup converts raw UI input into engine player states and back.
// Conversion is the only place screen pixels touch the engine: everything
// past this boundary works in court meters.
package lineup

import (
	"github.com/courtkit/rotation/internal/court"
	"github.com/courtkit/rotation/pkg/core"
)

// Converter builds per-player states from screen positions plus the slot
// assignment. It is stateless apart from the transformer it wraps.
type Converter struct {
	tr *court.Transformer
}

// NewConverter wraps a transformer. A nil transformer falls back to the
// default screen scale.
func NewConverter(tr *court.Transformer) *Converter {
	if tr == nil {
		tr = court.DefaultTransformer()
	}
	return &Converter{tr: tr}
}

// Transformer exposes the wrapped transformer for bounds conversion.
func (c *Converter) Transformer() *court.Transformer {
	return c.tr
}

// FromScreen builds one PlayerState per occupied slot, in slot order.
// A slot whose player id has no screen position is silently omitted; the
// rules engine then reports the lineup as incomplete. States are returned
// in slot order so output is deterministic.
func (c *Converter) FromScreen(screen map[string]core.ScreenPosition, rotation core.RotationMap, serverSlot core.Slot) []core.PlayerState {
	states := make([]core.PlayerState, 0, core.NumSlots)
	for slot := core.Slot(1); slot <= core.NumSlots; slot++ {
		id, ok := rotation[slot]
		if !ok || id == "" {
			continue
		}
		sp, ok := screen[id]
		if !ok {
			continue
		}
		p := c.tr.ScreenToCourt(sp.X, sp.Y)
		states = append(states, core.PlayerState{
			ID:       id,
			Slot:     slot,
			X:        p.X,
			Y:        p.Y,
			IsServer: slot == serverSlot,
		})
	}
	return states
}

// FromFormation builds states from a stored formation, whose positions are
// already court-space.
func FromFormation(f core.Formation) []core.PlayerState {
	states := make([]core.PlayerState, 0, len(f.Players))
	for slot := core.Slot(1); slot <= core.NumSlots; slot++ {
		for _, p := range f.Players {
			if p.Slot != slot {
				continue
			}
			states = append(states, core.PlayerState{
				ID:       p.PlayerID,
				Slot:     slot,
				X:        p.X,
				Y:        p.Y,
				IsServer: slot == f.ServerSlot,
			})
			break
		}
	}
	return states
}

// ToCourt converts one screen position to court space. The customized
// flag is dropped here; it never reaches the engine.
func (c *Converter) ToCourt(sp core.ScreenPosition) core.CourtPosition {
	return c.tr.ScreenToCourt(sp.X, sp.Y)
}

// ToScreen converts a court position back to a screen position,
// reattaching the customized flag for the UI layer.
func (c *Converter) ToScreen(p core.CourtPosition, customized bool) core.ScreenPosition {
	sx, sy := c.tr.CourtToScreen(p)
	return core.ScreenPosition{X: sx, Y: sy, Customized: customized}
}
