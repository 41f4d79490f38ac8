// pkg/core/player.go
package core

import "strconv"

// Slot identifies one of the six rotation positions by serving order.
// Slot 1 is right back and serves first; numbering proceeds through the
// rotation order, so a team rotation moves every player one slot down.
type Slot uint8

const (
	SlotRightBack   Slot = 1
	SlotRightFront  Slot = 2
	SlotMiddleFront Slot = 3
	SlotLeftFront   Slot = 4
	SlotLeftBack    Slot = 5
	SlotMiddleBack  Slot = 6
)

// NumSlots is the number of players on court.
const NumSlots = 6

// Valid reports whether s is one of the six rotation slots.
func (s Slot) Valid() bool {
	return s >= 1 && s <= NumSlots
}

// IsFrontRow reports whether the slot belongs to the front row (2, 3, 4).
// Back row is 1, 6, 5.
func (s Slot) IsFrontRow() bool {
	return s == SlotRightFront || s == SlotMiddleFront || s == SlotLeftFront
}

func (s Slot) String() string {
	return "slot " + strconv.Itoa(int(s))
}

// RotationMap assigns a player id to every occupied rotation slot.
type RotationMap map[Slot]string

// Complete reports whether all six slots are occupied by distinct players.
func (m RotationMap) Complete() bool {
	if len(m) != NumSlots {
		return false
	}
	seen := make(map[string]struct{}, NumSlots)
	for s := Slot(1); s <= NumSlots; s++ {
		id, ok := m[s]
		if !ok || id == "" {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

// Rotated returns the assignment after one clockwise team rotation:
// the player who held slot 2 now holds slot 1, slot 3 moves to 2, and
// the old server drops back to slot 6.
func (m RotationMap) Rotated() RotationMap {
	next := make(RotationMap, len(m))
	for s := Slot(1); s <= NumSlots; s++ {
		from := s%NumSlots + 1
		if id, ok := m[from]; ok {
			next[s] = id
		}
	}
	return next
}

// PlayerState is one player's position in court space at the moment of
// a query. X and Y are meters. IsServer marks the player exempt from
// overlap ordering while preparing to serve.
type PlayerState struct {
	ID       string  `json:"id"`
	Slot     Slot    `json:"slot"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	IsServer bool    `json:"isServer"`
}

// CourtPosition is a point in court space (meters).
type CourtPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScreenPosition is a point in UI pixel space. Customized is carried for
// the UI layer only: it records that the user moved the player off the
// formation default.
type ScreenPosition struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Customized bool    `json:"customized,omitempty"`
}
