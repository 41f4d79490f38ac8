// Package rules encodes the positional-overlap rules for a six-player
// rotation: left-right order within each row, front-back order within each
// column, and the exemption for the player about to serve. All positions
// are court-space meters under the orientation convention of
// internal/court.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/courtkit/rotation/internal/court"
	"github.com/courtkit/rotation/pkg/core"
)

// Config carries the integration settings handed in at construction.
// Court geometry itself is fixed in internal/court.
type Config struct {
	// SnapEnabled lets the service correct an illegal drop instead of
	// rejecting it.
	SnapEnabled bool
	// BoundsEnabled turns on constraint-rectangle feedback during drags.
	BoundsEnabled bool
	// AllowServiceZone accepts the server standing behind the endline.
	AllowServiceZone bool
}

// DefaultConfig enables every feedback feature.
func DefaultConfig() Config {
	return Config{SnapEnabled: true, BoundsEnabled: true, AllowServiceZone: true}
}

// Row adjacency, left to right: front row runs 4, 3, 2 and back row runs
// 5, 6, 1. The column counterpart is the opposite-row slot sharing the
// column.
var (
	leftOf = map[core.Slot]core.Slot{
		core.SlotMiddleFront: core.SlotLeftFront,
		core.SlotRightFront:  core.SlotMiddleFront,
		core.SlotMiddleBack:  core.SlotLeftBack,
		core.SlotRightBack:   core.SlotMiddleBack,
	}
	rightOf = map[core.Slot]core.Slot{
		core.SlotLeftFront:   core.SlotMiddleFront,
		core.SlotMiddleFront: core.SlotRightFront,
		core.SlotLeftBack:    core.SlotMiddleBack,
		core.SlotMiddleBack:  core.SlotRightBack,
	}
	columnOf = map[core.Slot]core.Slot{
		core.SlotLeftFront:   core.SlotLeftBack,
		core.SlotLeftBack:    core.SlotLeftFront,
		core.SlotMiddleFront: core.SlotMiddleBack,
		core.SlotMiddleBack:  core.SlotMiddleFront,
		core.SlotRightFront:  core.SlotRightBack,
		core.SlotRightBack:   core.SlotRightFront,
	}
)

// rowPairs lists every left-right adjacency as (left, right).
var rowPairs = [4][2]core.Slot{
	{core.SlotLeftFront, core.SlotMiddleFront},
	{core.SlotMiddleFront, core.SlotRightFront},
	{core.SlotLeftBack, core.SlotMiddleBack},
	{core.SlotMiddleBack, core.SlotRightBack},
}

// columnPairs lists every column adjacency as (front, back).
var columnPairs = [3][2]core.Slot{
	{core.SlotLeftFront, core.SlotLeftBack},
	{core.SlotMiddleFront, core.SlotMiddleBack},
	{core.SlotRightFront, core.SlotRightBack},
}

// LeftNeighbor returns the slot whose player must stay to the left of s.
// ok is false for the leftmost slot of a row or an invalid slot.
func LeftNeighbor(s core.Slot) (core.Slot, bool) {
	n, ok := leftOf[s]
	return n, ok
}

// RightNeighbor returns the slot whose player must stay to the right of s.
func RightNeighbor(s core.Slot) (core.Slot, bool) {
	n, ok := rightOf[s]
	return n, ok
}

// Counterpart returns the opposite-row slot in the same column.
func Counterpart(s core.Slot) (core.Slot, bool) {
	n, ok := columnOf[s]
	return n, ok
}

// Engine validates lineups and corrects candidate positions. It holds no
// state beyond its config; every method is a pure function of its inputs.
type Engine struct {
	cfg Config
}

// New creates an engine with the given config.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the construction config.
func (e *Engine) Config() Config {
	return e.cfg
}

// ValidateLineup checks the full lineup against every ordering pair.
// Equality within tolerance satisfies a constraint: ties are permitted,
// not merely too close to call. Malformed input is reported as a
// lineup-level violation so the caller can still render the state; this
// method never fails.
func (e *Engine) ValidateLineup(states []core.PlayerState) core.ValidationResult {
	violations := make([]core.Violation, 0, 4)

	bySlot := make(map[core.Slot]core.PlayerState, core.NumSlots)
	var problems []string
	problemSlots := make(map[core.Slot]struct{})
	var badCoord []core.Slot

	for _, s := range states {
		if !s.Slot.Valid() {
			problems = append(problems, fmt.Sprintf("%v is not a rotation slot", s.Slot))
			continue
		}
		if _, dup := bySlot[s.Slot]; dup {
			problems = append(problems, fmt.Sprintf("duplicate assignment for %v", s.Slot))
			problemSlots[s.Slot] = struct{}{}
			continue
		}
		if !court.IsFinite(s.X) || !court.IsFinite(s.Y) {
			badCoord = append(badCoord, s.Slot)
			continue
		}
		bySlot[s.Slot] = s
	}

	if missing := core.NumSlots - len(bySlot) - len(badCoord); missing > 0 {
		problems = append(problems, fmt.Sprintf("lineup has %d of %d players", core.NumSlots-missing, core.NumSlots))
	}

	if len(problems) > 0 {
		violations = append(violations, core.Violation{
			Code:    core.ViolationLineup,
			Message: strings.Join(problems, "; "),
			Slots:   sortedSlots(problemSlots),
		})
	}
	if len(badCoord) > 0 {
		violations = append(violations, core.Violation{
			Code:    core.ViolationCoordinate,
			Message: fmt.Sprintf("position could not be interpreted for %s", slotList(badCoord)),
			Slots:   badCoord,
		})
	}

	// Ordering checks run over whatever subset is usable, so a partially
	// broken lineup still gets row and column feedback.
	for _, pair := range rowPairs {
		left, lok := bySlot[pair[0]]
		right, rok := bySlot[pair[1]]
		if !lok || !rok || left.IsServer || right.IsServer {
			continue
		}
		if left.X-right.X > court.Tolerance {
			violations = append(violations, core.Violation{
				Code:    core.ViolationRowOrder,
				Message: fmt.Sprintf("%v must stay left of %v", pair[0], pair[1]),
				Slots:   []core.Slot{pair[0], pair[1]},
			})
		}
	}
	for _, pair := range columnPairs {
		front, fok := bySlot[pair[0]]
		back, bok := bySlot[pair[1]]
		if !fok || !bok || front.IsServer || back.IsServer {
			continue
		}
		if front.Y-back.Y > court.Tolerance {
			violations = append(violations, core.Violation{
				Code:    core.ViolationColumnOrder,
				Message: fmt.Sprintf("%v must stay in front of %v", pair[0], pair[1]),
				Slots:   []core.Slot{pair[0], pair[1]},
			})
		}
	}

	return core.ValidationResult{
		IsLegal:    len(violations) == 0,
		Violations: violations,
	}
}

// IsValidPosition substitutes the subject's position for its slot and
// re-runs only the ordering constraints that involve that slot. Court
// boundaries are not checked here; that is the transformer's concern.
func (e *Engine) IsValidPosition(subject core.PlayerState, others []core.PlayerState) bool {
	if !subject.Slot.Valid() || !court.IsFinite(subject.X) || !court.IsFinite(subject.Y) {
		return false
	}
	if subject.IsServer {
		return true
	}

	bySlot := indexOthers(subject.Slot, others)

	if n, ok := LeftNeighbor(subject.Slot); ok {
		if o, present := bySlot[n]; present && !o.IsServer && o.X-subject.X > court.Tolerance {
			return false
		}
	}
	if n, ok := RightNeighbor(subject.Slot); ok {
		if o, present := bySlot[n]; present && !o.IsServer && subject.X-o.X > court.Tolerance {
			return false
		}
	}
	if n, ok := Counterpart(subject.Slot); ok {
		if o, present := bySlot[n]; present && !o.IsServer {
			if subject.Slot.IsFrontRow() {
				if subject.Y-o.Y > court.Tolerance {
					return false
				}
			} else if o.Y-subject.Y > court.Tolerance {
				return false
			}
		}
	}
	return true
}

// SnapToValid clamps each violated coordinate to the nearest legal value:
// the offending neighbor's coordinate moved one tolerance step toward
// legality. The non-violating axis is untouched, so the result is the
// axis-aligned correction, not the nearest point on the legal polygon.
// Snapping an already legal position returns it unchanged, which makes the
// operation idempotent.
func (e *Engine) SnapToValid(subject core.PlayerState, others []core.PlayerState) core.CourtPosition {
	p := core.CourtPosition{X: subject.X, Y: subject.Y}
	if !court.IsFinite(p.X) || !court.IsFinite(p.Y) {
		return court.NormalizeCoordinates(p, subject.IsServer && e.cfg.AllowServiceZone)
	}
	if subject.IsServer || !subject.Slot.Valid() {
		return p
	}

	bySlot := indexOthers(subject.Slot, others)

	if n, ok := LeftNeighbor(subject.Slot); ok {
		if o, present := bySlot[n]; present && !o.IsServer && o.X-p.X > court.Tolerance {
			p.X = court.ApplyTolerance(o.X, court.BoundMax)
		}
	}
	if n, ok := RightNeighbor(subject.Slot); ok {
		if o, present := bySlot[n]; present && !o.IsServer && p.X-o.X > court.Tolerance {
			p.X = court.ApplyTolerance(o.X, court.BoundMin)
		}
	}
	if n, ok := Counterpart(subject.Slot); ok {
		if o, present := bySlot[n]; present && !o.IsServer {
			if subject.Slot.IsFrontRow() {
				if p.Y-o.Y > court.Tolerance {
					p.Y = court.ApplyTolerance(o.Y, court.BoundMin)
				}
			} else if o.Y-p.Y > court.Tolerance {
				p.Y = court.ApplyTolerance(o.Y, court.BoundMax)
			}
		}
	}
	return p
}

// indexOthers builds a slot lookup over the other players, dropping the
// subject's own slot and anything non-finite.
func indexOthers(subject core.Slot, others []core.PlayerState) map[core.Slot]core.PlayerState {
	bySlot := make(map[core.Slot]core.PlayerState, len(others))
	for _, o := range others {
		if o.Slot == subject || !o.Slot.Valid() {
			continue
		}
		if !court.IsFinite(o.X) || !court.IsFinite(o.Y) {
			continue
		}
		bySlot[o.Slot] = o
	}
	return bySlot
}

func sortedSlots(set map[core.Slot]struct{}) []core.Slot {
	if len(set) == 0 {
		return nil
	}
	slots := make([]core.Slot, 0, len(set))
	for s := range set {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

func slotList(slots []core.Slot) string {
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.String()
	}
	return strings.Join(names, ", ")
}
