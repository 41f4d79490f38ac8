package constraint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtkit/rotation/internal/court"
	"github.com/courtkit/rotation/internal/rules"
	"github.com/courtkit/rotation/pkg/core"
)

// canonical returns the base serve-receive arrangement used throughout
// the engine tests.
func canonical() []core.PlayerState {
	return []core.PlayerState{
		{ID: "p1", Slot: core.SlotRightBack, X: 7, Y: 7},
		{ID: "p2", Slot: core.SlotRightFront, X: 7, Y: 3},
		{ID: "p3", Slot: core.SlotMiddleFront, X: 4.5, Y: 3},
		{ID: "p4", Slot: core.SlotLeftFront, X: 2, Y: 3},
		{ID: "p5", Slot: core.SlotLeftBack, X: 2, Y: 7},
		{ID: "p6", Slot: core.SlotMiddleBack, X: 4.5, Y: 7},
	}
}

// split pulls the player at slot out of states and returns it as the
// subject along with the remaining five.
func split(states []core.PlayerState, slot core.Slot) (core.PlayerState, []core.PlayerState) {
	var subject core.PlayerState
	others := make([]core.PlayerState, 0, len(states))
	for _, s := range states {
		if s.Slot == slot {
			subject = s
			continue
		}
		others = append(others, s)
	}
	return subject, others
}

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := New(rules.DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestBoundsUnconstrainedWithoutNeighbors(t *testing.T) {
	c := newCalc(t)
	subject := core.PlayerState{ID: "p3", Slot: core.SlotMiddleFront, X: 4.5, Y: 3}

	b := c.Bounds(subject, nil)

	assert.False(t, b.IsConstrained)
	assert.Empty(t, b.Reasons)
	assert.Equal(t, court.FullCourt(), b)
}

func TestBoundsMiddleFront(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	b := c.Bounds(subject, others)

	require.True(t, b.IsConstrained)
	assert.InDelta(t, 2+court.Tolerance, b.MinX, 1e-9, "left neighbor at x=2")
	assert.InDelta(t, 7-court.Tolerance, b.MaxX, 1e-9, "right neighbor at x=7")
	assert.InDelta(t, court.NetY, b.MinY, 1e-9)
	assert.InDelta(t, 7-court.Tolerance, b.MaxY, 1e-9, "counterpart at y=7")
	assert.Len(t, b.Reasons, 3)
	assert.Contains(t, b.Reasons, "must stay right of slot 4")
	assert.Contains(t, b.Reasons, "must stay left of slot 2")
	assert.Contains(t, b.Reasons, "must stay in front of slot 6")
}

func TestBoundsEdgeSlots(t *testing.T) {
	c := newCalc(t)

	// Slot 4 has no left row-neighbor.
	subject, others := split(canonical(), core.SlotLeftFront)
	b := c.Bounds(subject, others)
	assert.InDelta(t, court.LeftSidelineX, b.MinX, 1e-9)
	assert.InDelta(t, 4.5-court.Tolerance, b.MaxX, 1e-9)
	assert.InDelta(t, 7-court.Tolerance, b.MaxY, 1e-9)
	assert.NotContains(t, b.Reasons, "must stay right of slot 5")

	// Slot 1 has no right row-neighbor and sits in the back row.
	subject, others = split(canonical(), core.SlotRightBack)
	b = c.Bounds(subject, others)
	assert.InDelta(t, 4.5+court.Tolerance, b.MinX, 1e-9, "slot 6 at x=4.5")
	assert.InDelta(t, court.RightSidelineX, b.MaxX, 1e-9)
	assert.InDelta(t, 3+court.Tolerance, b.MinY, 1e-9, "counterpart slot 2 at y=3")
	assert.InDelta(t, court.EndlineY, b.MaxY, 1e-9)
}

func TestBoundsServerGetsFullCourt(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotRightBack)
	subject.IsServer = true

	b := c.Bounds(subject, others)

	assert.False(t, b.IsConstrained)
	assert.Empty(t, b.Reasons)
	assert.InDelta(t, court.LeftSidelineX, b.MinX, 1e-9)
	assert.InDelta(t, court.RightSidelineX, b.MaxX, 1e-9)
	assert.InDelta(t, court.NetY, b.MinY, 1e-9)
	assert.InDelta(t, court.EndlineY+court.ServiceZoneDepth, b.MaxY, 1e-9,
		"server may retreat into the service zone")
}

func TestBoundsServerWithoutServiceZone(t *testing.T) {
	cfg := rules.DefaultConfig()
	cfg.AllowServiceZone = false
	c, err := New(cfg)
	require.NoError(t, err)

	subject, others := split(canonical(), core.SlotRightBack)
	subject.IsServer = true

	b := c.Bounds(subject, others)
	assert.InDelta(t, court.EndlineY, b.MaxY, 1e-9)
}

func TestBoundsServerNeighborImposesNothing(t *testing.T) {
	c := newCalc(t)
	states := canonical()
	subject, others := split(states, core.SlotMiddleFront)
	for i := range others {
		if others[i].Slot == core.SlotLeftFront {
			others[i].IsServer = true
		}
	}

	b := c.Bounds(subject, others)

	assert.InDelta(t, court.LeftSidelineX, b.MinX, 1e-9,
		"serving left neighbor should not constrain")
	assert.InDelta(t, 7-court.Tolerance, b.MaxX, 1e-9)
	assert.NotContains(t, b.Reasons, "must stay right of slot 4")
}

func TestBoundsInvalidSlot(t *testing.T) {
	c := newCalc(t)
	_, others := split(canonical(), core.SlotMiddleFront)
	subject := core.PlayerState{ID: "px", Slot: 9, X: 4, Y: 4}

	b := c.Bounds(subject, others)
	assert.Equal(t, court.FullCourt(), b)
}

func TestBoundsMissingNeighborOmitsEdge(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)
	trimmed := make([]core.PlayerState, 0, len(others))
	for _, o := range others {
		if o.Slot != core.SlotRightFront {
			trimmed = append(trimmed, o)
		}
	}

	b := c.Bounds(subject, trimmed)

	assert.InDelta(t, court.RightSidelineX, b.MaxX, 1e-9)
	assert.InDelta(t, 2+court.Tolerance, b.MinX, 1e-9)
}

func TestBoundsNonFiniteNeighborIgnored(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)
	for i := range others {
		if others[i].Slot == core.SlotLeftFront {
			others[i].X = math.NaN()
		}
	}

	b := c.Bounds(subject, others)
	assert.InDelta(t, court.LeftSidelineX, b.MinX, 1e-9)
}

func TestBoundsCacheHit(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	first := c.Bounds(subject, others)
	second := c.Bounds(subject, others)

	assert.Equal(t, first, second)
	m := c.Metrics()
	assert.Equal(t, uint64(2), m.TotalCalculations)
	assert.Equal(t, uint64(1), m.CacheHits)
	assert.Equal(t, uint64(1), m.FullRecalculations)
	assert.Equal(t, uint64(0), m.IncrementalUpdates)
	assert.InDelta(t, 0.5, m.HitRate(), 1e-9)
}

func TestBoundsSubMillimetreMoveStillHits(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	c.Bounds(subject, others)
	for i := range others {
		others[i].X += 0.0001
	}
	c.Bounds(subject, others)

	assert.Equal(t, uint64(1), c.Metrics().CacheHits,
		"movement below key resolution should reuse the cached rectangle")
}

func TestBoundsIncrementalUpdate(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	c.Bounds(subject, others)

	// Only the left row-neighbor moves.
	for i := range others {
		if others[i].Slot == core.SlotLeftFront {
			others[i].X = 1.5
		}
	}
	b := c.Bounds(subject, others)

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.IncrementalUpdates)
	assert.Equal(t, uint64(1), m.FullRecalculations)
	assert.InDelta(t, 1.5+court.Tolerance, b.MinX, 1e-9)
	assert.InDelta(t, 7-court.Tolerance, b.MaxX, 1e-9, "untouched edge survives")
	assert.InDelta(t, 7-court.Tolerance, b.MaxY, 1e-9)
}

func TestBoundsIrrelevantMoveIsIncremental(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	first := c.Bounds(subject, others)

	// Slot 1 is neither a row-neighbor nor the counterpart of slot 3.
	for i := range others {
		if others[i].Slot == core.SlotRightBack {
			others[i].Y = 8.5
		}
	}
	second := c.Bounds(subject, others)

	assert.Equal(t, first, second)
	m := c.Metrics()
	assert.Equal(t, uint64(1), m.IncrementalUpdates)
	assert.Equal(t, uint64(0), m.CacheHits, "key covers all five others")
}

func TestBoundsFullRecalcWhenEveryNeighborMoves(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	c.Bounds(subject, others)
	for i := range others {
		others[i].X += 0.5
		others[i].Y += 0.5
	}
	c.Bounds(subject, others)

	m := c.Metrics()
	assert.Equal(t, uint64(2), m.FullRecalculations)
	assert.Equal(t, uint64(0), m.IncrementalUpdates)
}

func TestClearCacheForcesRecalculation(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	c.Bounds(subject, others)
	c.ClearCache()
	c.Bounds(subject, others)

	m := c.Metrics()
	assert.Equal(t, uint64(0), m.CacheHits)
	assert.Equal(t, uint64(2), m.FullRecalculations)
}

func TestBoundsCrossedNeighborsCollapse(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)
	for i := range others {
		switch others[i].Slot {
		case core.SlotLeftFront:
			others[i].X = 6
		case core.SlotRightFront:
			others[i].X = 3
		}
	}

	b := c.Bounds(subject, others)

	assert.True(t, b.IsConstrained)
	assert.Equal(t, b.MinX, b.MaxX, "crossed neighbors collapse the axis")
	assert.InDelta(t, 4.5, b.MinX, 1e-9)

	p := b.Clamp(core.CourtPosition{X: 8, Y: 2})
	assert.True(t, b.Contains(p))
}

func TestBoundsClampStaysInside(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	b := c.Bounds(subject, others)
	for _, p := range []core.CourtPosition{
		{X: -3, Y: -3},
		{X: 12, Y: 12},
		{X: 0, Y: 8},
		{X: 4.5, Y: 3},
	} {
		assert.True(t, b.Contains(b.Clamp(p)), "clamp of %+v must land inside", p)
	}
}

func TestKeyStructure(t *testing.T) {
	subject, others := split(canonical(), core.SlotMiddleFront)
	k := keyFor(subject, others)

	assert.Equal(t, core.SlotMiddleFront, k.Slot)
	slots := make([]core.Slot, 0, len(k.Others))
	for _, n := range k.Others {
		slots = append(slots, n.Slot)
	}
	assert.Equal(t, []core.Slot{1, 2, 4, 5, 6}, slots, "ascending, subject excluded")

	left := lookupOther(k, core.SlotLeftFront)
	assert.Equal(t, int32(2000), left.X)
	assert.Equal(t, int32(3000), left.Y)
	assert.Equal(t, "p4", left.ID)
}

func TestKeyChangesWhenServiceChanges(t *testing.T) {
	c := newCalc(t)
	subject, others := split(canonical(), core.SlotMiddleFront)

	c.Bounds(subject, others)
	for i := range others {
		if others[i].Slot == core.SlotLeftFront {
			others[i].IsServer = true
		}
	}
	b := c.Bounds(subject, others)

	assert.Equal(t, uint64(0), c.Metrics().CacheHits,
		"service change must not reuse a stale rectangle")
	assert.InDelta(t, court.LeftSidelineX, b.MinX, 1e-9)
}
