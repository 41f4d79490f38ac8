// Package constraint derives, for one player, the axis-aligned rectangle
// of positions that keep the lineup legal given the other five players.
// This is the hot path of a drag interaction: the UI asks for fresh bounds
// on every pointer move, so results are cached under a structural key and
// recomputed edge-by-edge when only part of the input changed.
package constraint

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/courtkit/rotation/internal/cache"
	"github.com/courtkit/rotation/internal/court"
	"github.com/courtkit/rotation/internal/rules"
	"github.com/courtkit/rotation/pkg/core"
)

// cacheCapacity bounds the constraint cache to one drag session's worth of
// distinct queries. Eviction is insertion-order.
const cacheCapacity = 64

// neighborKey is one other player's contribution to a cache key. The zero
// value means the slot is unoccupied. A neighbor that is the current
// server is kept in the key with Server set, so a service change alone
// produces a different key.
type neighborKey struct {
	Slot   core.Slot
	ID     string
	X, Y   int32
	Server bool
}

// boundsKey identifies a bounds query structurally: subject slot and the
// five other players with millimetre-rounded coordinates, ordered by slot.
// It is a comparable struct, never a formatted string.
type boundsKey struct {
	Slot   core.Slot
	Server bool
	Others [core.NumSlots - 1]neighborKey
}

// edges holds the four rectangle edges before degenerate-axis handling,
// plus which neighbor (if any) narrowed each one. Kept per subject so an
// incremental update can recompute a single edge and reuse the rest.
type edges struct {
	minX, maxX, minY, maxY                         float64
	narrowMinX, narrowMaxX, narrowMinY, narrowMaxY bool
	srcMinX, srcMaxX, srcMinY, srcMaxY             core.Slot
}

type previous struct {
	key boundsKey
	raw edges
}

// Calculator computes legal rectangles with caching and incremental
// updates. One instance is owned by exactly one caller sequence; there is
// no internal locking beyond the cache's own.
type Calculator struct {
	cfg   rules.Config
	cache *cache.Bounded[boundsKey, core.PositionBounds]
	last  map[core.Slot]previous

	counts   core.EngineMetrics
	calcTime time.Duration
	calcN    uint64

	calculations metric.Int64Counter
	hits         metric.Int64Counter
	incrementals metric.Int64Counter
	fulls        metric.Int64Counter
}

// New creates a Calculator for the given engine configuration.
// Uses the global OTel meter for the instrument mirror (no-op if not
// configured).
func New(cfg rules.Config) (*Calculator, error) {
	c := &Calculator{
		cfg:   cfg,
		cache: cache.NewBounded[boundsKey, core.PositionBounds](cacheCapacity),
		last:  make(map[core.Slot]previous, core.NumSlots),
	}

	m := meter()
	var err error

	c.calculations, err = m.Int64Counter(
		"constraint.calculations",
		metric.WithDescription("Total bounds queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating calculations counter: %w", err)
	}

	c.hits, err = m.Int64Counter(
		"constraint.cache.hits",
		metric.WithDescription("Bounds queries answered from cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache hit counter: %w", err)
	}

	c.incrementals, err = m.Int64Counter(
		"constraint.updates.incremental",
		metric.WithDescription("Bounds recomputed from a partial edge update"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating incremental counter: %w", err)
	}

	c.fulls, err = m.Int64Counter(
		"constraint.recalculations.full",
		metric.WithDescription("Bounds recomputed from scratch"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating full recalculation counter: %w", err)
	}

	return c, nil
}

// Config returns the configuration the calculator was built with.
func (c *Calculator) Config() rules.Config {
	return c.cfg
}

// Bounds computes the legal rectangle for the subject given the other
// players' current positions. The server gets the whole court (extended
// through the service zone when allowed) and is never constrained by
// ordering; neighbors that are the server, absent, or non-finite impose
// nothing. A subject slot outside the rotation yields the unconstrained
// court.
func (c *Calculator) Bounds(subject core.PlayerState, others []core.PlayerState) core.PositionBounds {
	c.counts.TotalCalculations++
	c.calculations.Add(context.Background(), 1)

	if !subject.Slot.Valid() {
		return court.FullCourt()
	}
	if subject.IsServer {
		b := court.FullCourt()
		if c.cfg.AllowServiceZone {
			b.MaxY = court.EndlineY + court.ServiceZoneDepth
		}
		return b
	}

	k := keyFor(subject, others)
	if b, ok := c.cache.Get(k); ok {
		c.counts.CacheHits++
		c.hits.Add(context.Background(), 1)
		return b
	}

	start := time.Now()
	e, incremental := c.computeEdges(k)
	b := finalize(e)

	c.cache.Put(k, b)
	c.last[k.Slot] = previous{key: k, raw: e}
	c.calcTime += time.Since(start)
	c.calcN++
	if incremental {
		c.counts.IncrementalUpdates++
		c.incrementals.Add(context.Background(), 1)
	} else {
		c.counts.FullRecalculations++
		c.fulls.Add(context.Background(), 1)
	}
	return b
}

// ClearCache drops every cached rectangle and the incremental state.
// Callers invoke it on configuration or service changes; the cache is
// never invalidated by time.
func (c *Calculator) ClearCache() {
	c.cache.Reset()
	c.last = make(map[core.Slot]previous, core.NumSlots)
}

// Metrics returns a snapshot of the cumulative counters. The average is
// wall time per non-cache-hit computation.
func (c *Calculator) Metrics() core.EngineMetrics {
	m := c.counts
	if c.calcN > 0 {
		m.AverageCalculation = c.calcTime / time.Duration(c.calcN)
	}
	return m
}

// computeEdges produces the raw edges for k. When the previous query for
// the same subject differs in only some of the constraining neighbors,
// the untouched edges are reused and only the changed ones recomputed;
// the returned flag reports whether that incremental path was taken.
func (c *Calculator) computeEdges(k boundsKey) (edges, bool) {
	prev, ok := c.last[k.Slot]
	if !ok || prev.key.Server != k.Server {
		e := fullCourtEdges()
		e.applyLeft(k)
		e.applyRight(k)
		e.applyVertical(k)
		return e, false
	}

	leftSlot, hasLeft := rules.LeftNeighbor(k.Slot)
	rightSlot, hasRight := rules.RightNeighbor(k.Slot)
	vertSlot, _ := rules.Counterpart(k.Slot)

	leftSame := !hasLeft || lookupOther(prev.key, leftSlot) == lookupOther(k, leftSlot)
	rightSame := !hasRight || lookupOther(prev.key, rightSlot) == lookupOther(k, rightSlot)
	vertSame := lookupOther(prev.key, vertSlot) == lookupOther(k, vertSlot)

	if !leftSame && !rightSame && !vertSame {
		e := fullCourtEdges()
		e.applyLeft(k)
		e.applyRight(k)
		e.applyVertical(k)
		return e, false
	}

	e := prev.raw
	if !leftSame {
		e.applyLeft(k)
	}
	if !rightSame {
		e.applyRight(k)
	}
	if !vertSame {
		e.applyVertical(k)
	}
	return e, true
}

func fullCourtEdges() edges {
	return edges{
		minX: court.LeftSidelineX,
		maxX: court.RightSidelineX,
		minY: court.NetY,
		maxY: court.EndlineY,
	}
}

// applyLeft sets the minX edge from the row neighbor to the subject's
// left: the subject must stay right of it, with a conservative margin of
// one tolerance.
func (e *edges) applyLeft(k boundsKey) {
	e.minX, e.narrowMinX, e.srcMinX = court.LeftSidelineX, false, 0
	slot, ok := rules.LeftNeighbor(k.Slot)
	if !ok {
		return
	}
	n := lookupOther(k, slot)
	if n.Slot == 0 || n.Server {
		return
	}
	limit := court.ApplyTolerance(dequantize(n.X), court.BoundMax)
	if limit > court.LeftSidelineX {
		e.minX = limit
		e.narrowMinX = true
		e.srcMinX = slot
	}
}

// applyRight sets the maxX edge from the row neighbor to the subject's
// right.
func (e *edges) applyRight(k boundsKey) {
	e.maxX, e.narrowMaxX, e.srcMaxX = court.RightSidelineX, false, 0
	slot, ok := rules.RightNeighbor(k.Slot)
	if !ok {
		return
	}
	n := lookupOther(k, slot)
	if n.Slot == 0 || n.Server {
		return
	}
	limit := court.ApplyTolerance(dequantize(n.X), court.BoundMin)
	if limit < court.RightSidelineX {
		e.maxX = limit
		e.narrowMaxX = true
		e.srcMaxX = slot
	}
}

// applyVertical sets the one vertical edge the column counterpart can
// narrow: maxY for a front-row subject (stay in front), minY for a
// back-row subject (stay behind).
func (e *edges) applyVertical(k boundsKey) {
	front := k.Slot.IsFrontRow()
	if front {
		e.maxY, e.narrowMaxY, e.srcMaxY = court.EndlineY, false, 0
	} else {
		e.minY, e.narrowMinY, e.srcMinY = court.NetY, false, 0
	}

	slot, ok := rules.Counterpart(k.Slot)
	if !ok {
		return
	}
	n := lookupOther(k, slot)
	if n.Slot == 0 || n.Server {
		return
	}
	if front {
		limit := court.ApplyTolerance(dequantize(n.Y), court.BoundMin)
		if limit < court.EndlineY {
			e.maxY = limit
			e.narrowMaxY = true
			e.srcMaxY = slot
		}
	} else {
		limit := court.ApplyTolerance(dequantize(n.Y), court.BoundMax)
		if limit > court.NetY {
			e.minY = limit
			e.narrowMinY = true
			e.srcMinY = slot
		}
	}
}

// finalize turns raw edges into the public rectangle. An axis whose edges
// crossed (neighbors themselves out of order beyond tolerance) collapses
// to its midpoint, clamped onto the court, so Clamp on the result stays
// deterministic.
func finalize(e edges) core.PositionBounds {
	b := core.PositionBounds{MinX: e.minX, MaxX: e.maxX, MinY: e.minY, MaxY: e.maxY}
	if b.MinX > b.MaxX {
		mid := clampTo((b.MinX+b.MaxX)/2, court.LeftSidelineX, court.RightSidelineX)
		b.MinX, b.MaxX = mid, mid
	}
	if b.MinY > b.MaxY {
		mid := clampTo((b.MinY+b.MaxY)/2, court.NetY, court.EndlineY)
		b.MinY, b.MaxY = mid, mid
	}
	if e.narrowMinX {
		b.Reasons = append(b.Reasons, fmt.Sprintf("must stay right of %s", e.srcMinX))
	}
	if e.narrowMaxX {
		b.Reasons = append(b.Reasons, fmt.Sprintf("must stay left of %s", e.srcMaxX))
	}
	if e.narrowMinY {
		b.Reasons = append(b.Reasons, fmt.Sprintf("must stay behind %s", e.srcMinY))
	}
	if e.narrowMaxY {
		b.Reasons = append(b.Reasons, fmt.Sprintf("must stay in front of %s", e.srcMaxY))
	}
	b.IsConstrained = len(b.Reasons) > 0
	return b
}

// keyFor builds the structural cache key: the five slots other than the
// subject's in ascending order, each with millimetre-rounded coordinates.
// Occupants with non-finite coordinates are treated as absent, exactly as
// the rules engine drops them.
func keyFor(subject core.PlayerState, others []core.PlayerState) boundsKey {
	k := boundsKey{Slot: subject.Slot, Server: subject.IsServer}
	idx := 0
	for slot := core.Slot(1); slot <= core.Slot(core.NumSlots); slot++ {
		if slot == subject.Slot {
			continue
		}
		for _, o := range others {
			if o.Slot != slot {
				continue
			}
			if !court.IsFinite(o.X) || !court.IsFinite(o.Y) {
				continue
			}
			k.Others[idx] = neighborKey{
				Slot:   slot,
				ID:     o.ID,
				X:      quantize(o.X),
				Y:      quantize(o.Y),
				Server: o.IsServer,
			}
			break
		}
		idx++
	}
	return k
}

func lookupOther(k boundsKey, slot core.Slot) neighborKey {
	for _, n := range k.Others {
		if n.Slot == slot {
			return n
		}
	}
	return neighborKey{}
}

func quantize(v float64) int32 {
	return int32(math.Round(v * 1000))
}

func dequantize(v int32) float64 {
	return float64(v) / 1000
}

func clampTo(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
