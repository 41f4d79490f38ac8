// pkg/core/formation.go
package core

import (
	"errors"
	"time"
)

// ErrFormationNotFound is returned by storage lookups for unknown
// formation names.
var ErrFormationNotFound = errors.New("formation not found")

// Formation is a named lineup: six players with their slot assignments and
// court positions. Role is UI metadata ("S", "OPP", "OH", "MB"); nothing in
// the rules or constraint code reads it.
type Formation struct {
	ID         uint              `json:"id,omitempty"`
	Name       string            `json:"name"`
	System     string            `json:"system,omitempty"` // e.g. "5-1", "6-2"
	ServerSlot Slot              `json:"serverSlot"`
	Players    []FormationPlayer `json:"players"`
	CreatedAt  time.Time         `json:"createdAt,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt,omitempty"`
}

// FormationPlayer is one roster entry inside a formation.
type FormationPlayer struct {
	PlayerID   string  `json:"playerId"`
	Name       string  `json:"name,omitempty"`
	Role       string  `json:"role,omitempty"`
	Slot       Slot    `json:"slot"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Customized bool    `json:"customized,omitempty"`
}

// RotationMap derives the slot assignment from the player entries.
func (f Formation) RotationMap() RotationMap {
	m := make(RotationMap, len(f.Players))
	for _, p := range f.Players {
		m[p.Slot] = p.PlayerID
	}
	return m
}

// Snapshot is one captured lineup of a session, recorded after a move.
type Snapshot struct {
	SessionID  string        `json:"sessionId"`
	Seq        uint64        `json:"seq"`
	Time       time.Time     `json:"time"`
	States     []PlayerState `json:"states"`
	IsLegal    bool          `json:"isLegal"`
	Violations []Violation   `json:"violations,omitempty"`
}

// ValidationEvent records one validation outcome for observability.
type ValidationEvent struct {
	SessionID      string        `json:"sessionId"`
	Time           time.Time     `json:"time"`
	IsLegal        bool          `json:"isLegal"`
	ViolationCount int           `json:"violationCount"`
	Violations     []Violation   `json:"violations,omitempty"`
	Duration       time.Duration `json:"durationNs"`
}

// EngineMetrics is a point-in-time copy of one calculator's counters.
// AverageCalculation is the mean wall time of computed (non cache hit)
// queries.
type EngineMetrics struct {
	TotalCalculations  uint64        `json:"totalCalculations"`
	CacheHits          uint64        `json:"cacheHits"`
	IncrementalUpdates uint64        `json:"incrementalUpdates"`
	FullRecalculations uint64        `json:"fullRecalculations"`
	AverageCalculation time.Duration `json:"averageCalculationNs"`
}

// HitRate returns cache hits as a fraction of all queries, 0 when idle.
func (m EngineMetrics) HitRate() float64 {
	if m.TotalCalculations == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(m.TotalCalculations)
}

// PerfSample is one periodic health row written by the monitor. Engine
// aggregates the calculator counters across all live sessions.
type PerfSample struct {
	Time           time.Time     `json:"time"`
	Goroutines     int           `json:"goroutines"`
	HeapAllocBytes uint64        `json:"heapAllocBytes"`
	Sessions       int           `json:"sessions"`
	Engine         EngineMetrics `json:"engine"`
	CacheHitRate   float64       `json:"cacheHitRate"`
}
