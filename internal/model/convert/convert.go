// Package convert provides functions to convert GORM models to core models
package convert

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/courtkit/rotation/internal/model"
	"github.com/courtkit/rotation/pkg/core"
)

// pointToPosition converts a stored geom.Point back to court-space meters
func pointToPosition(p geom.Point) (x, y float64) {
	coord, ok := p.Coordinates()
	if !ok {
		return 0, 0
	}
	return coord.XY.X, coord.XY.Y
}

// violationsFromJSON decodes a stored violation payload. Malformed payloads
// decode to nil rather than failing the read.
func violationsFromJSON(data datatypes.JSON) []core.Violation {
	if len(data) == 0 {
		return nil
	}
	var out []core.Violation
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// FormationToCore converts a GORM Formation to a core.Formation.
// The GORM primary key maps to core.Formation.ID.
func FormationToCore(f model.Formation) core.Formation {
	players := make([]core.FormationPlayer, 0, len(f.Slots))
	for _, s := range f.Slots {
		players = append(players, FormationSlotToCore(s))
	}
	return core.Formation{
		ID:         f.ID,
		Name:       f.Name,
		System:     f.System,
		ServerSlot: core.Slot(f.ServerSlot),
		Players:    players,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

// FormationSlotToCore converts a GORM FormationSlot to a core.FormationPlayer.
func FormationSlotToCore(s model.FormationSlot) core.FormationPlayer {
	x, y := pointToPosition(s.Position)
	return core.FormationPlayer{
		PlayerID:   s.PlayerID,
		Name:       s.PlayerName,
		Role:       s.Role,
		Slot:       core.Slot(s.Slot),
		X:          x,
		Y:          y,
		Customized: s.Customized,
	}
}

// SnapshotToCore converts a GORM Snapshot to a core.Snapshot.
func SnapshotToCore(s model.Snapshot) core.Snapshot {
	var states []core.PlayerState
	if len(s.States) > 0 {
		_ = json.Unmarshal(s.States, &states)
	}
	return core.Snapshot{
		SessionID:  s.SessionID,
		Seq:        s.Seq,
		Time:       s.Time,
		States:     states,
		IsLegal:    s.IsLegal,
		Violations: violationsFromJSON(s.Violations),
	}
}

// ValidationEventToCore converts a GORM ValidationEvent to a core.ValidationEvent.
func ValidationEventToCore(e model.ValidationEvent) core.ValidationEvent {
	return core.ValidationEvent{
		SessionID:      e.SessionID,
		Time:           e.Time,
		IsLegal:        e.IsLegal,
		ViolationCount: int(e.ViolationCount),
		Violations:     violationsFromJSON(e.Violations),
		Duration:       time.Duration(e.DurationMicros) * time.Microsecond,
	}
}

// PerfSampleToCore converts a GORM PerfSample to a core.PerfSample.
func PerfSampleToCore(p model.PerfSample) core.PerfSample {
	return core.PerfSample{
		Time:           p.Time,
		Goroutines:     int(p.Goroutines),
		HeapAllocBytes: p.HeapAllocBytes,
		Sessions:       int(p.Sessions),
		Engine: core.EngineMetrics{
			TotalCalculations:  p.Engine.TotalCalculations,
			CacheHits:          p.Engine.CacheHits,
			IncrementalUpdates: p.Engine.IncrementalUpdates,
			FullRecalculations: p.Engine.FullRecalculations,
			AverageCalculation: time.Duration(float64(p.AverageCalcMicros) * float64(time.Microsecond)),
		},
		CacheHitRate: float64(p.CacheHitRate),
	}
}
