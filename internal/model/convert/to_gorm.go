// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/courtkit/rotation/internal/model"
	"github.com/courtkit/rotation/pkg/core"
)

// positionToPoint converts court-space meters to a 2D geom.Point
func positionToPoint(x, y float64) geom.Point {
	coords := geom.Coordinates{XY: geom.XY{X: x, Y: y}}
	return geom.NewPoint(coords)
}

// violationsToJSON converts a []core.Violation to datatypes.JSON for DB storage.
func violationsToJSON(violations []core.Violation) datatypes.JSON {
	if len(violations) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(violations)
	return datatypes.JSON(data)
}

// statesToJSON converts a []core.PlayerState to datatypes.JSON for DB storage.
func statesToJSON(states []core.PlayerState) datatypes.JSON {
	if len(states) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(states)
	return datatypes.JSON(data)
}

// CoreToFormation converts a core.Formation to a GORM model.Formation.
// core.Formation.ID maps to the GORM primary key; zero means not yet stored.
func CoreToFormation(f core.Formation) model.Formation {
	slots := make([]model.FormationSlot, 0, len(f.Players))
	for _, p := range f.Players {
		slots = append(slots, CoreToFormationSlot(f.ID, p))
	}
	out := model.Formation{
		Name:       f.Name,
		System:     f.System,
		ServerSlot: uint8(f.ServerSlot),
		Slots:      slots,
	}
	out.ID = f.ID
	return out
}

// CoreToFormationSlot converts one roster entry to a GORM model.FormationSlot.
func CoreToFormationSlot(formationID uint, p core.FormationPlayer) model.FormationSlot {
	return model.FormationSlot{
		FormationID: formationID,
		Slot:        uint8(p.Slot),
		PlayerID:    p.PlayerID,
		PlayerName:  p.Name,
		Role:        p.Role,
		Position:    positionToPoint(p.X, p.Y),
		Customized:  p.Customized,
	}
}

// CoreToSnapshot converts a core.Snapshot to a GORM model.Snapshot.
func CoreToSnapshot(s core.Snapshot) model.Snapshot {
	return model.Snapshot{
		Time:       s.Time,
		SessionID:  s.SessionID,
		Seq:        s.Seq,
		IsLegal:    s.IsLegal,
		States:     statesToJSON(s.States),
		Violations: violationsToJSON(s.Violations),
	}
}

// CoreToValidationEvent converts a core.ValidationEvent to a GORM model.ValidationEvent.
func CoreToValidationEvent(e core.ValidationEvent) model.ValidationEvent {
	return model.ValidationEvent{
		Time:           e.Time,
		SessionID:      e.SessionID,
		IsLegal:        e.IsLegal,
		ViolationCount: uint16(e.ViolationCount),
		Violations:     violationsToJSON(e.Violations),
		DurationMicros: e.Duration.Microseconds(),
	}
}

// CoreToPerfSample converts a core.PerfSample to a GORM model.PerfSample.
func CoreToPerfSample(p core.PerfSample) model.PerfSample {
	return model.PerfSample{
		Time:           p.Time,
		Goroutines:     uint16(p.Goroutines),
		HeapAllocBytes: p.HeapAllocBytes,
		Sessions:       uint16(p.Sessions),
		Engine: model.EngineCounters{
			TotalCalculations:  p.Engine.TotalCalculations,
			CacheHits:          p.Engine.CacheHits,
			IncrementalUpdates: p.Engine.IncrementalUpdates,
			FullRecalculations: p.Engine.FullRecalculations,
		},
		CacheHitRate:      float32(p.CacheHitRate),
		AverageCalcMicros: float32(float64(p.Engine.AverageCalculation) / float64(time.Microsecond)),
	}
}
