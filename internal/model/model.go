package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every struct exported here that represents a table
// in the schema. Both dialects migrate the same set; SQLite stores the
// geometry and jsonb columns through type affinity.
var DatabaseModels = []interface{}{
	&ServiceInfo{},
	&Formation{},
	&FormationSlot{},
	&Snapshot{},
	&ValidationEvent{},
	&PerfSample{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// ServiceInfo contains group information about the instance
type ServiceInfo struct {
	gorm.Model
	GroupName        string `json:"groupName" gorm:"size:127"` // primary key
	GroupDescription string `json:"groupDescription" gorm:"size:255"`
	GroupWebsite     string `json:"groupURL" gorm:"size:255"`
}

func (*ServiceInfo) TableName() string {
	return "service_infos"
}

// PerfSample is the model for periodic service health samples
type PerfSample struct {
	Time              time.Time      `json:"time" gorm:"type:timestamptz;index:idx_time"`
	Goroutines        uint16         `json:"goroutines"`
	HeapAllocBytes    uint64         `json:"heapAllocBytes"`
	Sessions          uint16         `json:"sessions"`
	Engine            EngineCounters `json:"engine" gorm:"embedded;embeddedPrefix:engine_"`
	CacheHitRate      float32        `json:"cacheHitRate"`
	AverageCalcMicros float32        `json:"averageCalcMicros"`
}

func (*PerfSample) TableName() string {
	return "perf_samples"
}

// EngineCounters is the model for the calculator counter block
type EngineCounters struct {
	TotalCalculations  uint64 `json:"totalCalculations"`
	CacheHits          uint64 `json:"cacheHits"`
	IncrementalUpdates uint64 `json:"incrementalUpdates"`
	FullRecalculations uint64 `json:"fullRecalculations"`
}

////////////////////////
// LINEUP MODELS
////////////////////////

// Formation is a saved lineup: a named set of six slot entries plus the
// slot currently holding service
type Formation struct {
	gorm.Model
	Name       string          `json:"name" gorm:"size:127;uniqueIndex:idx_formation_name"`
	System     string          `json:"system" gorm:"size:16"` // rotation system label, e.g. 5-1 or 6-2
	ServerSlot uint8           `json:"serverSlot" gorm:"default:1"`
	Slots      []FormationSlot `json:"slots"`
}

func (*Formation) TableName() string {
	return "formations"
}

func (f *Formation) GetOrInsert(db *gorm.DB) (
	created bool,
	err error,
) {
	var existing Formation
	err = db.Where("name = ?", f.Name).First(&existing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// insert
			err = db.Create(f).Error
			return true, err
		}
		return false, err
	}
	// overwrite with db record if found
	*f = existing
	return false, nil
}

// FormationSlot is one roster entry inside a formation
// Uses composite primary key (FormationID, Slot) - at most one entry per rotation slot
type FormationSlot struct {
	FormationID uint       `json:"formationId" gorm:"primaryKey;autoIncrement:false"`
	Slot        uint8      `json:"slot" gorm:"primaryKey;autoIncrement:false"` // rotation slot 1-6
	Formation   Formation  `gorm:"foreignkey:FormationID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PlayerID    string     `json:"playerId" gorm:"size:64"`
	PlayerName  string     `json:"playerName" gorm:"size:64"`
	Role        string     `json:"role" gorm:"size:16"` // display label (S, OPP, OH, MB), not read by the rules
	Position    geom.Point `json:"position"`            // court position in meters as 2D point
	Customized  bool       `json:"customized" gorm:"default:false"`
}

func (*FormationSlot) TableName() string {
	return "formation_slots"
}

////////////////////////
// SESSION HISTORY MODELS
////////////////////////

// Snapshot is one captured lineup of a session, written after each applied move
type Snapshot struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time       time.Time      `json:"time" gorm:"type:timestamptz;index:idx_snapshot_time"`
	SessionID  string         `json:"sessionId" gorm:"size:64;index:idx_snapshot_session_id"`
	Seq        uint64         `json:"seq"`                                        // per-session sequence number
	IsLegal    bool           `json:"isLegal" gorm:"default:true"`
	States     datatypes.JSON `json:"states" gorm:"type:jsonb;default:'[]'"`     // six player states as JSON array
	Violations datatypes.JSON `json:"violations" gorm:"type:jsonb;default:'[]'"` // overlap violations as JSON array
}

func (*Snapshot) TableName() string {
	return "snapshots"
}

// ValidationEvent records one full-lineup validation outcome
type ValidationEvent struct {
	ID             uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time           time.Time      `json:"time" gorm:"type:timestamptz;index:idx_validationevent_time"`
	SessionID      string         `json:"sessionId" gorm:"size:64;index:idx_validationevent_session_id"`
	IsLegal        bool           `json:"isLegal" gorm:"default:true"`
	ViolationCount uint16         `json:"violationCount" gorm:"default:0"`
	Violations     datatypes.JSON `json:"violations" gorm:"type:jsonb;default:'[]'"`
	DurationMicros int64          `json:"durationMicros"` // wall time spent validating
}

func (*ValidationEvent) TableName() string {
	return "validation_events"
}
