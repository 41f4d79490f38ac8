// Package gormstorage implements the storage.Backend interface on GORM,
// targeting PostgreSQL with an embedded SQLite fallback for offline use.
package gormstorage

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/courtkit/rotation/internal/database"
	"github.com/courtkit/rotation/internal/model"
	"github.com/courtkit/rotation/internal/model/convert"
	"github.com/courtkit/rotation/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// Manager may be injected for tests. When nil, Init creates one and
	// connects it using the configured db.* settings.
	Manager      *database.Manager
	Logger       zerolog.Logger
	SqlitePath   string
	DumpInterval time.Duration
}

// Backend implements storage.Backend using GORM. Writes are synchronous;
// callers that need buffering put a worker pool in front of the backend.
type Backend struct {
	deps     Dependencies
	stopChan chan struct{}
	dbReady  bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps: deps,
	}
}

// Init connects to the database, runs schema migration, and starts the
// periodic disk dump when running on the in-memory SQLite fallback.
func (b *Backend) Init() error {
	b.stopChan = make(chan struct{})

	if b.deps.Manager == nil {
		m := database.NewManager(b.deps.Logger)
		m.SqliteFilePath = b.deps.SqlitePath
		if err := m.Connect(); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		b.deps.Manager = m
	}

	if err := b.deps.Manager.Setup(); err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}
	b.dbReady = true

	b.deps.Logger.Info().
		Str("dialect", b.deps.Manager.DB.Dialector.Name()).
		Bool("local", b.deps.Manager.ShouldSaveLocal).
		Msg("GORM storage backend ready")

	if b.deps.Manager.ShouldSaveLocal && b.deps.Manager.SqliteFilePath != "" && b.deps.DumpInterval > 0 {
		go b.dumpLoop()
	}
	return nil
}

// dumpLoop flushes the in-memory SQLite database to disk on a fixed interval
// so a crash loses at most one interval of work.
func (b *Backend) dumpLoop() {
	ticker := time.NewTicker(b.deps.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.deps.Manager.DumpMemoryToDisk(); err != nil {
				b.deps.Logger.Error().Err(err).Msg("Failed to dump memory DB to disk")
			}
		case <-b.stopChan:
			return
		}
	}
}

// Close stops the dump goroutine, writes a final disk dump when running on
// the SQLite fallback, and closes the underlying connection.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
	}
	if b.deps.Manager == nil {
		return nil
	}
	if b.dbReady && b.deps.Manager.ShouldSaveLocal && b.deps.Manager.SqliteFilePath != "" {
		if err := b.deps.Manager.DumpMemoryToDisk(); err != nil {
			b.deps.Logger.Error().Err(err).Msg("Failed to write final DB dump")
		}
	}
	return b.deps.Manager.Close()
}

// SaveFormation upserts a formation by name. Slot rows are replaced wholesale
// rather than diffed. The DB-assigned ID and timestamps are written back to f.
func (b *Backend) SaveFormation(f *core.Formation) error {
	if f.Name == "" {
		return fmt.Errorf("formation name must not be empty")
	}
	db := b.deps.Manager.DB

	gormObj := convert.CoreToFormation(*f)
	slots := gormObj.Slots
	gormObj.Slots = nil
	gormObj.ID = 0

	var existing model.Formation
	err := db.Where("name = ?", gormObj.Name).First(&existing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			if err = db.Create(&gormObj).Error; err != nil {
				return fmt.Errorf("failed to create formation %s: %w", gormObj.Name, err)
			}
		} else {
			return fmt.Errorf("failed to find formation %s: %w", gormObj.Name, err)
		}
	} else {
		if err = db.Model(&existing).Updates(map[string]interface{}{
			"system":      gormObj.System,
			"server_slot": gormObj.ServerSlot,
		}).Error; err != nil {
			return fmt.Errorf("failed to update formation %s: %w", gormObj.Name, err)
		}
		if err = db.Where("formation_id = ?", existing.ID).Delete(&model.FormationSlot{}).Error; err != nil {
			return fmt.Errorf("failed to clear slots for formation %s: %w", gormObj.Name, err)
		}
		gormObj.ID = existing.ID
		gormObj.CreatedAt = existing.CreatedAt
		gormObj.UpdatedAt = existing.UpdatedAt
	}

	for i := range slots {
		slots[i].FormationID = gormObj.ID
	}
	if len(slots) > 0 {
		if err = db.Create(&slots).Error; err != nil {
			return fmt.Errorf("failed to insert slots for formation %s: %w", gormObj.Name, err)
		}
	}

	// Assign DB-generated values back to the core type
	f.ID = gormObj.ID
	f.CreatedAt = gormObj.CreatedAt
	f.UpdatedAt = gormObj.UpdatedAt
	return nil
}

// LoadFormation retrieves a formation and its slot rows by name.
func (b *Backend) LoadFormation(name string) (*core.Formation, error) {
	db := b.deps.Manager.DB

	var gormObj model.Formation
	err := db.Where("name = ?", name).First(&gormObj).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%q: %w", name, core.ErrFormationNotFound)
		}
		return nil, fmt.Errorf("failed to load formation %s: %w", name, err)
	}

	if err = db.Where("formation_id = ?", gormObj.ID).Order("slot").Find(&gormObj.Slots).Error; err != nil {
		return nil, fmt.Errorf("failed to load slots for formation %s: %w", name, err)
	}

	coreObj := convert.FormationToCore(gormObj)
	return &coreObj, nil
}

// ListFormations returns all stored formations ordered by name.
func (b *Backend) ListFormations() ([]core.Formation, error) {
	db := b.deps.Manager.DB

	var gormObjs []model.Formation
	if err := db.Order("name").Find(&gormObjs).Error; err != nil {
		return nil, fmt.Errorf("failed to list formations: %w", err)
	}

	out := make([]core.Formation, 0, len(gormObjs))
	for i := range gormObjs {
		err := db.Where("formation_id = ?", gormObjs[i].ID).Order("slot").Find(&gormObjs[i].Slots).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load slots for formation %s: %w", gormObjs[i].Name, err)
		}
		out = append(out, convert.FormationToCore(gormObjs[i]))
	}
	return out, nil
}

// DeleteFormation removes a formation and its slot rows by name. The parent
// row is deleted unscoped so the name can be reused immediately.
func (b *Backend) DeleteFormation(name string) error {
	db := b.deps.Manager.DB

	var gormObj model.Formation
	err := db.Where("name = ?", name).First(&gormObj).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("%q: %w", name, core.ErrFormationNotFound)
		}
		return fmt.Errorf("failed to find formation %s: %w", name, err)
	}

	if err = db.Where("formation_id = ?", gormObj.ID).Delete(&model.FormationSlot{}).Error; err != nil {
		return fmt.Errorf("failed to delete slots for formation %s: %w", name, err)
	}
	if err = db.Unscoped().Delete(&gormObj).Error; err != nil {
		return fmt.Errorf("failed to delete formation %s: %w", name, err)
	}
	return nil
}

// WriteSnapshot inserts one snapshot row.
func (b *Backend) WriteSnapshot(s *core.Snapshot) error {
	gormObj := convert.CoreToSnapshot(*s)
	if err := b.deps.Manager.DB.Create(&gormObj).Error; err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// WriteValidationEvent inserts one validation event row.
func (b *Backend) WriteValidationEvent(e *core.ValidationEvent) error {
	gormObj := convert.CoreToValidationEvent(*e)
	if err := b.deps.Manager.DB.Create(&gormObj).Error; err != nil {
		return fmt.Errorf("failed to insert validation event: %w", err)
	}
	return nil
}

// WritePerfSample inserts one performance sample row.
func (b *Backend) WritePerfSample(p *core.PerfSample) error {
	gormObj := convert.CoreToPerfSample(*p)
	if err := b.deps.Manager.DB.Create(&gormObj).Error; err != nil {
		return fmt.Errorf("failed to insert perf sample: %w", err)
	}
	return nil
}
