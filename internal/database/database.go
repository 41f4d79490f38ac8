// Package database owns the GORM connection the gormstorage backend
// writes through. Postgres is the primary target; when it cannot be
// reached the manager falls back to an embedded SQLite database so the
// service still comes up.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/courtkit/rotation/internal/config"
	"github.com/courtkit/rotation/internal/model"
)

const maxOpenConns = 10

// Manager holds the active connection and where it ended up pointing.
// ShouldSaveLocal is true when the SQLite fallback is in use; the
// in-memory variant then dumps to SqliteFilePath.
type Manager struct {
	DB              *gorm.DB
	SqlDB           *sql.DB
	IsValid         bool
	ShouldSaveLocal bool
	SqliteFilePath  string
	Logger          zerolog.Logger
}

// NewManager creates an unconnected manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{Logger: log}
}

// Connect tries Postgres first and falls back to SQLite when the open
// or the ping fails.
func (m *Manager) Connect() error {
	db, err := m.GetPostgresDB()
	if err == nil {
		err = m.adopt(db)
	}
	if err != nil {
		m.Logger.Error().Err(err).Msg("Postgres unavailable, falling back to embedded SQLite")
		m.ShouldSaveLocal = true

		db, err = m.GetSqliteDB("")
		if err == nil {
			err = m.adopt(db)
		}
		if err != nil {
			m.IsValid = false
			return fmt.Errorf("sqlite fallback: %w", err)
		}
	}

	m.IsValid = true
	if !m.ShouldSaveLocal {
		m.SqlDB.SetMaxOpenConns(maxOpenConns)
	}
	m.Logger.Info().Str("dialect", m.DB.Dialector.Name()).Msg("Connected to database")
	return nil
}

// adopt wires db in as the active connection after verifying it answers
// a ping.
func (m *Manager) adopt(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("accessing sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return err
	}
	m.DB = db
	m.SqlDB = sqlDB
	return nil
}

// GetPostgresDB opens a connection using the configured db.* settings.
func (m *Manager) GetPostgresDB() (*gorm.DB, error) {
	c := config.GetDatabaseConfig()
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database)

	m.Logger.Debug().Str("host", c.Host).Str("database", c.Database).Msg("Connecting to Postgres")

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB opens a file-backed SQLite database, or the shared
// in-memory one when path is empty.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	source := path
	if source == "" {
		source = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(source), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		m.IsValid = false
		return nil, err
	}

	// Snapshot durability comes from the periodic disk dump, so the
	// journal can stay in memory.
	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	if path != "" {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	} else {
		m.Logger.Info().Msg("Using in-memory SQLite DB with periodic disk dump")
	}
	return db, nil
}

// Setup migrates the schema and seeds the service_infos row on a fresh
// database.
func (m *Manager) Setup() error {
	if !m.DB.Migrator().HasTable(&model.ServiceInfo{}) {
		if err := m.DB.AutoMigrate(&model.ServiceInfo{}); err != nil {
			m.IsValid = false
			return fmt.Errorf("creating service_infos: %w", err)
		}
		err := m.DB.Create(&model.ServiceInfo{
			GroupName:        "courtkit",
			GroupDescription: "rotation planning service",
			GroupWebsite:     "https://github.com/courtkit/rotation",
		}).Error
		if err != nil {
			m.IsValid = false
			return fmt.Errorf("seeding service_infos: %w", err)
		}
	}

	// FormationSlot.Position is a geometry column on Postgres.
	if m.DB.Dialector.Name() == "postgres" {
		if err := m.DB.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
			m.IsValid = false
			return fmt.Errorf("creating PostGIS extension: %w", err)
		}
	}

	m.Logger.Info().Msg("Migrating schema")
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		m.IsValid = false
		return fmt.Errorf("migrating schema: %w", err)
	}

	m.Logger.Info().Msg("Database setup complete")
	return nil
}

// DumpMemoryToDisk vacuums the in-memory database into SqliteFilePath,
// replacing any previous dump.
func (m *Manager) DumpMemoryToDisk() error {
	if m.SqliteFilePath == "" {
		return fmt.Errorf("sqlite file path not set")
	}

	if _, err := os.Stat(m.SqliteFilePath); err == nil {
		if err := os.Remove(m.SqliteFilePath); err != nil {
			return fmt.Errorf("removing previous dump: %w", err)
		}
	}

	start := time.Now()
	if err := m.DB.Exec("VACUUM INTO 'file:" + m.SqliteFilePath + "';").Error; err != nil {
		return fmt.Errorf("dumping memory DB to disk: %w", err)
	}

	m.Logger.Debug().Dur("duration", time.Since(start)).Msg("Dumped memory DB to disk")
	return nil
}

// Close closes the underlying sql connection.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}
