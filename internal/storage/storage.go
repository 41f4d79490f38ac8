// internal/storage/storage.go
package storage

import "github.com/courtkit/rotation/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Formation management (SaveFormation assigns the stored ID to the
	// passed pointer)
	SaveFormation(f *core.Formation) error
	LoadFormation(name string) (*core.Formation, error)
	ListFormations() ([]core.Formation, error)
	DeleteFormation(name string) error

	// Session history recording
	WriteSnapshot(s *core.Snapshot) error
	WriteValidationEvent(e *core.ValidationEvent) error
}

// PerfSink is an optional interface for storage backends that can persist
// periodic health samples from the monitor.
type PerfSink interface {
	WritePerfSample(p *core.PerfSample) error
}

// Exporter is an optional interface for storage backends that produce a
// local export file on Close.
type Exporter interface {
	GetExportPath() string
}
