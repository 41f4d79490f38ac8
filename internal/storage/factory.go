// internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/config"
	"github.com/courtkit/rotation/internal/storage/gormstorage"
	"github.com/courtkit/rotation/internal/storage/memory"
	"github.com/courtkit/rotation/internal/storage/websocket"
)

// Compile-time interface checks for all backends.
var (
	_ Backend = (*memory.Backend)(nil)
	_ Backend = (*gormstorage.Backend)(nil)
	_ Backend = (*websocket.Backend)(nil)

	_ PerfSink = (*memory.Backend)(nil)
	_ PerfSink = (*gormstorage.Backend)(nil)
	_ PerfSink = (*websocket.Backend)(nil)
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "database":
		return gormstorage.New(gormstorage.Dependencies{
			Logger:       log,
			SqlitePath:   cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
		}), nil
	case "websocket":
		return websocket.New(websocket.Config{
			URL:    cfg.Websocket.URL,
			Secret: cfg.Websocket.Secret,
		}, log), nil
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
