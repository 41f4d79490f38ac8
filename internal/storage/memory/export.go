// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/courtkit/rotation/pkg/core"
)

// Export is the root JSON structure written on Close
type Export struct {
	ExportedAt time.Time              `json:"exportedAt"`
	Formations []core.Formation       `json:"formations"`
	Snapshots  []core.Snapshot        `json:"snapshots"`
	Events     []core.ValidationEvent `json:"events"`
	Samples    []core.PerfSample      `json:"samples"`
}

// exportJSON writes the accumulated data to a JSON file. Callers must hold
// the write lock. Nothing is written when the backend saw no data.
func (b *Backend) exportJSON() error {
	if len(b.formations) == 0 && len(b.snapshots) == 0 && len(b.events) == 0 {
		return nil
	}

	export := b.buildExport()

	timestamp := export.ExportedAt.Format("20060102_150405")
	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("formations_%s.json.gz", timestamp)
	} else {
		filename = fmt.Sprintf("formations_%s.json", timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() Export {
	export := Export{
		ExportedAt: time.Now(),
		Formations: make([]core.Formation, 0, len(b.formations)),
		Snapshots:  make([]core.Snapshot, len(b.snapshots)),
		Events:     make([]core.ValidationEvent, len(b.events)),
		Samples:    make([]core.PerfSample, len(b.samples)),
	}

	for _, f := range b.formations {
		export.Formations = append(export.Formations, copyFormation(*f))
	}
	sort.Slice(export.Formations, func(i, j int) bool {
		return export.Formations[i].Name < export.Formations[j].Name
	})
	copy(export.Snapshots, b.snapshots)
	copy(export.Events, b.events)
	copy(export.Samples, b.samples)

	return export
}

func (b *Backend) writeJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func (b *Backend) writeGzipJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
