// internal/storage/memory/memory_test.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/courtkit/rotation/internal/config"
	"github.com/courtkit/rotation/pkg/core"
)

func testFormation(name string) *core.Formation {
	return &core.Formation{
		Name:       name,
		System:     "5-1",
		ServerSlot: core.SlotRightBack,
		Players: []core.FormationPlayer{
			{PlayerID: "p1", Slot: 1, X: 7, Y: 7},
			{PlayerID: "p2", Slot: 2, X: 7, Y: 3},
			{PlayerID: "p3", Slot: 3, X: 4.5, Y: 3},
			{PlayerID: "p4", Slot: 4, X: 2, Y: 3},
			{PlayerID: "p5", Slot: 5, X: 2, Y: 7},
			{PlayerID: "p6", Slot: 6, X: 4.5, Y: 7},
		},
	}
}

func TestNew(t *testing.T) {
	cfg := config.MemoryConfig{
		OutputDir:      "/tmp/test",
		CompressOutput: true,
	}
	b := New(cfg)

	if b == nil {
		t.Fatal("New returned nil")
	}
	if b.cfg.OutputDir != "/tmp/test" {
		t.Errorf("expected OutputDir=/tmp/test, got %s", b.cfg.OutputDir)
	}
	if !b.cfg.CompressOutput {
		t.Error("expected CompressOutput=true")
	}
	if b.formations == nil {
		t.Error("formations map not initialized")
	}
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.Init(); err != nil {
		t.Errorf("Init failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestSaveFormation(t *testing.T) {
	b := New(config.MemoryConfig{})

	f := testFormation("starting six")
	if err := b.SaveFormation(f); err != nil {
		t.Fatalf("SaveFormation failed: %v", err)
	}

	if f.ID == 0 {
		t.Error("ID not assigned to passed pointer")
	}
	if f.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if f.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestSaveFormation_OverwriteKeepsIdentity(t *testing.T) {
	b := New(config.MemoryConfig{})

	f1 := testFormation("receive")
	if err := b.SaveFormation(f1); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	f2 := testFormation("receive")
	f2.Players[0].X = 6.5
	if err := b.SaveFormation(f2); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if f2.ID != f1.ID {
		t.Errorf("overwrite changed ID: %d != %d", f2.ID, f1.ID)
	}
	if !f2.CreatedAt.Equal(f1.CreatedAt) {
		t.Error("overwrite changed CreatedAt")
	}

	loaded, err := b.LoadFormation("receive")
	if err != nil {
		t.Fatalf("LoadFormation failed: %v", err)
	}
	if loaded.Players[0].X != 6.5 {
		t.Errorf("overwrite did not store new position, got %v", loaded.Players[0].X)
	}
}

func TestSaveFormation_EmptyName(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.SaveFormation(&core.Formation{}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestLoadFormation_NotFound(t *testing.T) {
	b := New(config.MemoryConfig{})

	_, err := b.LoadFormation("missing")
	if err == nil {
		t.Fatal("expected error for missing formation")
	}
	if !errors.Is(err, core.ErrFormationNotFound) {
		t.Errorf("expected ErrFormationNotFound, got %v", err)
	}
}

func TestLoadFormation_ReturnsCopy(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.SaveFormation(testFormation("base")); err != nil {
		t.Fatalf("SaveFormation failed: %v", err)
	}

	loaded, err := b.LoadFormation("base")
	if err != nil {
		t.Fatalf("LoadFormation failed: %v", err)
	}
	loaded.Players[0].X = 99

	again, err := b.LoadFormation("base")
	if err != nil {
		t.Fatalf("second LoadFormation failed: %v", err)
	}
	if again.Players[0].X == 99 {
		t.Error("mutating a loaded formation changed stored state")
	}
}

func TestListFormations_SortedByName(t *testing.T) {
	b := New(config.MemoryConfig{})

	for _, name := range []string{"zebra", "alpha", "mid"} {
		if err := b.SaveFormation(testFormation(name)); err != nil {
			t.Fatalf("SaveFormation(%s) failed: %v", name, err)
		}
	}

	list, err := b.ListFormations()
	if err != nil {
		t.Fatalf("ListFormations failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 formations, got %d", len(list))
	}
	if list[0].Name != "alpha" || list[1].Name != "mid" || list[2].Name != "zebra" {
		t.Errorf("not sorted by name: %s, %s, %s", list[0].Name, list[1].Name, list[2].Name)
	}
}

func TestDeleteFormation(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.SaveFormation(testFormation("gone")); err != nil {
		t.Fatalf("SaveFormation failed: %v", err)
	}
	if err := b.DeleteFormation("gone"); err != nil {
		t.Fatalf("DeleteFormation failed: %v", err)
	}
	if _, err := b.LoadFormation("gone"); !errors.Is(err, core.ErrFormationNotFound) {
		t.Error("formation still loadable after delete")
	}

	if err := b.DeleteFormation("gone"); !errors.Is(err, core.ErrFormationNotFound) {
		t.Errorf("expected ErrFormationNotFound on double delete, got %v", err)
	}
}

func TestWriteSnapshot_BoundedRing(t *testing.T) {
	b := New(config.MemoryConfig{})

	for i := 0; i < maxSnapshots+10; i++ {
		snap := &core.Snapshot{SessionID: "s", Seq: uint64(i)}
		if err := b.WriteSnapshot(snap); err != nil {
			t.Fatalf("WriteSnapshot failed: %v", err)
		}
	}

	snaps := b.Snapshots()
	if len(snaps) != maxSnapshots {
		t.Fatalf("expected ring capped at %d, got %d", maxSnapshots, len(snaps))
	}
	if snaps[0].Seq != 10 {
		t.Errorf("expected oldest surviving seq 10, got %d", snaps[0].Seq)
	}
	if snaps[len(snaps)-1].Seq != uint64(maxSnapshots+9) {
		t.Errorf("expected newest seq %d, got %d", maxSnapshots+9, snaps[len(snaps)-1].Seq)
	}
}

func TestWriteValidationEvent(t *testing.T) {
	b := New(config.MemoryConfig{})

	evt := &core.ValidationEvent{
		SessionID:      "s1",
		IsLegal:        false,
		ViolationCount: 1,
		Violations: []core.Violation{
			{Code: core.ViolationRowOrder, Slots: []core.Slot{4, 3}},
		},
	}
	if err := b.WriteValidationEvent(evt); err != nil {
		t.Fatalf("WriteValidationEvent failed: %v", err)
	}

	events := b.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Violations[0].Code != core.ViolationRowOrder {
		t.Error("violation payload not stored")
	}
}

func TestWritePerfSample(t *testing.T) {
	b := New(config.MemoryConfig{})

	sample := &core.PerfSample{Goroutines: 8, Sessions: 2}
	if err := b.WritePerfSample(sample); err != nil {
		t.Fatalf("WritePerfSample failed: %v", err)
	}
	if len(b.samples) != 1 {
		t.Errorf("expected 1 sample, got %d", len(b.samples))
	}
}

func TestConcurrentAccess(t *testing.T) {
	b := New(config.MemoryConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("formation-%d", n)
			_ = b.SaveFormation(testFormation(name))
			_, _ = b.LoadFormation(name)
			_ = b.WriteSnapshot(&core.Snapshot{SessionID: name})
			_ = b.WriteValidationEvent(&core.ValidationEvent{SessionID: name})
		}(i)
	}
	wg.Wait()

	list, err := b.ListFormations()
	if err != nil {
		t.Fatalf("ListFormations failed: %v", err)
	}
	if len(list) != 10 {
		t.Errorf("expected 10 formations, got %d", len(list))
	}
	if len(b.Snapshots()) != 10 {
		t.Errorf("expected 10 snapshots, got %d", len(b.Snapshots()))
	}
}

func TestClose_WritesCompressedExport(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})

	if err := b.SaveFormation(testFormation("exported")); err != nil {
		t.Fatalf("SaveFormation failed: %v", err)
	}
	_ = b.WriteSnapshot(&core.Snapshot{SessionID: "s", Seq: 1, Time: time.Now()})

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	path := b.GetExportPath()
	if path == "" {
		t.Fatal("no export path recorded")
	}
	if !strings.HasSuffix(path, ".json.gz") {
		t.Errorf("expected .json.gz suffix, got %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("export file not readable: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("export not gzip: %v", err)
	}
	defer gz.Close()

	var export Export
	if err := json.NewDecoder(gz).Decode(&export); err != nil {
		t.Fatalf("export not valid JSON: %v", err)
	}
	if len(export.Formations) != 1 || export.Formations[0].Name != "exported" {
		t.Error("export missing saved formation")
	}
	if len(export.Snapshots) != 1 {
		t.Error("export missing snapshot")
	}
}

func TestClose_WritesPlainExport(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: false})

	if err := b.SaveFormation(testFormation("plain")); err != nil {
		t.Fatalf("SaveFormation failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	path := b.GetExportPath()
	if !strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.gz") {
		t.Errorf("expected plain .json suffix, got %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("export file not readable: %v", err)
	}
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("export not valid JSON: %v", err)
	}
	if len(export.Formations) != 1 {
		t.Error("export missing formation")
	}
}

func TestClose_NoData_NoFile(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if b.GetExportPath() != "" {
		t.Error("export written with no data")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty output dir, found %d entries", len(entries))
	}
}
