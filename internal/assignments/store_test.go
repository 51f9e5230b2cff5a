package assignments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testAssignment(taskID, agentID string) Assignment {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return Assignment{
		TaskID:       taskID,
		AgentID:      agentID,
		AssignedAt:   now,
		Instructions: "do the thing",
		LastUpdateAt: now,
	}
}

func TestFileStoreRecordAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "assignments.json")
	store := NewFileStore(path)

	if err := store.Record(testAssignment("t1", "a1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(testAssignment("t2", "a2")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	active := store.ListActive()
	if len(active) != 2 {
		t.Fatalf("active: got %d, want 2", len(active))
	}
	if active[0].TaskID != "t1" || active[1].TaskID != "t2" {
		t.Errorf("order: got %s, %s", active[0].TaskID, active[1].TaskID)
	}

	if err := store.Clear("t1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := store.Get("t1"); ok {
		t.Error("t1 still present after Clear")
	}

	// Clearing an unknown id is a no-op.
	if err := store.Clear("missing"); err != nil {
		t.Fatalf("Clear missing: %v", err)
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assignments.json")

	store := NewFileStore(path)
	if err := store.Record(testAssignment("t1", "a1")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// New store over the same file simulates a restart.
	reborn := NewFileStore(path)
	loaded, err := reborn.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded: got %d, want 1", len(loaded))
	}
	if loaded[0].TaskID != "t1" || loaded[0].AgentID != "a1" {
		t.Errorf("loaded: got %+v", loaded[0])
	}
	if loaded[0].Instructions != "do the thing" {
		t.Errorf("instructions not preserved: %q", loaded[0].Instructions)
	}
}

func TestFileStoreLoadAllMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil, got %v", loaded)
	}
}

func TestFileStoreFileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assignments.json")
	store := NewFileStore(path)

	if err := store.Record(testAssignment("t1", "a1")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// The on-disk shape is a JSON object keyed by task id.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var m map[string]Assignment
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["t1"]; !ok {
		t.Errorf("file not keyed by task id: %v", m)
	}

	// No leftover temp file.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("tmp file left behind")
	}
}

func TestFileStoreGetByAgent(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "assignments.json"))
	if err := store.Record(testAssignment("t1", "a1")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	a, ok := store.GetByAgent("a1")
	if !ok || a.TaskID != "t1" {
		t.Errorf("GetByAgent: got %+v, %v", a, ok)
	}
	if _, ok := store.GetByAgent("a2"); ok {
		t.Error("GetByAgent found unknown agent")
	}
}
