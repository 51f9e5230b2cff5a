package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcushq/marcus/internal/events"
)

func TestEventLogger_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	bus.Publish(events.Event{
		ID:        "evt-1",
		Type:      events.EventAssignmentCreated,
		Timestamp: ts,
		Source:    events.SourceCoordinator,
		Payload:   map[string]any{"task_id": "t1", "agent_id": "a1"},
	})

	// Give the async subscriber time to process.
	time.Sleep(100 * time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "events-2026-03-14.jsonl"))
	if err != nil {
		t.Fatalf("read JSONL: %v", err)
	}

	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-1" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-1")
	}
	if got.Type != events.EventAssignmentCreated {
		t.Errorf("got type %q, want %q", got.Type, events.EventAssignmentCreated)
	}
	if got.Payload["task_id"] != "t1" {
		t.Errorf("payload: got %v", got.Payload)
	}
}

func TestEventLogger_ReconcileTickFiltering(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-tick",
		Type:      events.EventReconcileTick,
		Timestamp: time.Now(),
		Source:    events.SourceMonitor,
	})

	time.Sleep(100 * time.Millisecond)

	// No file should be created for tick-only traffic.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files, got %d", len(entries))
	}
}

func TestEventLogger_MultipleEventsAppended(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	types := []events.EventType{
		events.EventAgentRegistered,
		events.EventAssignmentCreated,
		events.EventTaskCompleted,
	}

	for i, et := range types {
		bus.Publish(events.Event{
			ID:        string(rune('a' + i)),
			Type:      et,
			Timestamp: ts,
			Source:    events.SourceCoordinator,
		})
	}

	time.Sleep(100 * time.Millisecond)

	f, err := os.Open(filepath.Join(dir, "events-2026-03-14.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var count int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e events.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %d: %v", count, err)
		}
		count++
	}
	if count != len(types) {
		t.Errorf("got %d events, want %d", count, len(types))
	}
}

func TestEventLogger_DirectoryAutoCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	ts := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	bus.Publish(events.Event{
		ID:        "evt-auto",
		Type:      events.EventBlockerReported,
		Timestamp: ts,
		Source:    events.SourceCoordinator,
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "events-2026-03-14.jsonl")); err != nil {
		t.Fatalf("directory not auto-created: %v", err)
	}
}
