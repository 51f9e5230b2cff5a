package assignments

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the persistence contract for active assignments.
type Store interface {
	// Record persists a new or updated active assignment. Durable before returning.
	Record(a Assignment) error
	// Clear removes the assignment for taskID. Durable before returning.
	// Clearing an unknown task id is a no-op.
	Clear(taskID string) error
	// LoadAll reads the persisted set from disk, replacing the in-memory view.
	LoadAll() ([]Assignment, error)
	// ListActive returns the current active set.
	ListActive() []Assignment
	// Get returns the assignment for taskID, if any.
	Get(taskID string) (Assignment, bool)
	// GetByAgent returns the assignment held by agentID, if any.
	GetByAgent(agentID string) (Assignment, bool)
}

// FileStore keeps the active set as a JSON object mapping task_id to
// Assignment in a single file. Every mutation rewrites the whole file via
// tmp + fsync + rename, so a crash leaves either the prior or the new state.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	active map[string]Assignment
}

// NewFileStore creates a FileStore writing to path. The parent directory is
// created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		active: make(map[string]Assignment),
	}
}

func (s *FileStore) Record(a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.active[a.TaskID]
	s.active[a.TaskID] = a

	if err := s.flush(); err != nil {
		// Roll back the in-memory mutation so memory and disk stay consistent.
		if existed {
			s.active[a.TaskID] = prev
		} else {
			delete(s.active, a.TaskID)
		}
		return fmt.Errorf("record assignment %s: %w", a.TaskID, err)
	}
	return nil
}

func (s *FileStore) Clear(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.active[taskID]
	if !existed {
		return nil
	}
	delete(s.active, taskID)

	if err := s.flush(); err != nil {
		s.active[taskID] = prev
		return fmt.Errorf("clear assignment %s: %w", taskID, err)
	}
	return nil
}

func (s *FileStore) LoadAll() ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.active = make(map[string]Assignment)
			return nil, nil
		}
		return nil, fmt.Errorf("read assignments: %w", err)
	}

	loaded := make(map[string]Assignment)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("unmarshal assignments: %w", err)
	}

	s.active = loaded
	return s.snapshot(), nil
}

func (s *FileStore) ListActive() []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *FileStore) Get(taskID string) (Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[taskID]
	return a, ok
}

func (s *FileStore) GetByAgent(agentID string) (Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.active {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return Assignment{}, false
}

// snapshot returns the active set sorted by task id. Callers hold s.mu.
func (s *FileStore) snapshot() []Assignment {
	out := make([]Assignment, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// flush atomically rewrites the assignments file. Callers hold s.mu.
func (s *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(s.active, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal assignments: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close tmp: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
