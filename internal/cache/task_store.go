package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/openkg/toolagent/internal/adapters"
)

// FileTaskStore persists background task records as one JSON file, so task
// status survives agent restarts. Records never expire; the log files they
// point at are the operator's to rotate.
type FileTaskStore struct {
	records  map[string]adapters.TaskRecord
	mutex    sync.RWMutex
	filePath string
}

// NewFileTaskStore creates a store backed by the given file, loading any
// records a previous run left behind.
func NewFileTaskStore(filePath string) (*FileTaskStore, error) {
	s := &FileTaskStore{
		records:  make(map[string]adapters.TaskRecord),
		filePath: filePath,
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}
	s.loadFromFile()
	return s, nil
}

// Save implements adapters.TaskStore.
func (s *FileTaskStore) Save(record adapters.TaskRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[record.ID] = record
	return s.saveToFile()
}

// Load implements adapters.TaskStore.
func (s *FileTaskStore) Load(id string) (adapters.TaskRecord, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	record, found := s.records[id]
	return record, found, nil
}

// List implements adapters.TaskStore. Records come back newest first.
func (s *FileTaskStore) List() ([]adapters.TaskRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]adapters.TaskRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *FileTaskStore) loadFromFile() {
	file, err := os.Open(s.filePath)
	if err != nil {
		return
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.records); err != nil {
		log.Printf("Failed to decode task store (path: %s): %v", s.filePath, err)
	}
}

// saveToFile writes the record map; callers hold the write lock.
func (s *FileTaskStore) saveToFile() error {
	file, err := os.Create(s.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	return encoder.Encode(s.records)
}
