package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/zeroremorse/scrimbot/internal/record"
)

// Store keeps match records in a single JSON file keyed by record id.
// All mutations go through Update, which holds the store lock for the whole
// read-modify-write cycle so concurrent writers cannot drop each other's
// records.
type Store struct {
	path string
	mu   sync.Mutex
}

func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns all records. A missing or empty file reads as an empty map.
func (s *Store) Load() (map[string]record.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (map[string]record.MatchRecord, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]record.MatchRecord{}, nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(raw) == 0 {
		return map[string]record.MatchRecord{}, nil
	}
	var data map[string]record.MatchRecord
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode store %s: %w", s.path, err)
	}
	if data == nil {
		data = map[string]record.MatchRecord{}
	}
	return data, nil
}

func (s *Store) saveLocked(data map[string]record.MatchRecord) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// Update applies fn to the current contents and persists the result. If fn
// returns an error nothing is written.
func (s *Store) Update(fn func(data map[string]record.MatchRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	return s.saveLocked(data)
}

// Append persists rec under the next sequential id and returns that id.
func (s *Store) Append(rec record.MatchRecord) (string, error) {
	var id string
	err := s.Update(func(data map[string]record.MatchRecord) error {
		id = strconv.Itoa(len(data) + 1)
		rec.ID = id
		data[id] = rec
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Replace swaps the full contents of the store.
func (s *Store) Replace(data map[string]record.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == nil {
		data = map[string]record.MatchRecord{}
	}
	return s.saveLocked(data)
}

// Backup copies the current store file next to itself with a timestamp
// suffix and returns the backup path. A missing store file backs up as an
// empty object so the returned path always exists.
func (s *Store) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read store for backup: %w", err)
		}
		raw = []byte("{}")
	}
	backupPath := fmt.Sprintf("%s.backup-%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}
