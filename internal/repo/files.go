package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/Draggon233/gift-song/internal/domain"
)

// FileStore keeps state in two JSON documents: the registry
// (processed users, sent messages, per-day stats) and the run statistics.
type FileStore struct {
	registryPath string
	statsPath    string
	mu           sync.Mutex
}

func NewFileStore(registryPath, statsPath string) *FileStore {
	return &FileStore{registryPath: registryPath, statsPath: statsPath}
}

func (s *FileStore) Load(_ context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.readRegistry()
	if err != nil {
		return State{}, domain.E(domain.KindPersistence, "load registry", err)
	}
	stats, err := s.readStats()
	if err != nil {
		return State{}, domain.E(domain.KindPersistence, "load stats", err)
	}

	st := reg.state()
	st.Stats = stats.statistics()
	return st, nil
}

// Commit re-reads both documents, applies c and replaces each file
// atomically. A failed write leaves the previous file in place.
func (s *FileStore) Commit(_ context.Context, c Commit) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.readRegistry()
	if err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit registry", err)
	}
	stats, err := s.readStats()
	if err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit stats", err)
	}

	reg.apply(c)
	stats.apply(c)

	if err := writeJSON(s.registryPath, reg); err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit registry", err)
	}
	if err := writeJSON(s.statsPath, stats); err != nil {
		return Statistics{}, domain.E(domain.KindPersistence, "commit stats", err)
	}
	return stats.statistics(), nil
}

func (s *FileStore) readRegistry() (*RegistryDoc, error) {
	doc := newRegistryDoc()
	if err := readJSON(s.registryPath, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *FileStore) readStats() (*StatsDoc, error) {
	doc := newStatsDoc()
	if err := readJSON(s.statsPath, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// readJSON leaves v untouched when the file does not exist yet.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // ссылки в сообщениях храним как есть
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}
