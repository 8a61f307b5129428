package mediacast

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// IdentifierStore is a durable set of chat/sender identifiers. The recipient
// registry and the blocklist are both instances of it. Mutations rewrite the
// backing store wholesale; order is insertion order and carries no meaning.
type IdentifierStore interface {
	// Add appends an identifier. It reports false when already present.
	Add(id int64) bool
	// Remove deletes an identifier. It reports false when absent.
	Remove(id int64) bool
	// Replace overwrites the whole list atomically, deduplicating while
	// preserving first occurrence order.
	Replace(ids []int64)
	Contains(id int64) bool
	Snapshot() []int64
	// Reload rereads the backing store, discarding in-memory state.
	Reload() error
	// Export returns the durable representation of the current list, the
	// artifact echoed back to the administrator after a mutation.
	Export() ([]byte, error)
	Close() error
}

// FileIdentifierStore keeps the list in a human-editable JSON integer array.
// A missing file is an empty list; malformed content resets the store to an
// empty list rather than failing. A failed save is logged and the in-memory
// mutation is kept, so the file may lag memory until the next successful
// write.
type FileIdentifierStore struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	ids []int64
}

func NewFileIdentifierStore(path string, logger *slog.Logger) (*FileIdentifierStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileIdentifierStore{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file location.
func (s *FileIdentifierStore) Path() string {
	return s.path
}

func (s *FileIdentifierStore) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if containsID(s.ids, id) {
		return false
	}
	s.ids = append(s.ids, id)
	s.saveLocked()
	return true
}

func (s *FileIdentifierStore) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.ids[:0]
	removed := false
	for _, existing := range s.ids {
		if existing == id {
			removed = true
			continue
		}
		filtered = append(filtered, existing)
	}
	if !removed {
		return false
	}
	s.ids = filtered
	s.saveLocked()
	return true
}

func (s *FileIdentifierStore) Replace(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = dedupeIDs(ids)
	s.saveLocked()
}

func (s *FileIdentifierStore) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsID(s.ids, id)
}

func (s *FileIdentifierStore) Snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...)
}

func (s *FileIdentifierStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.ids = []int64{}
			return nil
		}
		return err
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Error("identifier store is malformed, resetting to empty list", "path", s.path, "error", err)
		s.ids = []int64{}
		return nil
	}
	s.ids = dedupeIDs(ids)
	return nil
}

func (s *FileIdentifierStore) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return marshalIdentifierList(s.ids)
}

func (s *FileIdentifierStore) Close() error {
	return nil
}

// saveLocked rewrites the backing file wholesale. Write failures are logged
// and the in-memory list keeps the mutation; the file catches up on the next
// successful save.
func (s *FileIdentifierStore) saveLocked() {
	data, err := marshalIdentifierList(s.ids)
	if err != nil {
		s.logger.Error("failed to encode identifier store", "path", s.path, "error", err)
		return
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("failed to update identifier store", "path", s.path, "error", err)
			return
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("failed to update identifier store", "path", s.path, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("failed to update identifier store", "path", s.path, "error", err)
		return
	}
	s.logger.Info("updated identifier store", "path", s.path, "size", len(s.ids))
}

func marshalIdentifierList(ids []int64) ([]byte, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func dedupeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

const identifierListSchema = `{"type": "array", "items": {"type": "integer"}}`

var (
	identifierSchemaOnce sync.Once
	identifierSchema     *jsonschema.Schema
)

func compiledIdentifierListSchema() *jsonschema.Schema {
	identifierSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(identifierListSchema))
		if err != nil {
			panic(err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("identifier-list.json", doc); err != nil {
			panic(err)
		}
		identifierSchema = compiler.MustCompile("identifier-list.json")
	})
	return identifierSchema
}

// DecodeIdentifierList parses and validates a replacement-list payload. Any
// payload that is not a JSON array of integers is rejected before it can
// touch a store.
func DecodeIdentifierList(data []byte) ([]int64, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := compiledIdentifierListSchema().Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return ids, nil
}
