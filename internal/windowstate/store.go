// File: internal/windowstate/store.go
package windowstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists the session_key -> arrangement map as a single
// JSON document, rewritten atomically on every save. Volume is tiny
// (one record per logical session), so a full rewrite is fine.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the parent directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create state directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Load(sessionKey string) (schemas.WindowSession, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.readAll()
	if err != nil {
		return schemas.WindowSession{}, false, err
	}
	ws, ok := all[sessionKey]
	return ws, ok, nil
}

func (f *FileStore) Save(session schemas.WindowSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.readAll()
	if err != nil {
		return err
	}
	all[session.SessionKey] = session
	return f.writeAll(all)
}

func (f *FileStore) Delete(sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.readAll()
	if err != nil {
		return err
	}
	delete(all, sessionKey)
	return f.writeAll(all)
}

func (f *FileStore) readAll() (map[string]schemas.WindowSession, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]schemas.WindowSession{}, nil
		}
		return nil, fmt.Errorf("cannot read window state: %w", err)
	}
	all := map[string]schemas.WindowSession{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("corrupt window state file: %w", err)
	}
	return all, nil
}

func (f *FileStore) writeAll(all map[string]schemas.WindowSession) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode window state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write window state: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// MemoryStore is an in-memory ArrangementStore for tests and ephemeral
// runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]schemas.WindowSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]schemas.WindowSession)}
}

func (m *MemoryStore) Load(sessionKey string) (schemas.WindowSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.sessions[sessionKey]
	return ws, ok, nil
}

func (m *MemoryStore) Save(session schemas.WindowSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionKey] = session
	return nil
}

func (m *MemoryStore) Delete(sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey)
	return nil
}
