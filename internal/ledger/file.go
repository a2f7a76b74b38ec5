package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type fileState struct {
	// Files maps server, then application, to deployed paths.
	Files       map[string]map[string][]string `json:"files"`
	Credentials map[string]Credential          `json:"credentials"`
	Servers     map[string]ServerState         `json:"servers"`
}

// FileStore keeps the ledger in a single JSON document.
type FileStore struct {
	path  string
	mu    sync.Mutex
	state fileState
}

func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, state: fileState{
		Files:       map[string]map[string][]string{},
		Credentials: map[string]Credential{},
		Servers:     map[string]ServerState{},
	}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if s.state.Files == nil {
		s.state.Files = map[string]map[string][]string{}
	}
	if s.state.Credentials == nil {
		s.state.Credentials = map[string]Credential{}
	}
	if s.state.Servers == nil {
		s.state.Servers = map[string]ServerState{}
	}
	return s, nil
}

func (s *FileStore) Files(_ context.Context, server, appUUID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.Files[server][appUUID]...), nil
}

func (s *FileStore) SaveFiles(_ context.Context, server, appUUID string, files []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	apps := s.state.Files[server]
	if len(files) == 0 {
		delete(apps, appUUID)
		if len(apps) == 0 {
			delete(s.state.Files, server)
		}
		return s.flush()
	}
	if apps == nil {
		apps = map[string][]string{}
		s.state.Files[server] = apps
	}
	apps[appUUID] = Union(files, nil)
	return s.flush()
}

func (s *FileStore) Placements(_ context.Context, appUUID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	servers := map[string]struct{}{}
	for server, apps := range s.state.Files {
		if len(apps[appUUID]) > 0 {
			servers[server] = struct{}{}
		}
	}
	return sortedKeys(servers), nil
}

func (s *FileStore) Credential(_ context.Context, appUUID string) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.Credentials[appUUID]
	return c, ok, nil
}

func (s *FileStore) SaveCredential(_ context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Credentials[c.AppUUID] = c
	return s.flush()
}

func (s *FileStore) DeleteCredential(_ context.Context, appUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Credentials, appUUID)
	return s.flush()
}

func (s *FileStore) Server(_ context.Context, name string) (ServerState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.Servers[name]
	return st, ok, nil
}

func (s *FileStore) SaveServer(_ context.Context, st ServerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Servers[st.Name] = st
	return s.flush()
}

func (s *FileStore) Close() error { return nil }

// flush replaces the file atomically. Callers hold mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
