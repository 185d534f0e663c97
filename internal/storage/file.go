package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "dyncron/pkg/logx"
)

// fileStore keeps every key in memory and rewrites one JSON snapshot on each
// mutation (tmp file + rename, so a crash leaves either the old or the new
// snapshot). Values are stored base64-encoded by encoding/json.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	m      map[string][]byte
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	m := map[string][]byte{}
	if err := loadSnapshot(path, m); err != nil && !errors.Is(err, os.ErrNotExist) {
		// A damaged snapshot is treated as empty; records inside it are
		// unrecoverable anyway and callers fall back to defaults.
		log.Warn("storage snapshot unreadable; starting empty", logx.String("path", path), logx.Err(err))
		m = map[string][]byte{}
	}

	return &fileStore{log: log, path: path, m: m}, nil
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *fileStore) Put(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.m[key]
	s.m[key] = append([]byte(nil), val...)
	if err := s.writeLocked(); err != nil {
		if had {
			s.m[key] = prev
		} else {
			delete(s.m, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.m[key]
	if !had {
		return nil
	}
	delete(s.m, key)
	if err := s.writeLocked(); err != nil {
		s.m[key] = prev
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) writeLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.m); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func loadSnapshot(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]byte
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
