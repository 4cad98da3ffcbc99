package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// SessionKey はセッションを保存する固定キー。
const SessionKey = "hanumo_auth"

// ErrCorruptSession は保存内容をセッションとして読めない場合のエラー。
var ErrCorruptSession = errors.New("stored session is corrupt")

// SessionStore はクライアント側のセッション永続化先。
// Getは未保存ならnil, nilを返す。
type SessionStore interface {
	Get(ctx context.Context) (*Session, error)
	Set(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// MemoryStore はプロセス内にセッションを保持する。
// 返却値の書き換えが保存内容に影響しないようJSONで保持する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context) (*Session, error) {
	m.mu.Lock()
	data, ok := m.entries[SessionKey]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeSession(data)
}

func (m *MemoryStore) Set(_ context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	m.mu.Lock()
	m.entries[SessionKey] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	delete(m.entries, SessionKey)
	m.mu.Unlock()
	return nil
}

// FileStore はJSONファイルにセッションを保持する。
// ファイルは {SessionKey: Session} の形で、一時ファイルからのrenameで書き換える。
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore はpathに保存するFileStoreを生成する。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path は保存先ファイルのパスを返す。
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	raw, ok := entries[SessionKey]
	if !ok {
		return nil, nil
	}
	return decodeSession(raw)
}

func (f *FileStore) Set(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(map[string]*Session{SessionKey: s}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if !s.valid() {
		return nil, ErrCorruptSession
	}
	return &s, nil
}

var (
	_ SessionStore = (*MemoryStore)(nil)
	_ SessionStore = (*FileStore)(nil)
)
