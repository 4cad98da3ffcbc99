package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileStoreに保存したセッションがそのまま読めることを検証
func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)
	ctx := context.Background()
	avatar := "https://cdn.example.com/a.png"
	want := sampleSession(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	want.User.Avatar = &avatar

	if err := store.Set(ctx, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permission = %o, want 600", perm)
	}
}

// 上書き保存で一時ファイルが残らないことを検証
func TestFileStore_Overwrite_NoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "session.json"))
	ctx := context.Background()

	first := sampleSession(time.Now().Add(time.Hour))
	second := sampleSession(time.Now().Add(2 * time.Hour))
	second.AccessToken = "access-2"

	if err := store.Set(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx)
	if got.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want access-2", got.AccessToken)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the session file, got %d entries", len(entries))
	}
}

// ファイルやキーがない場合はnil, nilを返すことを検証
func TestFileStore_Get_Absent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if s, err := NewFileStore(filepath.Join(dir, "missing.json")).Get(ctx); s != nil || err != nil {
		t.Errorf("missing file: %v, %v", s, err)
	}

	other := filepath.Join(dir, "other.json")
	if err := writeFile(other, `{"other_key": {}}`); err != nil {
		t.Fatal(err)
	}
	if s, err := NewFileStore(other).Get(ctx); s != nil || err != nil {
		t.Errorf("missing key: %v, %v", s, err)
	}
}

// 不正なファイル内容がErrCorruptSessionになることを検証
func TestFileStore_Get_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := writeFile(path, `not json`); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Get(context.Background()); !errors.Is(err, ErrCorruptSession) {
		t.Errorf("expected ErrCorruptSession, got %v", err)
	}
}

// Clearが冪等であることを検証
func TestFileStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)
	ctx := context.Background()

	store.Set(ctx, sampleSession(time.Now().Add(time.Hour)))
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if fileExists(path) {
		t.Error("file should be removed")
	}
	if err := store.Clear(ctx); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

// MemoryStoreの返却値を書き換えても保存内容が変わらないことを検証
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Set(ctx, sampleSession(time.Now().Add(time.Hour)))

	got, _ := store.Get(ctx)
	got.AccessToken = "changed"

	again, _ := store.Get(ctx)
	if again.AccessToken != "access-1" {
		t.Errorf("stored session was mutated: %q", again.AccessToken)
	}
}

func TestSession_Expired(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := sampleSession(at)

	if s.Expired(at.Add(-time.Millisecond)) {
		t.Error("should not be expired before expiresAt")
	}
	if !s.Expired(at) {
		t.Error("should be expired at expiresAt")
	}
}
