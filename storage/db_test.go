package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, kv := range [][2]string{
		{"feed/0002", "b"},
		{"feed/0001", "a"},
		{"meta/head", "2"},
		{"feed/0003", "c"},
	} {
		if err := db.Put([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("put %s: %v", kv[0], err)
		}
	}
	value, err := db.Get([]byte("meta/head"))
	if err != nil || string(value) != "2" {
		t.Fatalf("get meta/head = %q, %v", value, err)
	}

	var seen []string
	if err := db.Iterate([]byte("feed/"), func(key, value []byte) bool {
		seen = append(seen, string(key)+"="+string(value))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"feed/0001=a", "feed/0002=b", "feed/0003=c"}
	if len(seen) != len(want) {
		t.Fatalf("iterate returned %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("iterate returned %v, want %v", seen, want)
		}
	}

	count := 0
	_ = db.Iterate([]byte("feed/"), func(key, value []byte) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("iteration should stop early, visited %d", count)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "feed"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}
