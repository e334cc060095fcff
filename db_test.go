package stratumkv

import (
	"bytes"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultConfig("db")
	cfg.FS = MemFS()
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDBPutGetDelete(t *testing.T) {
	db := newTestDB(t)

	if err := db.Put([]byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, err := db.Get([]byte("k"), 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Errorf("Get = %q, want 'v'", value)
	}

	if err := db.Delete([]byte("k"), 0); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("k"), 0); err != ErrNotFound {
		t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
	}
}

func TestDBTransactionCommit(t *testing.T) {
	db := newTestDB(t)

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("txn.Put: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	value, err := db.Get([]byte("a"), 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(value, []byte("1")) {
		t.Errorf("Get = %q, want '1'", value)
	}
}

func TestDBIterRange(t *testing.T) {
	db := newTestDB(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := db.Put([]byte(k), []byte(k), 0); err != nil {
			t.Fatalf("Put(%q): %v", k, err)
		}
	}

	it, err := db.IterRange(nil, nil, 0)
	if err != nil {
		t.Fatalf("IterRange: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	if len(got) != 3 {
		t.Errorf("IterRange visited %d keys, want 3", len(got))
	}
}

func TestDBForceFlushAndReopen(t *testing.T) {
	fs := MemFS()
	cfg := DefaultConfig("db")
	cfg.FS = fs

	db1, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Put([]byte("a"), []byte("1"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db1.ForceFlush(); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	value, err := db2.Get([]byte("a"), 0)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !bytes.Equal(value, []byte("1")) {
		t.Errorf("Get after reopen = %q, want '1'", value)
	}
}

func TestDBDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig("db")
	cfg.FS = MemFS()
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open with DefaultConfig: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
