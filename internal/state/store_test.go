package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestPutGetRecord(t *testing.T) {
	db := testDB(t)

	rec := Record{
		Namespace:  "coordination/obj-1",
		Key:        "task/task-1",
		Value:      []byte(`{"status":"running"}`),
		Clock:      `{"coordinator":1}`,
		LastWriter: "coordinator",
		WrittenAt:  time.Now(),
	}
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	got, err := db.GetRecord("coordination/obj-1", "task/task-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if string(got.Value) != `{"status":"running"}` {
		t.Errorf("unexpected value: %s", got.Value)
	}
	if got.Clock != `{"coordinator":1}` {
		t.Errorf("unexpected clock: %s", got.Clock)
	}
	if got.LastWriter != "coordinator" {
		t.Errorf("unexpected last writer: %s", got.LastWriter)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetRecord("ns", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRecordUpsert(t *testing.T) {
	db := testDB(t)

	rec := Record{Namespace: "ns", Key: "k", Value: []byte("v1"), Clock: "{}", WrittenAt: time.Now()}
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("first put failed: %v", err)
	}

	rec.Value = []byte("v2")
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := db.GetRecord("ns", "k")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if string(got.Value) != "v2" {
		t.Errorf("expected v2 after upsert, got %s", got.Value)
	}
}

func TestListNamespace(t *testing.T) {
	db := testDB(t)

	now := time.Now()
	for _, key := range []string{"b", "a", "c"} {
		rec := Record{Namespace: "consensus/prop-1", Key: key, Clock: "{}", WrittenAt: now}
		if err := db.PutRecord(rec); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}
	other := Record{Namespace: "other", Key: "x", Clock: "{}", WrittenAt: now}
	if err := db.PutRecord(other); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	records, err := db.ListNamespace("consensus/prop-1")
	if err != nil {
		t.Fatalf("ListNamespace failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Ordered by key.
	if records[0].Key != "a" || records[1].Key != "b" || records[2].Key != "c" {
		t.Errorf("expected keys in order, got %v %v %v", records[0].Key, records[1].Key, records[2].Key)
	}
}

func TestDeleteExpired(t *testing.T) {
	db := testDB(t)

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	expired := Record{Namespace: "ns", Key: "old", Clock: "{}", WrittenAt: past, ExpiresAt: &past}
	live := Record{Namespace: "ns", Key: "new", Clock: "{}", WrittenAt: now, ExpiresAt: &future}
	forever := Record{Namespace: "ns", Key: "keep", Clock: "{}", WrittenAt: now}

	for _, r := range []Record{expired, live, forever} {
		if err := db.PutRecord(r); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}

	deleted, err := db.DeleteExpired(now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	if _, err := db.GetRecord("ns", "old"); !errors.Is(err, ErrNotFound) {
		t.Error("expected expired entry to be gone")
	}
	if _, err := db.GetRecord("ns", "new"); err != nil {
		t.Errorf("expected live entry to remain: %v", err)
	}
}

func TestNamespaces(t *testing.T) {
	db := testDB(t)

	now := time.Now()
	for _, ns := range []string{"knowledge/app", "coordination/obj-1"} {
		rec := Record{Namespace: ns, Key: "k", Clock: "{}", WrittenAt: now}
		if err := db.PutRecord(rec); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}

	names, err := db.Namespaces()
	if err != nil {
		t.Fatalf("Namespaces failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 namespaces, got %v", names)
	}
	if names[0] != "coordination/obj-1" || names[1] != "knowledge/app" {
		t.Errorf("unexpected namespace order: %v", names)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	rec := Record{Namespace: "ns", Key: "k", Value: []byte("v"), Clock: "{}", WrittenAt: time.Now()}
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	db.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate on reopen failed: %v", err)
	}

	got, err := db2.GetRecord("ns", "k")
	if err != nil {
		t.Fatalf("GetRecord after reopen failed: %v", err)
	}
	if string(got.Value) != "v" {
		t.Errorf("expected value to survive reopen, got %s", got.Value)
	}
}
