package storage

import (
	"context"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_kv_changes_key", "idx_kv_changes_changed_at"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestHandle_SetGetRemove(t *testing.T) {
	s := openTestStore(t)
	h := s.NewHandle()

	if _, ok, err := h.GetItem("user"); err != nil || ok {
		t.Fatalf("GetItem on empty store: ok=%v err=%v", ok, err)
	}

	if err := h.SetItem("user", `{"name":"Ada"}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	v, ok, err := h.GetItem("user")
	if err != nil || !ok {
		t.Fatalf("GetItem: ok=%v err=%v", ok, err)
	}
	if v != `{"name":"Ada"}` {
		t.Errorf("value = %q", v)
	}

	if err := h.SetItem("user", `{"name":"Grace"}`); err != nil {
		t.Fatalf("SetItem overwrite: %v", err)
	}
	v, _, _ = h.GetItem("user")
	if v != `{"name":"Grace"}` {
		t.Errorf("value after overwrite = %q", v)
	}

	if err := h.RemoveItem("user"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if _, ok, _ := h.GetItem("user"); ok {
		t.Error("key still present after RemoveItem")
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys() = %v, want empty", keys)
	}
}

func TestRemoveMissingKeyRecordsNothing(t *testing.T) {
	s := openTestStore(t)
	h := s.NewHandle()

	if err := h.RemoveItem("ghost"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	head, err := s.ChangeHead()
	if err != nil {
		t.Fatalf("ChangeHead: %v", err)
	}
	if head != 0 {
		t.Errorf("ChangeHead = %d, want 0", head)
	}
}

func TestWatcher_SkipsOwnOrigin(t *testing.T) {
	s := openTestStore(t)
	writer := s.NewHandle()
	reader := s.NewHandle()

	w, err := reader.Watcher()
	if err != nil {
		t.Fatalf("Watcher: %v", err)
	}

	if err := reader.SetItem("own", "1"); err != nil {
		t.Fatal(err)
	}
	if err := writer.SetItem("usage_update", `{"globalWordsUsed":1}`); err != nil {
		t.Fatal(err)
	}
	if err := writer.RemoveItem("usage_update"); err != nil {
		t.Fatal(err)
	}

	changes, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(changes), changes)
	}
	if changes[0].Key != "usage_update" || changes[0].Removed {
		t.Errorf("first change = %+v, want set of usage_update", changes[0])
	}
	if !changes[1].Removed {
		t.Errorf("second change = %+v, want removal", changes[1])
	}
	if changes[0].Origin != writer.Origin() {
		t.Errorf("origin = %q, want writer origin", changes[0].Origin)
	}

	again, err := w.Poll()
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second poll returned %d changes, want 0", len(again))
	}
}

func TestWatcher_StartsAtHead(t *testing.T) {
	s := openTestStore(t)
	writer := s.NewHandle()
	if err := writer.SetItem("before", "x"); err != nil {
		t.Fatal(err)
	}

	w, err := s.NewHandle().Watcher()
	if err != nil {
		t.Fatalf("Watcher: %v", err)
	}
	changes, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("watcher delivered %d pre-existing changes", len(changes))
	}
}

func TestWatcher_BatchesLargeBacklog(t *testing.T) {
	s := openTestStore(t)
	writer := s.NewHandle()
	w, err := s.NewHandle().Watcher()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < watchBatch+5; i++ {
		if err := writer.SetItem("k", "v"); err != nil {
			t.Fatal(err)
		}
	}
	changes, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(changes) != watchBatch+5 {
		t.Errorf("got %d changes, want %d", len(changes), watchBatch+5)
	}
}

// TestWatcher_AcrossStores simulates two processes sharing one database file.
func TestWatcher_AcrossStores(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()
	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	w, err := s2.NewHandle().Watcher()
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.NewHandle().SetItem("user", `{"name":"Ada"}`); err != nil {
		t.Fatal(err)
	}

	changes, err := w.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(changes) != 1 || changes[0].Value != `{"name":"Ada"}` {
		t.Errorf("changes = %+v", changes)
	}
}

func TestWatcher_Run(t *testing.T) {
	s := openTestStore(t)
	writer := s.NewHandle()
	w, err := s.NewHandle().Watcher()
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Change, 4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx, 5*time.Millisecond, func(c Change) { got <- c })
	}()

	if err := writer.SetItem("k", "v"); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Key != "k" || c.Value != "v" {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	wg.Wait()
}

func TestPruneChanges(t *testing.T) {
	s := openTestStore(t)
	h := s.NewHandle()
	for i := 0; i < 3; i++ {
		if err := h.SetItem("k", "v"); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PruneChanges(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneChanges: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned %d, want 3", n)
	}
	if v, ok, _ := h.GetItem("k"); !ok || v != "v" {
		t.Error("pruning the change log must not touch items")
	}
}
