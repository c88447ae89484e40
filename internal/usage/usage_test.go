package usage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/botdash/internal/backend"
	"github.com/kalambet/botdash/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		percent float64
		want    Level
	}{
		{0, Neutral},
		{74.9, Neutral},
		{75.0, Warning},
		{89.99, Warning},
		{90.0, Critical},
		{99.9, Critical},
		{100.0, Blocking},
		{250, Blocking},
	}
	for _, tt := range tests {
		if got := Classify(tt.percent); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.percent, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(50, 200); got != 25 {
		t.Errorf("Percent(50, 200) = %v", got)
	}
	if got := Percent(50, 0); got != 0 {
		t.Errorf("Percent with zero limit = %v, want 0", got)
	}
	if got := Percent(50, -1); got != 0 {
		t.Errorf("Percent with negative limit = %v, want 0", got)
	}
}

func TestMessage(t *testing.T) {
	if msg := Neutral.Message(Words); msg != "" {
		t.Errorf("neutral message = %q", msg)
	}
	if msg := Warning.Message(Storage); !strings.Contains(msg, "approaching your storage limit") {
		t.Errorf("warning message = %q", msg)
	}
	if msg := Critical.Message(Words); !strings.Contains(msg, "critical") {
		t.Errorf("critical message = %q", msg)
	}
	if msg := Blocking.Message(Words); !strings.Contains(msg, "reached your word limit") {
		t.Errorf("blocking message = %q", msg)
	}
}

func TestQuotas_SamePolicyForBothMetrics(t *testing.T) {
	u := backend.Usage{GlobalWordsUsed: 900, PlanLimit: 1000, GlobalStorageUsed: 90, StorageLimit: 100}
	w, s := WordsQuota(u), StorageQuota(u)
	if w.Level != "critical" || s.Level != "critical" {
		t.Errorf("levels = %s, %s; want critical for both", w.Level, s.Level)
	}
	if w.Percent != 90 || s.Percent != 90 {
		t.Errorf("percents = %v, %v", w.Percent, s.Percent)
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(v int64) *int64 { return &v }

func waitSnapshot(t *testing.T, ch <-chan backend.Usage) backend.Usage {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for usage update")
		return backend.Usage{}
	}
}

func TestSynchronizer_ConsumesOtherContextRecord(t *testing.T) {
	db := openStore(t)
	producer := db.NewHandle()
	consumer := db.NewHandle()

	s := NewSynchronizer(consumer, nil, 5*time.Millisecond)
	s.Set(backend.Usage{CurrentSessionWords: 50, PlanLimit: 1000})

	updates := make(chan backend.Usage, 4)
	s.Subscribe(func(u backend.Usage) { updates <- u })

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for i, words := range []int64{950, 975} {
		if err := Publish(producer, Update{GlobalWordsUsed: ptr(words), GlobalStorageUsed: ptr(200)}); err != nil {
			t.Fatal(err)
		}
		got := waitSnapshot(t, updates)
		if got.GlobalWordsUsed != words || got.GlobalStorageUsed != 200 {
			t.Errorf("update %d: snapshot = %+v", i, got)
		}
		if got.CurrentSessionWords != 50 || got.PlanLimit != 1000 {
			t.Errorf("update %d: untouched counters changed: %+v", i, got)
		}
		if _, ok, _ := consumer.GetItem(UpdateKey); ok {
			t.Errorf("update %d: record not removed after consumption", i)
		}
	}
}

func TestSynchronizer_IgnoresOwnWrites(t *testing.T) {
	db := openStore(t)
	h := db.NewHandle()

	s := NewSynchronizer(h, nil, 5*time.Millisecond)
	called := make(chan struct{}, 1)
	s.Subscribe(func(backend.Usage) { called <- struct{}{} })
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := Publish(h, Update{GlobalWordsUsed: ptr(10)}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-called:
		t.Fatal("synchronizer consumed a record written by its own context")
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok, _ := h.GetItem(UpdateKey); !ok {
		t.Error("own record was removed")
	}
}

func TestSynchronizer_PartialUpdateKeepsOtherCounter(t *testing.T) {
	db := openStore(t)
	producer, consumer := db.NewHandle(), db.NewHandle()

	s := NewSynchronizer(consumer, nil, 5*time.Millisecond)
	s.Set(backend.Usage{GlobalWordsUsed: 1, GlobalStorageUsed: 2})
	updates := make(chan backend.Usage, 1)
	s.Subscribe(func(u backend.Usage) { updates <- u })
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := Publish(producer, Update{GlobalStorageUsed: ptr(300)}); err != nil {
		t.Fatal(err)
	}
	got := waitSnapshot(t, updates)
	if got.GlobalWordsUsed != 1 || got.GlobalStorageUsed != 300 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestSynchronizer_MalformedRecordDiscarded(t *testing.T) {
	db := openStore(t)
	producer, consumer := db.NewHandle(), db.NewHandle()

	s := NewSynchronizer(consumer, nil, 5*time.Millisecond)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if err := producer.SetItem(UpdateKey, "{not json"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := producer.GetItem(UpdateKey); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("malformed record never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Snapshot(); got != (backend.Usage{}) {
		t.Errorf("snapshot changed on malformed record: %+v", got)
	}
}

func TestSynchronizer_StartTwice(t *testing.T) {
	db := openStore(t)
	s := NewSynchronizer(db.NewHandle(), nil, time.Second)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("err = %v, want ErrAlreadyStarted", err)
	}
}

type fakeSource struct {
	u   backend.Usage
	err error
}

func (f fakeSource) Usage(context.Context) (backend.Usage, error) {
	return f.u, f.err
}

func TestRefresh(t *testing.T) {
	db := openStore(t)
	want := backend.Usage{GlobalWordsUsed: 10, PlanLimit: 100}
	s := NewSynchronizer(db.NewHandle(), fakeSource{u: want}, time.Second)

	var seen backend.Usage
	s.Subscribe(func(u backend.Usage) { seen = u })
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot() != want || seen != want {
		t.Errorf("snapshot = %+v, seen = %+v", s.Snapshot(), seen)
	}

	s = NewSynchronizer(db.NewHandle(), fakeSource{err: errors.New("down")}, time.Second)
	if err := s.Refresh(context.Background()); err == nil {
		t.Error("expected error")
	}
}
