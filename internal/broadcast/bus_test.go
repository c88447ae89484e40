package broadcast

import (
	"sync"
	"testing"
)

func TestPublish_DeliversInOrder(t *testing.T) {
	b := New[string]()

	var got []string
	b.Subscribe(func(v string) { got = append(got, "a:"+v) })
	b.Subscribe(func(v string) { got = append(got, "b:"+v) })

	b.Publish("x")

	if len(got) != 2 || got[0] != "a:x" || got[1] != "b:x" {
		t.Errorf("got %v, want [a:x b:x]", got)
	}
}

func TestPublish_IsSynchronous(t *testing.T) {
	b := New[int]()
	seen := 0
	b.Subscribe(func(v int) { seen = v })

	b.Publish(7)
	if seen != 7 {
		t.Errorf("handler had not run when Publish returned (seen=%d)", seen)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New[int]()
	calls := 0
	unsub := b.Subscribe(func(int) { calls++ })

	b.Publish(1)
	unsub()
	unsub()
	b.Publish(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New[int]()
	var unsub func()
	calls := 0
	unsub = b.Subscribe(func(int) {
		calls++
		unsub()
	})
	other := 0
	b.Subscribe(func(int) { other++ })

	b.Publish(1)
	b.Publish(2)

	if calls != 1 {
		t.Errorf("self-unsubscribing handler called %d times, want 1", calls)
	}
	if other != 2 {
		t.Errorf("other handler called %d times, want 2", other)
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New[int]()
	var mu sync.Mutex
	total := 0
	b.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(1)
		}()
	}
	wg.Wait()

	if total != 50 {
		t.Errorf("total = %d, want 50", total)
	}
}
