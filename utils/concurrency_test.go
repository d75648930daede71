package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestURLSetAddReportsDuplicates(t *testing.T) {
	s := NewURLSet()
	const listing = "https://www.autofer.es/coches-ocasion/seat-ibiza/1"

	if !s.Add(listing) {
		t.Error("first Add of a listing URL reported a duplicate")
	}
	if s.Add(listing) {
		t.Error("second Add of the same listing URL reported it as new")
	}
	if got := s.Size(); got != 1 {
		t.Errorf("Size = %d; want 1", got)
	}
}

func TestURLSetKeepsInsertionOrder(t *testing.T) {
	s := NewURLSet()
	for _, u := range []string{"c", "a", "c", "b", "a"} {
		s.Add(u)
	}

	got := s.List()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("List: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
	if !s.Contains("b") || s.Contains("z") {
		t.Error("Contains returned the wrong answer")
	}
}

func TestURLSetConcurrency(t *testing.T) {
	s := NewURLSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(func() {
			if s.Add("https://www.autofer.es/coches-ocasion/same") {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("%d goroutines saw the URL as new; want 1", added)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(3, 0)
	var running, peak int64

	for i := 0; i < 20; i++ {
		pool.Submit(func() {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
		})
	}
	pool.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds pool size 3", peak)
	}
	if pool.Size() != 3 {
		t.Errorf("Size: got %d, want 3", pool.Size())
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	rateLimitMs := 100
	pool := NewWorkerPool(1, rateLimitMs)

	var mu sync.Mutex
	var timestamps []time.Time

	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
		})
	}
	pool.Wait()

	// allow a little scheduler slack around the token boundary
	min := time.Duration(rateLimitMs) * time.Millisecond * 9 / 10
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < min {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, min)
		}
	}
}
