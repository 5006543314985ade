package tokens

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// wordEncoder counts whitespace-separated words and records how often it ran.
type wordEncoder struct {
	calls atomic.Int64
}

func (w *wordEncoder) CountTokens(text string) int {
	w.calls.Add(1)
	return len(strings.Fields(text))
}

func TestCounter_nilEncoderEstimates(t *testing.T) {
	t.Parallel()
	c := NewCounter(nil, CounterOptions{})
	if c.Exact() {
		t.Fatal("Exact() = true, want false")
	}
	if got := c.Count("abcdefgh"); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if c.Cached() != 0 {
		t.Errorf("Cached() = %d, want 0", c.Cached())
	}
}

func TestCounter_exactAndMemoized(t *testing.T) {
	t.Parallel()
	enc := &wordEncoder{}
	c := NewCounter(enc, CounterOptions{})
	for i := 0; i < 3; i++ {
		if got := c.Count("one two three"); got != 3 {
			t.Fatalf("Count = %d, want 3", got)
		}
	}
	if n := enc.calls.Load(); n != 1 {
		t.Errorf("encoder calls = %d, want 1", n)
	}
	if c.Count("") != 0 {
		t.Error("Count(\"\") should be 0")
	}
}

func TestCounter_cacheStopsAcceptingWhenFull(t *testing.T) {
	t.Parallel()
	enc := &wordEncoder{}
	c := NewCounter(enc, CounterOptions{CacheSize: 2})
	c.Count("a")
	c.Count("b")
	c.Count("c")
	if c.Cached() != 2 {
		t.Fatalf("Cached() = %d, want 2", c.Cached())
	}
	before := enc.calls.Load()
	c.Count("a")
	if enc.calls.Load() != before {
		t.Error("first entry should still be cached (no eviction)")
	}
	c.Count("c")
	if enc.calls.Load() != before+1 {
		t.Error("entry past capacity should be recomputed")
	}
}

func TestCounter_largeInputUsesEstimate(t *testing.T) {
	t.Parallel()
	enc := &wordEncoder{}
	c := NewCounter(enc, CounterOptions{ExactLimit: 10})
	text := strings.Repeat("a ", 20)
	if got, want := c.Count(text), Estimate(text); got != want {
		t.Errorf("Count = %d, want estimate %d", got, want)
	}
	if enc.calls.Load() != 0 {
		t.Error("encoder should not run above the exact limit")
	}
}

func TestCounter_concurrentUse(t *testing.T) {
	t.Parallel()
	c := NewCounter(&wordEncoder{}, CounterOptions{CacheSize: 50})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				text := strings.Repeat("w ", i%10+1) + strconv.Itoa(i%20)
				if got := c.Count(text); got != i%10+2 {
					t.Errorf("Count(%q) = %d, want %d", text, got, i%10+2)
					return
				}
			}
		}()
	}
	wg.Wait()
	if c.Cached() > 50 {
		t.Errorf("Cached() = %d, want <= 50", c.Cached())
	}
}
