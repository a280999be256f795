package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExactHitAfterStore(t *testing.T) {
	c := New(NewMemoryKV())
	req := Request{Text: "Summarize the release notes", Model: "m1"}

	if err := c.Store(req, Fill{Result: "done", Tokens: 120, CostUSD: 0.01}, time.Hour); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	e, ok := c.Lookup(req, false)
	if !ok {
		t.Fatal("Lookup() miss, want exact hit")
	}
	if e.Result != "done" || e.Tokens != 120 {
		t.Errorf("Lookup() = %+v, want stored entry", e)
	}
}

func TestExactHitIgnoresFormatting(t *testing.T) {
	c := New(NewMemoryKV())
	if err := c.Store(Request{Text: "Summarize  the\nrelease notes", Model: "m1"}, Fill{Result: "r"}, time.Hour); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, ok := c.Lookup(Request{Text: "summarize the release notes", Model: "m1"}, false); !ok {
		t.Error("formatting variant should hit the same entry")
	}
}

func TestKeyVariesByModelAndTemperature(t *testing.T) {
	base := Request{Text: "same text", Model: "m1", Temperature: 0}
	tests := []struct {
		name string
		req  Request
	}{
		{"different model", Request{Text: "same text", Model: "m2", Temperature: 0}},
		{"different temperature", Request{Text: "same text", Model: "m1", Temperature: 0.7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.Key() == base.Key() {
				t.Error("keys should differ")
			}
		})
	}
}

func TestNearMatchRequiresDeterminism(t *testing.T) {
	c := New(NewMemoryKV())
	stored := Request{Text: "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi rho sigma tau upsilon", Model: "m1"}
	if err := c.Store(stored, Fill{Result: "cached"}, time.Hour); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	// One token differs out of twenty: Jaccard 19/21 below default, so
	// lower threshold to exercise the path.
	near := Request{Text: "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi rho sigma tau PHI", Model: "m1"}

	c2 := New(NewMemoryKV(), WithSimilarity(JaccardSimilarity, 0.8))
	if err := c2.Store(stored, Fill{Result: "cached"}, time.Hour); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if _, ok := c2.Lookup(near, true); !ok {
		t.Error("deterministic near-duplicate should hit")
	}
	if _, ok := c2.Lookup(near, false); ok {
		t.Error("near-match disabled by policy should miss")
	}

	warm := near
	warm.Temperature = 0.7
	if _, ok := c2.Lookup(warm, true); ok {
		t.Error("temperature > 0 must never near-match")
	}
}

func TestNearMatchPicksBestCandidate(t *testing.T) {
	c := New(NewMemoryKV(), WithSimilarity(JaccardSimilarity, 0.5))
	close := Request{Text: "one two three four five six seven eight nine ten", Model: "m1"}
	far := Request{Text: "one two three four five AAA BBB CCC DDD EEE", Model: "m1"}
	if err := c.Store(close, Fill{Result: "close"}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := c.Store(far, Fill{Result: "far"}, time.Hour); err != nil {
		t.Fatal(err)
	}

	query := Request{Text: "one two three four five six seven eight nine ELEVEN", Model: "m1"}
	e, ok := c.Lookup(query, true)
	if !ok {
		t.Fatal("expected near hit")
	}
	if e.Result != "close" {
		t.Errorf("Lookup() picked %q, want the higher-scoring candidate", e.Result)
	}
}

func TestExpiredEntryMissesAndEvicts(t *testing.T) {
	now := time.Now()
	clock := now
	kv := NewMemoryKV()
	c := New(kv, WithClock(func() time.Time { return clock }))

	req := Request{Text: "expiring", Model: "m1"}
	if err := c.Store(req, Fill{Result: "r"}, time.Minute); err != nil {
		t.Fatal(err)
	}

	clock = now.Add(2 * time.Minute)
	if _, ok := c.Lookup(req, false); ok {
		t.Fatal("expired entry should miss")
	}
	if kv.Len() != 0 {
		t.Errorf("expired entry should be lazily evicted, %d entries remain", kv.Len())
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	now := time.Now()
	clock := now
	kv := NewMemoryKV()
	c := New(kv, WithClock(func() time.Time { return clock }))

	if err := c.Store(Request{Text: "short", Model: "m1"}, Fill{}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := c.Store(Request{Text: "long", Model: "m1"}, Fill{}, time.Hour); err != nil {
		t.Fatal(err)
	}

	clock = now.Add(10 * time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if kv.Len() != 1 {
		t.Errorf("kv has %d entries after sweep, want 1", kv.Len())
	}
}

type corruptKV struct {
	*MemoryKV
	bad map[string]bool
}

func (c *corruptKV) Get(key string) (Entry, bool, error) {
	if c.bad[key] {
		return Entry{}, false, errors.New("checksum mismatch")
	}
	return c.MemoryKV.Get(key)
}

func TestCorruptEntryEvictedAsMiss(t *testing.T) {
	req := Request{Text: "poisoned", Model: "m1"}
	kv := &corruptKV{MemoryKV: NewMemoryKV(), bad: map[string]bool{req.Key(): true}}
	c := New(kv)

	if err := c.Store(req, Fill{Result: "r"}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(req, false); ok {
		t.Fatal("corrupt entry should be treated as a miss")
	}
	if kv.Len() != 0 {
		t.Errorf("corrupt entry should be evicted, %d remain", kv.Len())
	}
}

func TestDoCollapsesConcurrentMisses(t *testing.T) {
	c := New(NewMemoryKV())
	req := Request{Text: "expensive call", Model: "m1"}

	var calls int32
	release := make(chan struct{})
	fn := func() (Fill, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Fill{Result: "computed", Tokens: 50}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	started := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			e, _, err := c.Do(req, false, time.Hour, fn)
			errs[i] = err
			if e != nil {
				results[i] = e.Result
			}
		}(i)
	}
	for i := 0; i < workers; i++ {
		<-started
	}
	// Give the goroutines a moment to pile onto the flight before the
	// leader finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fn invoked %d times, want exactly 1", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != "computed" {
			t.Errorf("worker %d got %q, want shared result", i, results[i])
		}
	}

	// The flight's product is stored for later callers.
	if _, ok := c.Lookup(req, false); !ok {
		t.Error("Do() result should be cached")
	}
}

func TestDoPropagatesFillError(t *testing.T) {
	c := New(NewMemoryKV())
	wantErr := errors.New("provider down")
	_, _, err := c.Do(Request{Text: "x", Model: "m1"}, false, time.Hour, func() (Fill, error) {
		return Fill{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}
	// A failed fill stores nothing.
	if _, ok := c.Lookup(Request{Text: "x", Model: "m1"}, false); ok {
		t.Error("failed fill should not be cached")
	}
}

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "a b c", "a b c", 1.0},
		{"disjoint", "a b c", "x y z", 0.0},
		{"half overlap", "a b", "b c", 1.0 / 3.0},
		{"both empty", "", "", 1.0},
		{"one empty", "a", "", 0.0},
		{"case insensitive", "Alpha Beta", "alpha beta", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JaccardSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("JaccardSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
