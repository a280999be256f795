package cache

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteKVRoundTrip(t *testing.T) {
	kv, err := OpenSQLiteKV(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteKV() error = %v", err)
	}
	defer kv.Close()

	now := time.Now()
	e := Entry{
		Key:         "k1",
		RequestText: "normalized text",
		Model:       "m1",
		Temperature: 0,
		Result:      "stored result",
		Tokens:      42,
		CostUSD:     0.003,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := kv.Put(e); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := kv.Get("k1")
	if err != nil || !ok {
		t.Fatalf("Get() = ok=%v, err=%v", ok, err)
	}
	if got.Result != e.Result || got.Tokens != e.Tokens || got.Model != e.Model {
		t.Errorf("Get() = %+v, want stored entry", got)
	}
	if !got.ExpiresAt.Equal(e.ExpiresAt.Truncate(time.Millisecond)) {
		t.Errorf("ExpiresAt = %v, want %v at millisecond precision", got.ExpiresAt, e.ExpiresAt)
	}

	// Re-store replaces.
	e.Result = "updated"
	if err := kv.Put(e); err != nil {
		t.Fatal(err)
	}
	got, _, _ = kv.Get("k1")
	if got.Result != "updated" {
		t.Errorf("Put() did not replace, Result = %q", got.Result)
	}
}

func TestSQLiteKVScanAndSweep(t *testing.T) {
	kv, err := OpenSQLiteKV(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()

	now := time.Now()
	put := func(key, model string, expires time.Time) {
		t.Helper()
		if err := kv.Put(Entry{Key: key, RequestText: key, Model: model, CreatedAt: now, ExpiresAt: expires}); err != nil {
			t.Fatal(err)
		}
	}
	put("live-a", "m1", now.Add(time.Hour))
	put("live-b", "m1", now.Add(time.Hour))
	put("other-model", "m2", now.Add(time.Hour))
	put("expired", "m1", now.Add(-time.Minute))

	entries, err := kv.ScanLive("m1", now)
	if err != nil {
		t.Fatalf("ScanLive() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("ScanLive(m1) returned %d entries, want 2", len(entries))
	}

	n, err := kv.SweepExpired(now)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("SweepExpired() = %d, want 1", n)
	}

	total, live, err := kv.Stats(now)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || live != 3 {
		t.Errorf("Stats() = total=%d live=%d, want 3/3 after sweep", total, live)
	}
}

func TestSQLiteKVAbsentKey(t *testing.T) {
	kv, err := OpenSQLiteKV(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()

	if _, ok, err := kv.Get("missing"); ok || err != nil {
		t.Errorf("Get(missing) = ok=%v err=%v, want absent without error", ok, err)
	}
	if err := kv.Delete("missing"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
}
