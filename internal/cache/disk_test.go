package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newDisk(t *testing.T, policy Policy, clock *fakeClock) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir(), policy, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	return d
}

var btc = Key{Symbol: "BTC", Days: 30, VsCurrency: "usd"}

func TestDisk_PutGetRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	d := newDisk(t, CalendarDay{}, clock)

	if _, ok := d.Get(btc); ok {
		t.Fatal("expected miss on empty cache")
	}
	payload := json.RawMessage(`{"prices":[[1717200000000,67491.4]]}`)
	if err := d.Put(btc, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := d.Get(btc)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: %s", got)
	}
}

func TestDisk_CalendarDayExpiresAtMidnight(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)}
	d := newDisk(t, CalendarDay{}, clock)

	if err := d.Put(btc, json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	clock.Set(time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC))
	if _, ok := d.Get(btc); !ok {
		t.Fatal("expected same-day hit")
	}
	clock.Set(time.Date(2024, 6, 2, 0, 1, 0, 0, time.UTC))
	if _, ok := d.Get(btc); ok {
		t.Fatal("expected miss on the next calendar day")
	}
}

func TestDisk_RollingTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)}
	d := newDisk(t, Rolling{TTL: 2 * time.Hour}, clock)

	if err := d.Put(btc, json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	clock.Set(clock.Now().Add(90 * time.Minute))
	if _, ok := d.Get(btc); !ok {
		t.Fatal("expected hit within ttl across midnight")
	}
	clock.Set(clock.Now().Add(time.Hour))
	if _, ok := d.Get(btc); ok {
		t.Fatal("expected miss after ttl")
	}
}

func TestDisk_CorruptEntryIsMiss(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	d := newDisk(t, CalendarDay{}, clock)

	p := d.path(btc, clock.Now())
	if err := os.WriteFile(p, []byte(`{"payload": {not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Get(btc); ok {
		t.Fatal("corrupt entry must be a miss")
	}

	if err := d.Put(btc, json.RawMessage(`[1,2]`)); err != nil {
		t.Fatalf("Put over corrupt entry: %v", err)
	}
	if got, ok := d.Get(btc); !ok || string(got) != "[1,2]" {
		t.Fatalf("expected repaired entry, got %s ok=%v", got, ok)
	}
}

func TestDisk_PutRejectsInvalidJSON(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	d := newDisk(t, CalendarDay{}, clock)
	if err := d.Put(btc, json.RawMessage(`nope`)); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestDisk_NoTempFilesLeft(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	d := newDisk(t, CalendarDay{}, clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Put(btc, json.RawMessage(`{"n":1}`)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := filepath.Glob(filepath.Join(d.dir, "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one cache file, got %v", entries)
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash(Key{Symbol: "btc", Days: 30, VsCurrency: "USD"}, "2024-06-01")
	b := Hash(Key{Symbol: "BTC", Days: 30, VsCurrency: "usd"}, "2024-06-01")
	if a != b {
		t.Error("hash must normalize symbol and currency case")
	}
	if a == Hash(btc, "2024-06-02") {
		t.Error("different buckets must hash differently")
	}
	if a == Hash(Key{Symbol: "BTC", Days: 90, VsCurrency: "usd"}, "2024-06-01") {
		t.Error("different day counts must hash differently")
	}
}
