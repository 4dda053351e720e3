package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Policy decides whether a stored entry is still fresh.
type Policy interface {
	// Bucket is folded into the key. Calendar-day entries roll over to a new
	// key each day; rolling entries share one key.
	Bucket(now time.Time) string
	Fresh(fetchedAt, now time.Time) bool
}

// CalendarDay keeps entries valid until the end of the calendar day they
// were fetched on, as observed in Location.
type CalendarDay struct {
	Location *time.Location
}

func (p CalendarDay) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p CalendarDay) Bucket(now time.Time) string {
	return now.In(p.loc()).Format("2006-01-02")
}

func (p CalendarDay) Fresh(fetchedAt, now time.Time) bool {
	return p.Bucket(fetchedAt) == p.Bucket(now) && !fetchedAt.After(now)
}

// Rolling keeps entries valid for TTL after they were fetched.
type Rolling struct {
	TTL time.Duration
}

func (p Rolling) Bucket(time.Time) string { return "rolling" }

func (p Rolling) Fresh(fetchedAt, now time.Time) bool {
	age := now.Sub(fetchedAt)
	return age >= 0 && age < p.TTL
}

// Key identifies one cached fetch.
type Key struct {
	Symbol     string
	Days       int
	VsCurrency string
}

type envelope struct {
	Symbol    string          `json:"symbol"`
	Days      int             `json:"days"`
	Bucket    string          `json:"bucket"`
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Disk is a content-addressed JSON cache rooted at a directory. All reads and
// writes are serialized.
type Disk struct {
	dir    string
	policy Policy
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex
}

type Option func(*Disk)

func WithClock(now func() time.Time) Option {
	return func(d *Disk) { d.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Disk) { d.logger = l }
}

func NewDisk(dir string, policy Policy, opts ...Option) (*Disk, error) {
	if policy == nil {
		policy = CalendarDay{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	d := &Disk{dir: dir, policy: policy, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "cache")
	return d, nil
}

// Hash returns the deterministic file name stem for k in bucket.
func Hash(k Key, bucket string) string {
	raw := strings.Join([]string{
		strings.ToUpper(k.Symbol),
		strconv.Itoa(k.Days),
		strings.ToLower(k.VsCurrency),
		bucket,
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (d *Disk) path(k Key, now time.Time) string {
	return filepath.Join(d.dir, Hash(k, d.policy.Bucket(now))+".json")
}

// Get returns the cached payload for k, or ok=false on a miss. Expired,
// unreadable and corrupt entries are all misses.
func (d *Disk) Get(k Key) (json.RawMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	p := d.path(k, now)
	raw, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("cache read failed", "symbol", k.Symbol, "error", err)
		}
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Payload) == 0 || !json.Valid(env.Payload) {
		d.logger.Warn("corrupt cache entry ignored", "symbol", k.Symbol, "path", p)
		return nil, false
	}
	if !d.policy.Fresh(env.FetchedAt, now) {
		return nil, false
	}
	return env.Payload, true
}

// Put stores payload under k, replacing any previous entry atomically.
func (d *Disk) Put(k Key, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("cache put %s: payload is not valid JSON", k.Symbol)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	env := envelope{
		Symbol:    strings.ToUpper(k.Symbol),
		Days:      k.Days,
		Bucket:    d.policy.Bucket(now),
		FetchedAt: now.UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", k.Symbol, err)
	}

	final := d.path(k, now)
	tmp, err := os.CreateTemp(d.dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("cache temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache write %s: %w", k.Symbol, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache close %s: %w", k.Symbol, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache rename %s: %w", k.Symbol, err)
	}
	return nil
}
