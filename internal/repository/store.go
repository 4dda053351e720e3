package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/db"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

// Store groups the per-table repositories over one handle.
type Store struct {
	Assets  *AssetRepo
	Prices  *PriceRepo
	Batches *BatchRepo
	Runs    *RunRepo
	Metrics *MetricsRepo
}

func New(h *db.Handle) *Store {
	c := conn{db: h.DB, dialect: h.Dialect}
	return &Store{
		Assets:  &AssetRepo{c},
		Prices:  &PriceRepo{c},
		Batches: &BatchRepo{conn: c, chunkSize: 1000},
		Runs:    &RunRepo{c},
		Metrics: &MetricsRepo{c},
	}
}

// conn carries the handle and dialect shared by every repository. Queries
// are written with ? placeholders and rebound for Postgres.
type conn struct {
	db      *sql.DB
	dialect db.Dialect
}

func (c conn) q(query string) string {
	if c.dialect != db.Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = row
	}
	return strings.Join(parts, ", ")
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// dateCol scans a DATE (Postgres) or TEXT (SQLite) column into a canonical
// midnight-UTC date.
type dateCol struct{ t *time.Time }

func (d dateCol) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		y, m, day := v.Date()
		*d.t = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported date value %T", src)
	}
}

func (d dateCol) parse(s string) error {
	if len(s) > len(models.DateLayout) {
		s = s[:len(models.DateLayout)]
	}
	t, err := models.ParseDate(s)
	if err != nil {
		return err
	}
	*d.t = t
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timeCol scans a timestamp column that may be NULL.
type timeCol struct{ t **time.Time }

func (c timeCol) Scan(src any) error {
	if src == nil {
		*c.t = nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case time.Time:
		u := v.UTC()
		*c.t = &u
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported timestamp value %T", src)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			*c.t = &u
			return nil
		}
	}
	return fmt.Errorf("unparsable timestamp %q", s)
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Fixed-width so stored timestamps sort lexically in SQLite.
const storedTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}
