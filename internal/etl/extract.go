package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kjannette/trahn-marketdata/internal/cache"
	"github.com/kjannette/trahn-marketdata/internal/external"
)

const stablecoinCategory = "stablecoins"

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// MarketSource is the subset of the market-data client the extractor needs.
type MarketSource interface {
	Markets(ctx context.Context, q external.MarketsQuery) ([]external.MarketCoin, error)
	CategoryIDs(ctx context.Context, category, vsCurrency string) (map[string]bool, error)
	MarketChart(ctx context.Context, coinID, vsCurrency string, days int) (json.RawMessage, error)
}

// ChartCache stores raw market_chart payloads between runs.
type ChartCache interface {
	Get(k cache.Key) (json.RawMessage, bool)
	Put(k cache.Key, payload json.RawMessage) error
}

type ExtractConfig struct {
	TopN                      int
	Days                      int
	VsCurrency                string
	ExcludeSymbols            []string
	ExcludeStablecoinCategory bool
	MaxPages                  int
	PerPage                   int
	Concurrency               int
}

type Candidate struct {
	ID        string
	Symbol    string
	Name      string
	MarketCap float64
}

// RawAssetRecord is one asset with its full, still unvalidated history.
type RawAssetRecord struct {
	Symbol    string
	Name      string
	Source    string
	SourceID  string
	Chart     external.MarketChart
	FromCache bool
	FetchedAt time.Time
}

// Selection is the ranked asset universe of a run.
type Selection struct {
	Candidates []Candidate
	Excluded   int
	Invalid    int
	Shortfall  int
}

type Extractor struct {
	src    MarketSource
	cache  ChartCache
	cfg    ExtractConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewExtractor(src MarketSource, c ChartCache, cfg ExtractConfig, logger *slog.Logger) *Extractor {
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		src:    src,
		cache:  c,
		cfg:    cfg,
		logger: logger.With("component", "extractor"),
		now:    time.Now,
	}
}

// SelectAssets pages the market listing and returns the top-N eligible assets
// by market cap. Denylisted and stablecoin-category assets are removed before
// truncation, so exactly TopN come back whenever enough candidates exist.
func (e *Extractor) SelectAssets(ctx context.Context) (Selection, error) {
	var sel Selection

	deny := make(map[string]bool, len(e.cfg.ExcludeSymbols))
	for _, s := range e.cfg.ExcludeSymbols {
		deny[strings.ToUpper(strings.TrimSpace(s))] = true
	}

	var stableIDs map[string]bool
	if e.cfg.ExcludeStablecoinCategory {
		ids, err := e.src.CategoryIDs(ctx, stablecoinCategory, e.cfg.VsCurrency)
		if err != nil {
			if ctx.Err() != nil {
				return sel, ctx.Err()
			}
			e.logger.Warn("stablecoin category lookup failed, using denylist only", "error", err)
		}
		stableIDs = ids
	}

	seen := make(map[string]bool)
	var eligible []Candidate
	for page := 1; page <= e.cfg.MaxPages && len(eligible) < e.cfg.TopN; page++ {
		coins, err := e.src.Markets(ctx, external.MarketsQuery{
			VsCurrency: e.cfg.VsCurrency,
			Page:       page,
			PerPage:    e.cfg.PerPage,
		})
		if err != nil {
			return sel, fmt.Errorf("list markets page %d: %w", page, err)
		}
		if len(coins) == 0 {
			break
		}

		for _, coin := range coins {
			symbol := strings.ToUpper(strings.TrimSpace(coin.Symbol))
			if deny[symbol] || stableIDs[coin.ID] {
				sel.Excluded++
				continue
			}
			if !symbolPattern.MatchString(symbol) {
				sel.Invalid++
				e.logger.Debug("skipping irregular symbol", "symbol", symbol, "id", coin.ID)
				continue
			}
			if seen[symbol] {
				continue
			}
			seen[symbol] = true

			c := Candidate{ID: coin.ID, Symbol: symbol, Name: coin.Name}
			if coin.MarketCap != nil {
				c.MarketCap = *coin.MarketCap
			}
			eligible = append(eligible, c)
		}
		e.logger.Info("market page scanned", "page", page, "eligible", len(eligible), "want", e.cfg.TopN)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].MarketCap > eligible[j].MarketCap
	})
	if len(eligible) > e.cfg.TopN {
		eligible = eligible[:e.cfg.TopN]
	}
	sel.Candidates = eligible
	sel.Shortfall = e.cfg.TopN - len(eligible)
	if sel.Shortfall > 0 {
		e.logger.Warn("fewer eligible assets than requested",
			"requested", e.cfg.TopN, "eligible", len(eligible))
	}
	return sel, nil
}

// Extract selects the asset universe and returns a stream that fetches each
// asset's history on demand. Only the selection step can fail the call;
// per-asset failures are reported through Stream.Skipped.
func (e *Extractor) Extract(ctx context.Context) (*Stream, Selection, error) {
	sel, err := e.SelectAssets(ctx)
	if err != nil {
		return nil, sel, err
	}
	return newStream(ctx, sel.Candidates, e.cfg.Concurrency, e.fetchHistory, e.logger), sel, nil
}

// ExtractCandidates streams history for an explicit asset list, bypassing
// selection.
func (e *Extractor) ExtractCandidates(ctx context.Context, candidates []Candidate) *Stream {
	return newStream(ctx, candidates, e.cfg.Concurrency, e.fetchHistory, e.logger)
}

func (e *Extractor) fetchHistory(ctx context.Context, c Candidate) (RawAssetRecord, error) {
	rec := RawAssetRecord{
		Symbol:   c.Symbol,
		Name:     c.Name,
		Source:   external.SourceName,
		SourceID: c.ID,
	}
	key := cache.Key{Symbol: c.Symbol, Days: e.cfg.Days, VsCurrency: e.cfg.VsCurrency}

	if e.cache != nil {
		if raw, ok := e.cache.Get(key); ok {
			chart, err := external.DecodeMarketChart(raw)
			if err == nil {
				rec.Chart, rec.FromCache, rec.FetchedAt = chart, true, e.now()
				e.logger.Debug("cache hit", "symbol", c.Symbol)
				return rec, nil
			}
			e.logger.Warn("cached chart undecodable, refetching", "symbol", c.Symbol, "error", err)
		}
	}

	raw, err := e.src.MarketChart(ctx, c.ID, e.cfg.VsCurrency, e.cfg.Days)
	if err != nil {
		return rec, err
	}
	chart, err := external.DecodeMarketChart(raw)
	if err != nil {
		return rec, err
	}
	if e.cache != nil {
		if err := e.cache.Put(key, raw); err != nil {
			e.logger.Warn("cache write failed", "symbol", c.Symbol, "error", err)
		}
	}
	rec.Chart, rec.FetchedAt = chart, e.now()
	e.logger.Info("history fetched", "symbol", c.Symbol, "points", len(chart.Prices))
	return rec, nil
}

type fetchFunc func(ctx context.Context, c Candidate) (RawAssetRecord, error)

// Stream yields raw asset records as workers fetch them. Fetching starts on
// the first iteration and the sequence can be consumed only once.
type Stream struct {
	parent     context.Context
	ctx        context.Context
	cancel     context.CancelFunc
	candidates []Candidate
	limit      int
	fetch      fetchFunc
	logger     *slog.Logger

	start sync.Once
	ch    chan RawAssetRecord
	done  chan struct{}

	mu      sync.Mutex
	skipped []SkippedAsset
	err     error
}

func newStream(parent context.Context, candidates []Candidate, limit int, fetch fetchFunc, logger *slog.Logger) *Stream {
	ctx, cancel := context.WithCancel(parent)
	return &Stream{
		parent:     parent,
		ctx:        ctx,
		cancel:     cancel,
		candidates: candidates,
		limit:      limit,
		fetch:      fetch,
		logger:     logger,
		ch:         make(chan RawAssetRecord, limit),
		done:       make(chan struct{}),
	}
}

// Records returns the single-pass sequence of fetched assets. Ranging over
// it a second time yields nothing.
func (s *Stream) Records() iter.Seq[RawAssetRecord] {
	return func(yield func(RawAssetRecord) bool) {
		s.start.Do(func() { go s.run() })
		for rec := range s.ch {
			if !yield(rec) {
				s.cancel()
				return
			}
		}
	}
}

func (s *Stream) run() {
	defer close(s.done)
	defer close(s.ch)
	defer s.cancel()

	g, gctx := errgroup.WithContext(s.ctx)
	g.SetLimit(s.limit)
	for _, c := range s.candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec, err := s.fetch(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.skip(c.Symbol, err)
				return nil
			}
			select {
			case s.ch <- rec:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	_ = g.Wait()
	if err := s.parent.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *Stream) skip(symbol string, err error) {
	s.logger.Warn("asset skipped", "symbol", symbol, "error", err)
	s.mu.Lock()
	s.skipped = append(s.skipped, SkippedAsset{Symbol: symbol, Reason: err.Error()})
	s.mu.Unlock()
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Skipped lists assets whose fetch failed. It is complete once Records has
// been fully consumed.
func (s *Stream) Skipped() []SkippedAsset {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SkippedAsset, len(s.skipped))
	copy(out, s.skipped)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Err reports the caller's context error if extraction was cut short.
func (s *Stream) Err() error {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Len() int { return len(s.candidates) }

// wait blocks until workers have exited, if they were ever started.
func (s *Stream) wait() {
	started := true
	s.start.Do(func() { started = false })
	if !started {
		close(s.ch)
		close(s.done)
		s.cancel()
		return
	}
	<-s.done
}
