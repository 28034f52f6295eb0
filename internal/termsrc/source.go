// Package termsrc implements the hybrid term lookup used by every correction
// stage.
//
// A [Source] answers a lookup from, in order:
//
//  1. the shared [cache.Cache], keyed by the case-folded term;
//  2. the structured [term.Store], if one is configured, guarded by a
//     circuit breaker and a short per-query timeout;
//  3. the flat-file [term.Table].
//
// The first hit whose confidence reaches the configured threshold wins. A
// store that errors, times out or sits behind an open breaker never fails
// the lookup: the table answers instead and the result is flagged as
// degraded. Degraded answers are not cached so that the store's view takes
// over again once it recovers.
//
// Source is safe for concurrent use.
package termsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MrWong99/sutra/internal/cache"
	"github.com/MrWong99/sutra/internal/observe"
	"github.com/MrWong99/sutra/internal/resilience"
	"github.com/MrWong99/sutra/internal/term"
	"github.com/MrWong99/sutra/pkg/types"
)

const (
	// DefaultThreshold is the minimum confidence of an authoritative hit.
	DefaultThreshold = 0.7

	// DefaultMaxWords is the widest compound window.
	DefaultMaxWords = 5

	defaultStoreTimeout = 250 * time.Millisecond
)

// ErrStoreUnavailable marks a lookup whose structured store query failed,
// timed out or was skipped by the circuit breaker.
var ErrStoreUnavailable = errors.New("termsrc: structured store unavailable")

// Origin names the source that answered a lookup.
type Origin string

const (
	OriginCache Origin = "cache"
	OriginStore Origin = "store"
	OriginTable Origin = "table"
	OriginNone  Origin = "none"
)

// Result is the outcome of a single lookup.
type Result struct {
	Entry  term.Entry
	Origin Origin

	// Degraded is set when the structured store could not be consulted.
	Degraded bool
}

// Match is a compound term found in a text.
type Match struct {
	Entry term.Entry

	// Span is the byte range of the matched words in the text, excluding
	// surrounding punctuation.
	Span types.Span

	// First and Last are the indices of the first and last matched token
	// as returned by [term.Tokenize].
	First, Last int

	// Degraded is set when the lookup behind this match was degraded.
	Degraded bool
}

// Words returns the number of tokens covered by m.
func (m Match) Words() int { return m.Last - m.First + 1 }

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithCache attaches the shared lookup cache. When nil (the default) every
// lookup goes to the backing sources.
func WithCache(c *cache.Cache[term.Entry]) Option {
	return func(s *Source) { s.cache = c }
}

// WithStore attaches a structured store. Queries are routed through b, which
// should carry a call timeout; when b is nil a breaker with default settings
// and a 250ms timeout is created.
func WithStore(st term.Store, b *resilience.Breaker) Option {
	return func(s *Source) {
		s.store = st
		s.breaker = b
	}
}

// WithThreshold sets the minimum confidence of an authoritative hit.
// Default: [DefaultThreshold].
func WithThreshold(v float64) Option {
	return func(s *Source) { s.threshold = v }
}

// WithMaxWords sets the widest compound window. Default: [DefaultMaxWords].
func WithMaxWords(n int) Option {
	return func(s *Source) { s.maxWords = n }
}

// WithReloadOnChange makes table hits check their source file and reload it
// before answering when it changed on disk.
func WithReloadOnChange(enabled bool) Option {
	return func(s *Source) { s.reload = enabled }
}

// WithMetrics records lookup origins and store errors to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// Source is the hybrid term lookup.
type Source struct {
	table     *term.Table
	store     term.Store
	breaker   *resilience.Breaker
	cache     *cache.Cache[term.Entry]
	metrics   *observe.Metrics
	threshold float64
	maxWords  int
	reload    bool
}

// New constructs a [Source] over table. It fails with [term.ErrNoTermData]
// when neither a non-empty table nor a store is available.
func New(table *term.Table, opts ...Option) (*Source, error) {
	s := &Source{
		table:     table,
		threshold: DefaultThreshold,
		maxWords:  DefaultMaxWords,
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil && (table == nil || table.Len() == 0) {
		return nil, term.ErrNoTermData
	}
	if s.table == nil {
		s.table = term.NewTable()
	}
	if s.store != nil && s.breaker == nil {
		s.breaker = resilience.New(resilience.Config{Name: "term-store", CallTimeout: defaultStoreTimeout})
	}
	if s.maxWords < 2 {
		s.maxWords = 2
	}
	return s, nil
}

// Table returns the flat-file table behind s.
func (s *Source) Table() *term.Table { return s.table }

// HasStore reports whether a structured store is configured.
func (s *Source) HasStore() bool { return s.store != nil }

// Ping checks the structured store, if any.
func (s *Source) Ping(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}

// CacheStats returns a snapshot of the lookup cache counters. The zero value
// is returned when no cache is attached.
func (s *Source) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

// Lookup resolves text to a term entry. Not-found is reported through the
// boolean; Lookup never fails.
func (s *Source) Lookup(ctx context.Context, text string) (Result, bool) {
	key := term.Fold(text)
	if key == "" {
		return Result{Origin: OriginNone}, false
	}

	if s.cache != nil {
		if e, ok := s.cache.Get(key, ""); ok {
			s.metrics.RecordLookup(ctx, string(OriginCache))
			return Result{Entry: e, Origin: OriginCache}, true
		}
	}

	var degraded bool
	if s.store != nil {
		e, found, err := s.queryStore(ctx, key)
		if err != nil {
			degraded = true
		} else if found && e.Confidence >= s.threshold {
			s.remember(key, e)
			s.metrics.RecordLookup(ctx, string(OriginStore))
			return Result{Entry: e, Origin: OriginStore}, true
		}
	}

	if e, ok := s.lookupTable(key); ok && e.Confidence >= s.threshold {
		if !degraded {
			s.remember(key, e)
		}
		s.metrics.RecordLookup(ctx, string(OriginTable))
		return Result{Entry: e, Origin: OriginTable, Degraded: degraded}, true
	}

	s.metrics.RecordLookup(ctx, string(OriginNone))
	return Result{Origin: OriginNone, Degraded: degraded}, false
}

func (s *Source) queryStore(ctx context.Context, key string) (term.Entry, bool, error) {
	var (
		e     term.Entry
		found bool
	)
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		e, found, err = s.store.Lookup(ctx, key)
		return err
	})
	if err == nil {
		return e, found, nil
	}

	reason := "error"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		reason = "circuit_open"
		slog.Debug("termsrc: store skipped, circuit open", "key", key)
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
		slog.Warn("termsrc: store query timed out, using flat table", "key", key)
	default:
		slog.Warn("termsrc: store query failed, using flat table", "key", key, "err", err)
	}
	s.metrics.RecordStoreError(ctx, reason)
	return term.Entry{}, false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (s *Source) lookupTable(key string) (term.Entry, bool) {
	e, ok := s.table.Lookup(key)
	if ok && s.reload && e.SourceFile != "" && s.table.Stale(e.SourceFile) {
		if err := s.table.ReloadFile(e.SourceFile); err != nil {
			slog.Warn("termsrc: reload of changed term file failed", "path", e.SourceFile, "err", err)
		}
		e, ok = s.table.Lookup(key)
	}
	return e, ok
}

func (s *Source) remember(key string, e term.Entry) {
	if s.cache != nil {
		s.cache.Put(key, e, e.SourceFile)
	}
}

// LookupCompounds finds the compound terms in text. Candidate phrases are
// windows of 2 up to the configured maximum words; a window never spans
// punctuation between its words. Only entries flagged compound are kept.
// Overlapping candidates are resolved by preferring the longer span, then
// the higher confidence. Matches are returned ordered by position.
func (s *Source) LookupCompounds(ctx context.Context, text string) []Match {
	toks := term.Tokenize(text)
	maxWords := s.maxWords
	if s.store == nil {
		maxWords = min(maxWords, s.table.MaxWords())
	}

	var candidates []Match
	for i := range toks {
		for n := min(maxWords, len(toks)-i); n >= 2; n-- {
			window := toks[i : i+n]
			if !joinable(window) {
				continue
			}
			phrase := phraseOf(text, window)
			res, ok := s.Lookup(ctx, phrase)
			if !ok || !res.Entry.Compound {
				continue
			}
			candidates = append(candidates, Match{
				Entry:    res.Entry,
				Span:     types.Span{Start: window[0].CoreStart, End: window[n-1].CoreEnd},
				First:    i,
				Last:     i + n - 1,
				Degraded: res.Degraded,
			})
		}
	}
	return resolveOverlaps(candidates)
}

// joinable reports whether the tokens form one uninterrupted phrase.
func joinable(window []term.Token) bool {
	for j, tok := range window {
		if !tok.HasCore() {
			return false
		}
		if j < len(window)-1 && tok.TrailingPunct() {
			return false
		}
		if j > 0 && tok.LeadingPunct() {
			return false
		}
	}
	return true
}

func phraseOf(text string, window []term.Token) string {
	var n int
	for _, tok := range window {
		n += tok.CoreEnd - tok.CoreStart + 1
	}
	b := make([]byte, 0, n)
	for j, tok := range window {
		if j > 0 {
			b = append(b, ' ')
		}
		b = append(b, tok.Core(text)...)
	}
	return string(b)
}

// resolveOverlaps keeps the longest, then most confident, non-overlapping
// candidates and returns them ordered by start position.
func resolveOverlaps(candidates []Match) []Match {
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Words() != b.Words() {
			return a.Words() > b.Words()
		}
		if a.Entry.Confidence != b.Entry.Confidence {
			return a.Entry.Confidence > b.Entry.Confidence
		}
		return a.Span.Start < b.Span.Start
	})

	kept := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.Span.Overlaps(k.Span) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Span.Start < kept[j].Span.Start })
	return kept
}
