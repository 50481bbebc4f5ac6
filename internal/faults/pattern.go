package faults

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// rateWindow bounds how far back occurrences count toward the recent rate.
const rateWindow = 5 * time.Minute

// Pattern aggregates repeated occurrences of the same error shape.
// The identity key is (context, error type, hashed message) so that the
// same failure from the same call site collapses into one pattern while
// distinct messages stay separate.
type Pattern struct {
	Key      string    `json:"key"`
	Context  string    `json:"context"`
	Type     string    `json:"type"`
	Category Category  `json:"category"`
	Count    int64     `json:"count"`
	First    time.Time `json:"first_occurrence"`
	Last     time.Time `json:"last_occurrence"`

	// recent holds occurrence times inside rateWindow, oldest first.
	recent []time.Time
}

// RatePerMinute is the occurrence rate over the recent window.
func (p *Pattern) RatePerMinute(now time.Time) float64 {
	n := 0
	for _, ts := range p.recent {
		if now.Sub(ts) <= rateWindow {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	span := now.Sub(p.recent[len(p.recent)-n])
	if span < time.Minute {
		span = time.Minute
	}
	return float64(n) / span.Minutes()
}

// PatternStore is the concurrent registry of observed error patterns.
type PatternStore struct {
	mu       sync.Mutex
	patterns map[string]*Pattern
}

// NewPatternStore creates an empty pattern store.
func NewPatternStore() *PatternStore {
	return &PatternStore{patterns: make(map[string]*Pattern)}
}

// Record registers one occurrence and returns a copy of the updated
// pattern; its Count is the occurrence ordinal (1 for the first time seen).
func (s *PatternStore) Record(context string, err error, cat Category, now time.Time) *Pattern {
	key := PatternKey(context, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.patterns[key]
	if p == nil {
		p = &Pattern{
			Key:      key,
			Context:  context,
			Type:     errorType(err),
			Category: cat,
			First:    now,
		}
		s.patterns[key] = p
	}
	p.Count++
	p.Last = now
	p.recent = append(p.recent, now)
	// Trim entries that fell out of the window.
	cut := 0
	for cut < len(p.recent) && now.Sub(p.recent[cut]) > rateWindow {
		cut++
	}
	p.recent = p.recent[cut:]

	cp := *p
	cp.recent = append([]time.Time(nil), p.recent...)
	return &cp
}

// Snapshot returns copies of all patterns.
func (s *PatternStore) Snapshot() []Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		cp := *p
		cp.recent = nil
		out = append(out, cp)
	}
	return out
}

// PatternKey derives the aggregation key for an error in a context.
func PatternKey(context string, err error) string {
	h := fnv.New32a()
	if err != nil {
		_, _ = h.Write([]byte(err.Error()))
	}
	return fmt.Sprintf("%s|%s|%08x", context, errorType(err), h.Sum32())
}

// errorType names the concrete type of err itself; wrapped causes are
// not unwrapped.
func errorType(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", err)
}
