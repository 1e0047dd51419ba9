package extract

import (
	"sort"
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time aggregate of model usage: call
// latencies within the rolling window plus lifetime outcome counters
// for the extraction loop.
type StatsSnapshot struct {
	Calls int     `json:"calls"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P95Ms float64 `json:"p95_ms"`

	Extractions    int64 `json:"extractions"`
	Retries        int64 `json:"retries"`
	Exhausted      int64 `json:"exhausted"`
	TransportFails int64 `json:"transport_failures"`
	Summaries      int64 `json:"summaries"`
}

type latencySample struct {
	at time.Time
	ms int64
}

// LLMStats tracks model call latencies within a rolling window and
// counts how extraction attempts end.
type LLMStats struct {
	mu      sync.Mutex
	latency []latencySample
	maxAge  time.Duration

	extractions    int64
	retries        int64
	exhausted      int64
	transportFails int64
	summaries      int64
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		latency: make([]latencySample, 0, 256),
		maxAge:  maxAge,
	}
}

func (s *LLMStats) RecordCall(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.latency = append(s.latency, latencySample{at: now, ms: ms})
}

func (s *LLMStats) RecordExtraction(retries int, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extractions++
	s.retries += int64(retries)
	if exhausted {
		s.exhausted++
	}
}

func (s *LLMStats) RecordTransportFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transportFails++
}

func (s *LLMStats) RecordSummary() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries++
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	snap := StatsSnapshot{
		Extractions:    s.extractions,
		Retries:        s.retries,
		Exhausted:      s.exhausted,
		TransportFails: s.transportFails,
		Summaries:      s.summaries,
	}
	if len(s.latency) == 0 {
		return snap
	}

	values := make([]int64, 0, len(s.latency))
	var sum int64
	for _, sm := range s.latency {
		values = append(values, sm.ms)
		sum += sm.ms
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	snap.Calls = len(values)
	snap.MinMs = values[0]
	snap.MaxMs = values[len(values)-1]
	snap.AvgMs = float64(sum) / float64(len(values))
	snap.P95Ms = percentile(values, 95)
	return snap
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.latency {
		if !sm.at.Before(cutoff) {
			s.latency[writeIdx] = sm
			writeIdx++
		}
	}
	s.latency = s.latency[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	return float64(sortedValues[lower]) + (float64(sortedValues[upper])-float64(sortedValues[lower]))*weight
}
