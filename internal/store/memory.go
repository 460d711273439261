package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-course/internal/recommend"
)

var (
	// ErrNotFound is returned when no probe result is available for an upstream.
	ErrNotFound = errors.New("no probe results for upstream")
)

// upstreamLog is the retained probe record of one upstream, oldest first.
type upstreamLog struct {
	results    []recommend.ProbeResult
	failStreak int
	lastOK     time.Time
}

// MemoryStore keeps recent probe results per upstream in memory. It is safe
// for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*upstreamLog

	maxHistory int           // results kept per upstream, 0 = unlimited
	maxAge     time.Duration // 0 = unlimited

	now func() time.Time
}

// NewMemoryStore creates a MemoryStore with the given retention.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		logs:       make(map[string]*upstreamLog),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record stores result and returns it stamped with the upstream's current
// failure streak and last success time.
func (s *MemoryStore) Record(result recommend.ProbeResult) recommend.ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[result.Upstream]
	if !ok {
		l = &upstreamLog{}
		s.logs[result.Upstream] = l
	}

	if result.OK {
		l.failStreak = 0
		l.lastOK = result.Timestamp
	} else {
		l.failStreak++
	}
	result.FailStreak = l.failStreak
	if !l.lastOK.IsZero() {
		lastOK := l.lastOK
		result.LastOKAt = &lastOK
	}

	l.results = append(l.results, result)
	l.prune(s.maxHistory, s.maxAge, s.now())
	return result
}

// prune applies count and age retention. The newest result always survives
// so the health endpoint can still report a long-silent upstream.
func (l *upstreamLog) prune(maxHistory int, maxAge time.Duration, now time.Time) {
	if maxHistory > 0 && len(l.results) > maxHistory {
		l.results = l.results[len(l.results)-maxHistory:]
	}
	if maxAge <= 0 {
		return
	}

	cutoff := now.Add(-maxAge)
	keep := len(l.results) - 1
	for i, r := range l.results {
		if !r.Timestamp.Before(cutoff) {
			keep = i
			break
		}
	}
	l.results = l.results[keep:]
}

// GetLatest returns the most recent result for an upstream.
func (s *MemoryStore) GetLatest(upstream string) (recommend.ProbeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[upstream]
	if !ok || len(l.results) == 0 {
		return recommend.ProbeResult{}, ErrNotFound
	}
	return l.results[len(l.results)-1], nil
}

// GetRange returns the results for an upstream observed between from and to,
// both inclusive.
func (s *MemoryStore) GetRange(upstream string, from, to time.Time) ([]recommend.ProbeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[upstream]
	if !ok {
		return nil, ErrNotFound
	}

	var out []recommend.ProbeResult
	for _, r := range l.results {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
