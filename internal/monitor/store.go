package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/pulseguard/internal/models"
)

const (
	DefaultMaxSamples = 1024
	DefaultRetention  = time.Hour
)

type series struct {
	mu      sync.Mutex
	samples []models.MetricSample
}

// SampleStore keeps a bounded, timestamp-ordered window of samples per metric.
// Producers may record concurrently; readers always receive copies.
type SampleStore struct {
	mu         sync.RWMutex
	series     map[string]*series
	maxSamples int
	retention  time.Duration
}

func NewSampleStore(maxSamples int, retention time.Duration) *SampleStore {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SampleStore{
		series:     make(map[string]*series),
		maxSamples: maxSamples,
		retention:  retention,
	}
}

// Record appends a sample to the metric's series. Late samples are inserted in
// timestamp order.
func (s *SampleStore) Record(name string, value float64, ts time.Time) error {
	sample := models.MetricSample{MetricName: name, Value: value, Timestamp: ts}
	if err := sample.Validate(); err != nil {
		return err
	}

	sr := s.getOrCreate(name)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	n := len(sr.samples)
	if n == 0 || !ts.Before(sr.samples[n-1].Timestamp) {
		sr.samples = append(sr.samples, sample)
	} else {
		// first index with a strictly later timestamp keeps equal timestamps in arrival order
		i := sort.Search(n, func(i int) bool { return sr.samples[i].Timestamp.After(ts) })
		sr.samples = append(sr.samples, models.MetricSample{})
		copy(sr.samples[i+1:], sr.samples[i:])
		sr.samples[i] = sample
	}
	s.trim(sr)
	return nil
}

// RecordSample is Record for an already assembled sample.
func (s *SampleStore) RecordSample(sample models.MetricSample) error {
	return s.Record(sample.MetricName, sample.Value, sample.Timestamp)
}

func (s *SampleStore) trim(sr *series) {
	newest := sr.samples[len(sr.samples)-1].Timestamp
	cutoff := newest.Add(-s.retention)
	drop := sort.Search(len(sr.samples), func(i int) bool { return !sr.samples[i].Timestamp.Before(cutoff) })
	if over := len(sr.samples) - drop - s.maxSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		sr.samples = append(sr.samples[:0], sr.samples[drop:]...)
	}
}

func (s *SampleStore) getOrCreate(name string) *series {
	s.mu.RLock()
	sr, ok := s.series[name]
	s.mu.RUnlock()
	if ok {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok = s.series[name]; ok {
		return sr
	}
	sr = &series{samples: make([]models.MetricSample, 0, 16)}
	s.series[name] = sr
	return sr
}

func (s *SampleStore) get(name string) *series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[name]
}

// WindowCount returns the newest n samples, oldest first.
func (s *SampleStore) WindowCount(name string, n int) []models.MetricSample {
	sr := s.get(name)
	if sr == nil || n <= 0 {
		return nil
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()

	start := len(sr.samples) - n
	if start < 0 {
		start = 0
	}
	return copySamples(sr.samples[start:])
}

// WindowDuration returns the samples with now-d < ts <= now.
func (s *SampleStore) WindowDuration(name string, d time.Duration, now time.Time) []models.MetricSample {
	sr := s.get(name)
	if sr == nil {
		return nil
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()

	from := now.Add(-d)
	lo := sort.Search(len(sr.samples), func(i int) bool { return sr.samples[i].Timestamp.After(from) })
	hi := sort.Search(len(sr.samples), func(i int) bool { return sr.samples[i].Timestamp.After(now) })
	if lo >= hi {
		return nil
	}
	return copySamples(sr.samples[lo:hi])
}

// Span returns the sample in effect at start followed by every sample in
// (start, end]. covered is false when nothing was recorded at or before start,
// which means the series does not yet reach back over the whole span.
func (s *SampleStore) Span(name string, start, end time.Time) ([]models.MetricSample, bool) {
	sr := s.get(name)
	if sr == nil {
		return nil, false
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()

	after := sort.Search(len(sr.samples), func(i int) bool { return sr.samples[i].Timestamp.After(start) })
	if after == 0 {
		return nil, false
	}
	hi := sort.Search(len(sr.samples), func(i int) bool { return sr.samples[i].Timestamp.After(end) })
	if hi < after {
		hi = after
	}
	return copySamples(sr.samples[after-1 : hi]), true
}

func (s *SampleStore) Latest(name string) (models.MetricSample, bool) {
	sr := s.get(name)
	if sr == nil {
		return models.MetricSample{}, false
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if len(sr.samples) == 0 {
		return models.MetricSample{}, false
	}
	return sr.samples[len(sr.samples)-1], true
}

// Names lists every metric that has been recorded, sorted.
func (s *SampleStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copySamples(in []models.MetricSample) []models.MetricSample {
	out := make([]models.MetricSample, len(in))
	copy(out, in)
	return out
}
