package models

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// MetricSample is a single timestamped reading of a named metric stream.
type MetricSample struct {
	MetricName string    `json:"name"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s MetricSample) Validate() error {
	if s.MetricName == "" {
		return NewValidationError("name", "metric name is required")
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return NewValidationError("value", "value must be a finite number")
	}
	if s.Timestamp.IsZero() {
		return NewValidationError("timestamp", "timestamp is required")
	}
	return nil
}

// DecodeSamples parses a JSON sample object or an array of them.
func DecodeSamples(data []byte) ([]MetricSample, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var samples []MetricSample
		if err := json.Unmarshal(data, &samples); err != nil {
			return nil, err
		}
		return samples, nil
	}
	var sample MetricSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, err
	}
	return []MetricSample{sample}, nil
}

// WindowStats summarizes the samples an evaluation looked at.
type WindowStats struct {
	Count  int       `json:"count"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Avg    float64   `json:"avg"`
	Oldest time.Time `json:"oldest"`
	Newest time.Time `json:"newest"`
}

func SummarizeWindow(samples []MetricSample) WindowStats {
	if len(samples) == 0 {
		return WindowStats{}
	}
	stats := WindowStats{
		Count:  len(samples),
		Min:    samples[0].Value,
		Max:    samples[0].Value,
		Oldest: samples[0].Timestamp,
		Newest: samples[len(samples)-1].Timestamp,
	}
	var sum float64
	for _, s := range samples {
		sum += s.Value
		if s.Value < stats.Min {
			stats.Min = s.Value
		}
		if s.Value > stats.Max {
			stats.Max = s.Value
		}
	}
	stats.Avg = sum / float64(len(samples))
	return stats
}
