// Package task binds the fluorescence dataset and the attention-pooling
// regressor into the train/valid/test loop: per-step loss and running error
// metrics, and per-epoch rank correlation on the held-out splits.
package task

import (
	"log/slog"
	"math"
)

// Mode selects which split's accumulators a step updates.
type Mode int

const (
	Train Mode = iota
	Valid
	Test
)

func (m Mode) String() string {
	switch m {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	}
	return "unknown"
}

// Sink receives named scalar metrics. Implementations decide where they go;
// the default logs through slog.
type Sink interface {
	Log(name string, value float64)
}

// SlogSink logs metrics as structured records.
type SlogSink struct {
	Logger *slog.Logger
}

// Log emits one metric record. A nil logger falls back to slog.Default.
func (s *SlogSink) Log(name string, value float64) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("metric", "name", name, "value", value)
}

// NopSink discards all metrics.
type NopSink struct{}

func (NopSink) Log(string, float64) {}

// runningMean accumulates a streaming mean.
type runningMean struct {
	sum   float64
	count int
}

func (r *runningMean) add(v float64) {
	r.sum += v
	r.count++
}

func (r *runningMean) value() float64 {
	if r.count == 0 {
		return math.NaN()
	}
	return r.sum / float64(r.count)
}

func (r *runningMean) reset() {
	r.sum = 0
	r.count = 0
}

// modeMetrics holds one mode's accumulator pair plus the epoch's collected
// predictions and targets. Modes are indexed directly by the Mode enum
// rather than by constructed metric names.
type modeMetrics struct {
	mse     runningMean
	mae     runningMean
	preds   []float32
	targets []float32
}

func (m *modeMetrics) update(preds, targets []float32) {
	for i := range preds {
		diff := float64(preds[i]) - float64(targets[i])
		m.mse.add(diff * diff)
		m.mae.add(math.Abs(diff))
	}
	m.preds = append(m.preds, preds...)
	m.targets = append(m.targets, targets...)
}

func (m *modeMetrics) reset() {
	m.mse.reset()
	m.mae.reset()
	m.preds = m.preds[:0]
	m.targets = m.targets[:0]
}
