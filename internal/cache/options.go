package cache

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/geomcache/geomcache/pkg/types"
	"github.com/geomcache/geomcache/pkg/utils"
)

// Tier names used in logs and metric labels.
const (
	TierMemory = "memory"
	TierBuffer = "buffer"
	TierFiles  = "files"
)

type options struct {
	logger  *log.Logger
	metrics types.MetricsRecorder
	now     func() time.Time
}

// Option configures a tier or a Manager.
type Option func(*options)

// WithLogger sets the logger. Tiers derive a component logger from it.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m types.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  utils.NopLogger(),
		metrics: nopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type nopRecorder struct{}

func (nopRecorder) RecordHit(string)                              {}
func (nopRecorder) RecordMiss(string)                             {}
func (nopRecorder) RecordEviction(string)                         {}
func (nopRecorder) RecordWriteError(string)                       {}
func (nopRecorder) SetSize(string, int64)                         {}
func (nopRecorder) SetQueueDepth(int)                             {}
func (nopRecorder) ObserveDuration(string, string, time.Duration) {}
