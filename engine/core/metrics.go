package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/loov/hrtime"
)

type MetricsState struct {
	BatchesOpened     atomic.Uint64
	BatchSplits       atomic.Uint64
	HeapUpdates       atomic.Uint64
	PipelineUpdates   atomic.Uint64
	Defragmentations  atomic.Uint64
	RewriteDispatches atomic.Uint64
	Submissions       atomic.Uint64
	RecordingNanos    atomic.Int64
	Recordings        atomic.Uint64
}

// MetricsSnapshot is a plain copy of the counters.
type MetricsSnapshot struct {
	BatchesOpened     uint64
	BatchSplits       uint64
	HeapUpdates       uint64
	PipelineUpdates   uint64
	Defragmentations  uint64
	RewriteDispatches uint64
	Submissions       uint64
	Recordings        uint64
	AvgRecording      time.Duration
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{}
	})
	return nil
}

// Metrics returns the process-wide counters, initializing them on first use.
func Metrics() *MetricsState {
	_ = MetricsInitialize()
	return metricsState
}

// RecordingStart returns a timestamp for RecordingDone.
func RecordingStart() time.Duration {
	return hrtime.Now()
}

// RecordingDone accumulates the time elapsed since start.
func RecordingDone(start time.Duration) {
	m := Metrics()
	m.RecordingNanos.Add(int64(hrtime.Since(start)))
	m.Recordings.Add(1)
}

func MetricsSnapshotNow() MetricsSnapshot {
	m := Metrics()
	s := MetricsSnapshot{
		BatchesOpened:     m.BatchesOpened.Load(),
		BatchSplits:       m.BatchSplits.Load(),
		HeapUpdates:       m.HeapUpdates.Load(),
		PipelineUpdates:   m.PipelineUpdates.Load(),
		Defragmentations:  m.Defragmentations.Load(),
		RewriteDispatches: m.RewriteDispatches.Load(),
		Submissions:       m.Submissions.Load(),
		Recordings:        m.Recordings.Load(),
	}
	if s.Recordings > 0 {
		s.AvgRecording = time.Duration(m.RecordingNanos.Load() / int64(s.Recordings))
	}
	return s
}

// Sub returns the difference between two snapshots, used to measure the
// effect of a single operation when counters are shared.
func (s MetricsSnapshot) Sub(o MetricsSnapshot) MetricsSnapshot {
	return MetricsSnapshot{
		BatchesOpened:     s.BatchesOpened - o.BatchesOpened,
		BatchSplits:       s.BatchSplits - o.BatchSplits,
		HeapUpdates:       s.HeapUpdates - o.HeapUpdates,
		PipelineUpdates:   s.PipelineUpdates - o.PipelineUpdates,
		Defragmentations:  s.Defragmentations - o.Defragmentations,
		RewriteDispatches: s.RewriteDispatches - o.RewriteDispatches,
		Submissions:       s.Submissions - o.Submissions,
		Recordings:        s.Recordings - o.Recordings,
	}
}
