package core

import (
	"testing"
	"time"
)

func TestMetricsSnapshotSub(t *testing.T) {
	before := MetricsSnapshotNow()
	m := Metrics()
	m.BatchesOpened.Add(3)
	m.Defragmentations.Add(1)
	RecordingDone(RecordingStart())

	diff := MetricsSnapshotNow().Sub(before)
	if diff.BatchesOpened < 3 || diff.Defragmentations < 1 || diff.Recordings < 1 {
		t.Errorf("diff = %+v", diff)
	}
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	if c.Elapsed() != 0 {
		t.Fatalf("stopped clock advanced: %s", c.Elapsed())
	}
	c.Start()
	time.Sleep(2 * time.Millisecond)
	c.Update()
	e := c.Elapsed()
	if e < time.Millisecond {
		t.Errorf("elapsed = %s, want at least 1ms", e)
	}
	c.Stop()
	time.Sleep(time.Millisecond)
	c.Update()
	if c.Elapsed() != e {
		t.Errorf("stopped clock moved from %s to %s", e, c.Elapsed())
	}
}
