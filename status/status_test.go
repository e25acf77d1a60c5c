package status

import (
	"strings"
	"testing"
	"time"
)

func TestLineIncludesAllFields(t *testing.T) {
	line := Line(Snapshot{
		QueueSize:     3,
		Engines:       []EngineStat{{Label: "local", JobCount: 1, MaxJobs: 4}},
		FinishedJobs:  10,
		RemainingSize: 7,
		EstimatedCost: 1.5,
	})
	for _, want := range []string{"in queue:", "local (4):", "done:", "remaining: 7", "~$1.50"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected line to contain %q, got %q", want, line)
		}
	}
}

func TestBarThrottlesRefreshes(t *testing.T) {
	var renders int
	bar := &Bar{Interval: time.Second, Out: func(string) { renders++ }}
	start := time.Now()

	bar.Refresh(Snapshot{}, start)
	bar.Refresh(Snapshot{}, start.Add(10*time.Millisecond))
	bar.Refresh(Snapshot{}, start.Add(2*time.Second))

	if renders != 2 {
		t.Fatalf("expected 2 renders, got %d", renders)
	}
}
