package engine

import (
	"math"
	"testing"
	"time"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

func TestDetectRedundantExecutions(t *testing.T) {
	eng := newTestEngine(t)
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	burst := func(hash string, n int, gap time.Duration) []model.ExecutionRecord {
		records := make([]model.ExecutionRecord, n)
		for i := range records {
			records[i] = model.ExecutionRecord{
				QueryID:         "q",
				FingerprintHash: hash,
				StartTime:       base.Add(time.Duration(i) * gap),
			}
		}
		return records
	}

	t.Run("five executions ten seconds apart", func(t *testing.T) {
		snap := &model.Snapshot{
			Records:         burst("aaaa", 5, 10*time.Second),
			HasFingerprints: true,
		}
		issues := eng.detectRedundantExecutions(snap)
		if len(issues) != 1 {
			t.Fatalf("got %d issues, want 1", len(issues))
		}
		// 4 consecutive gaps, all short
		if issues[0].Count != 4 {
			t.Errorf("count = %d, want 4 short gaps", issues[0].Count)
		}
		if issues[0].Severity != model.SeverityMedium {
			t.Errorf("severity = %s, want MEDIUM", issues[0].Severity)
		}
	})

	t.Run("many short gaps is high", func(t *testing.T) {
		snap := &model.Snapshot{
			Records:         burst("aaaa", 7, time.Minute),
			HasFingerprints: true,
		}
		issues := eng.detectRedundantExecutions(snap)
		if len(issues) != 1 {
			t.Fatalf("got %d issues, want 1", len(issues))
		}
		if issues[0].Severity != model.SeverityHigh {
			t.Errorf("severity = %s, want HIGH", issues[0].Severity)
		}
	})

	t.Run("widely spaced executions", func(t *testing.T) {
		snap := &model.Snapshot{
			Records:         burst("aaaa", 5, time.Hour),
			HasFingerprints: true,
		}
		if issues := eng.detectRedundantExecutions(snap); len(issues) != 0 {
			t.Errorf("got %d issues, want 0", len(issues))
		}
	})

	t.Run("group below minimum size", func(t *testing.T) {
		snap := &model.Snapshot{
			Records:         burst("aaaa", 2, time.Second),
			HasFingerprints: true,
		}
		if issues := eng.detectRedundantExecutions(snap); len(issues) != 0 {
			t.Errorf("got %d issues, want 0", len(issues))
		}
	})

	t.Run("no fingerprint column", func(t *testing.T) {
		snap := &model.Snapshot{Records: burst("aaaa", 5, time.Second)}
		if issues := eng.detectRedundantExecutions(snap); issues != nil {
			t.Errorf("got %d issues, want nil without fingerprints", len(issues))
		}
	})
}

func TestDetectOffHours(t *testing.T) {
	eng := newTestEngine(t)

	day := func(hour int) time.Time {
		return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
	}
	snap := &model.Snapshot{Records: []model.ExecutionRecord{
		{QueryID: "night", StartTime: day(3)},
		{QueryID: "edge-start", StartTime: day(0)},
		{QueryID: "edge-end", StartTime: day(5)}, // end hour is exclusive
		{QueryID: "afternoon", StartTime: day(14)},
	}}

	issues := eng.detectOffHours(snap)
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	for _, issue := range issues {
		if issue.QueryID != "night" && issue.QueryID != "edge-start" {
			t.Errorf("unexpected query flagged: %s", issue.QueryID)
		}
		if issue.Severity != model.SeverityLow {
			t.Errorf("severity = %s, want LOW", issue.Severity)
		}
	}
}

func TestDetectRuntimeSpikes(t *testing.T) {
	eng := newTestEngine(t)

	group := func(hash string, execMS ...int64) []model.ExecutionRecord {
		records := make([]model.ExecutionRecord, len(execMS))
		for i, ms := range execMS {
			records[i] = model.ExecutionRecord{
				QueryID:         "q",
				FingerprintHash: hash,
				ExecutionMS:     ms,
			}
		}
		return records
	}

	t.Run("single outlier", func(t *testing.T) {
		// Nine executions at 10s and one at 1000s: z ≈ 3.3 against the
		// 10s median, well past the 3x-median requirement.
		records := group("aaaa", 10_000, 10_000, 10_000, 10_000, 10_000,
			10_000, 10_000, 10_000, 10_000, 1_000_000)
		snap := &model.Snapshot{Records: records, HasFingerprints: true}

		issues := eng.detectRuntimeSpikes(snap)
		if len(issues) != 1 {
			t.Fatalf("got %d issues, want 1", len(issues))
		}
		if issues[0].Severity != model.SeverityHigh {
			t.Errorf("severity = %s, want HIGH", issues[0].Severity)
		}
		if issues[0].ExecutionSec != 1000 {
			t.Errorf("execution sec = %.1f, want 1000", issues[0].ExecutionSec)
		}
	})

	t.Run("identical executions never spike", func(t *testing.T) {
		records := group("aaaa", 10_000, 10_000, 10_000, 10_000, 10_000,
			10_000, 10_000, 10_000, 10_000, 10_000)
		snap := &model.Snapshot{Records: records, HasFingerprints: true}
		if issues := eng.detectRuntimeSpikes(snap); len(issues) != 0 {
			t.Errorf("got %d issues, want 0 with zero variance", len(issues))
		}
	})

	t.Run("snapshot below minimum size", func(t *testing.T) {
		records := group("aaaa", 10_000, 10_000, 10_000, 10_000, 1_000_000)
		snap := &model.Snapshot{Records: records, HasFingerprints: true}
		if issues := eng.detectRuntimeSpikes(snap); issues != nil {
			t.Errorf("got %d issues, want nil below minimum snapshot size", len(issues))
		}
	})

	t.Run("group below minimum size", func(t *testing.T) {
		records := append(group("aaaa", 10_000, 1_000_000),
			group("bbbb", 1, 1, 1, 1, 1, 1, 1, 1)...)
		snap := &model.Snapshot{Records: records, HasFingerprints: true}
		if issues := eng.detectRuntimeSpikes(snap); len(issues) != 0 {
			t.Errorf("got %d issues, want 0 for undersized groups", len(issues))
		}
	})
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{7}, 7},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := median(tt.values); got != tt.want {
				t.Errorf("median(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestStddev(t *testing.T) {
	// Population standard deviation of {2, 4, 4, 4, 5, 5, 7, 9} is 2.
	got := stddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("stddev = %v, want 2", got)
	}
	if got := stddev(nil); got != 0 {
		t.Errorf("stddev(nil) = %v, want 0", got)
	}
	if got := stddev([]float64{5, 5, 5}); got != 0 {
		t.Errorf("stddev of constant values = %v, want 0", got)
	}
}
