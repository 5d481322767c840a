package engine

import (
	"testing"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

func TestSpilling(t *testing.T) {
	tests := []struct {
		name         string
		local        int64
		remote       int64
		want         bool
		wantSeverity model.Severity
	}{
		{
			name:         "remote spill is critical",
			local:        1 << 30,
			remote:       5 << 30, // 5 GiB
			want:         true,
			wantSeverity: model.SeverityCritical,
		},
		{
			name:         "local only spill is high",
			local:        2 << 30,
			want:         true,
			wantSeverity: model.SeverityHigh,
		},
		{
			name:         "remote without local is still critical",
			remote:       1,
			want:         true,
			wantSeverity: model.SeverityCritical,
		},
		{
			name: "no spill",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue, ok := fire(t, spilling, model.ExecutionRecord{
				BytesSpilledLocal:  tt.local,
				BytesSpilledRemote: tt.remote,
			})
			if ok != tt.want {
				t.Fatalf("fired = %v, want %v", ok, tt.want)
			}
			if ok && issue.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", issue.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestLowCacheUtilization(t *testing.T) {
	base := model.ExecutionRecord{
		CachePercent: 2.5,
		ExecutionMS:  45_000,
		BytesScanned: 4 << 30,
	}

	issue, ok := fire(t, lowCacheUtilization, base)
	if !ok {
		t.Fatal("expected low cache utilization to fire")
	}
	if issue.Severity != model.SeverityLow {
		t.Errorf("severity = %s, want LOW", issue.Severity)
	}

	t.Run("warm cache", func(t *testing.T) {
		r := base
		r.CachePercent = 85
		if _, ok := fire(t, lowCacheUtilization, r); ok {
			t.Error("should not fire with a warm cache")
		}
	})

	t.Run("fast execution", func(t *testing.T) {
		r := base
		r.ExecutionMS = 5_000
		if _, ok := fire(t, lowCacheUtilization, r); ok {
			t.Error("should not fire below 30s execution")
		}
	})

	t.Run("small scan", func(t *testing.T) {
		r := base
		r.BytesScanned = 1024
		if _, ok := fire(t, lowCacheUtilization, r); ok {
			t.Error("should not fire below 1 GiB scanned")
		}
	})
}

func TestExcessiveCompilation(t *testing.T) {
	tests := []struct {
		name          string
		compilationMS int64
		totalMS       int64
		want          bool
	}{
		{"dominant and slow", 5000, 12_000, true},
		{"dominant but fast", 800, 1500, false},
		{"slow but proportional", 5000, 100_000, false},
		{"zero elapsed guarded", 5000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue, ok := fire(t, excessiveCompilation, model.ExecutionRecord{
				CompilationMS:  tt.compilationMS,
				TotalElapsedMS: tt.totalMS,
			})
			if ok != tt.want {
				t.Fatalf("fired = %v, want %v", ok, tt.want)
			}
			if ok && issue.Severity != model.SeverityMedium {
				t.Errorf("severity = %s, want MEDIUM", issue.Severity)
			}
		})
	}
}

func TestHighCloudServicesCost(t *testing.T) {
	if _, ok := fire(t, highCloudServicesCost, model.ExecutionRecord{CloudServicesCredits: 0.25}); !ok {
		t.Error("expected 0.25 credits to fire")
	}
	if _, ok := fire(t, highCloudServicesCost, model.ExecutionRecord{CloudServicesCredits: 0.1}); ok {
		t.Error("exactly 0.1 credits should not fire")
	}
	if _, ok := fire(t, highCloudServicesCost, model.ExecutionRecord{}); ok {
		t.Error("zero credits should not fire")
	}
}

func TestPoorPartitionPruning(t *testing.T) {
	tests := []struct {
		name         string
		scanned      int64
		total        int64
		want         bool
		wantSeverity model.Severity
	}{
		{"scanned most of a large table", 90, 100, true, model.SeverityHigh},
		{"scanned over half", 60, 100, true, model.SeverityMedium},
		{"good pruning", 10, 100, false, ""},
		{"small table ignored", 50, 50, false, ""},
		{"exactly half", 50, 100, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue, ok := fire(t, poorPartitionPruning, model.ExecutionRecord{
				PartitionsScanned: tt.scanned,
				PartitionsTotal:   tt.total,
			})
			if ok != tt.want {
				t.Fatalf("fired = %v, want %v", ok, tt.want)
			}
			if ok && issue.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", issue.Severity, tt.wantSeverity)
			}
		})
	}
}
