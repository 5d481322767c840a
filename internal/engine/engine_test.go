package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// stubSource is a canned DataSource for engine tests.
type stubSource struct {
	snap     *model.Snapshot
	metering []model.MeteringRecord
	err      error
	calls    int
}

func (s *stubSource) LoadAll(ctx context.Context) (*model.Snapshot, []model.MeteringRecord, error) {
	s.calls++
	return s.snap, s.metering, s.err
}

// mixedSnapshot covers every detector category: one textual offender, one
// spiller, and a redundant burst.
func mixedSnapshot() *model.Snapshot {
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	records := []model.ExecutionRecord{
		{
			QueryID:       "q-wildcard",
			QueryText:     "SELECT * FROM orders",
			UserName:      "ALICE",
			WarehouseName: "ANALYTICS",
			BytesScanned:  2 << 30,
			ExecutionMS:   5_000,
			StartTime:     base,
		},
		{
			QueryID:            "q-spill",
			QueryText:          "SELECT id FROM big GROUP BY id",
			UserName:           "BOB",
			WarehouseName:      "ETL",
			BytesSpilledRemote: 5 << 30,
			ExecutionMS:        300_000,
			StartTime:          base.Add(time.Minute),
		},
	}
	for i := 0; i < 3; i++ {
		records = append(records, model.ExecutionRecord{
			QueryID:         "q-redundant",
			QueryText:       "SELECT count(1) FROM events WHERE day = ?",
			FingerprintHash: "feed",
			UserName:        "CAROL",
			WarehouseName:   "REPORTING",
			ExecutionMS:     2_000,
			StartTime:       base.Add(time.Duration(i*10) * time.Second),
		})
	}
	return &model.Snapshot{
		Records:         records,
		HasFingerprints: true,
		Window: model.TimeWindow{
			Start: base.Add(-24 * time.Hour),
			End:   base,
		},
	}
}

func TestAnalyzeCategoryTotals(t *testing.T) {
	eng := newTestEngine(t)
	report := eng.Analyze(mixedSnapshot(), nil, model.Filter{})

	var sum int
	for _, d := range report.Detectors {
		sum += len(d.Issues)
	}
	if report.TotalIssues != sum {
		t.Errorf("TotalIssues = %d, want %d (sum over detector tables)", report.TotalIssues, sum)
	}
	if got := report.Categories.Sum(); got != report.TotalIssues {
		t.Errorf("category sum = %d, want %d", got, report.TotalIssues)
	}
	if report.TotalIssues == 0 {
		t.Fatal("expected the mixed snapshot to produce issues")
	}
	if report.CriticalIssues == 0 {
		t.Error("expected the remote spill to count as critical")
	}
	if len(report.TopUsers) != 3 {
		t.Errorf("got %d top users, want 3", len(report.TopUsers))
	}
	if report.TopUsers[0].UserName != "CAROL" || report.TopUsers[0].Count != 3 {
		t.Errorf("busiest user = %+v, want CAROL x3", report.TopUsers[0])
	}
}

func TestAnalyzeDetectorRegistry(t *testing.T) {
	eng := newTestEngine(t)
	report := eng.Analyze(&model.Snapshot{}, nil, model.Filter{})

	if !report.NoData {
		t.Error("empty snapshot should set NoData")
	}
	if len(report.Detectors) != 18 {
		t.Fatalf("got %d detector tables, want 18", len(report.Detectors))
	}
	seen := make(map[string]bool)
	for _, d := range report.Detectors {
		if seen[d.Name] {
			t.Errorf("duplicate detector table %q", d.Name)
		}
		seen[d.Name] = true
		if len(d.Issues) != 0 {
			t.Errorf("detector %q produced issues from an empty snapshot", d.Name)
		}
		switch d.Category {
		case model.CategorySQL, model.CategoryPerformance, model.CategoryOperational:
		default:
			t.Errorf("detector %q has unknown category %q", d.Name, d.Category)
		}
	}
	if report.TotalIssues != 0 {
		t.Errorf("TotalIssues = %d, want 0", report.TotalIssues)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	snap := mixedSnapshot()
	first := newTestEngine(t).Analyze(snap, nil, model.Filter{})
	second := newTestEngine(t).Analyze(snap, nil, model.Filter{})

	if !reflect.DeepEqual(first.Detectors, second.Detectors) {
		t.Error("detector tables differ across identical runs")
	}
	if first.TotalIssues != second.TotalIssues || first.CriticalIssues != second.CriticalIssues {
		t.Error("issue counts differ across identical runs")
	}
}

func TestAnalyzeMemoization(t *testing.T) {
	eng := newTestEngine(t)
	snap := mixedSnapshot()

	first := eng.Analyze(snap, nil, model.Filter{})
	second := eng.Analyze(snap, nil, model.Filter{})
	if first != second {
		t.Error("same snapshot and filter should return the memoized report")
	}

	filtered := eng.Analyze(snap, nil, model.Filter{Users: []string{"ALICE"}})
	if filtered == first {
		t.Error("a different filter must not reuse the memoized report")
	}
}

func TestAnalyzeMemoizationTracksMetering(t *testing.T) {
	eng := newTestEngine(t)
	snap := mixedSnapshot()
	metering := []model.MeteringRecord{{WarehouseName: "ETL", CreditsUsed: 3}}

	bare := eng.Analyze(snap, nil, model.Filter{})
	withCredits := eng.Analyze(snap, metering, model.Filter{})
	if withCredits == bare {
		t.Fatal("different metering must not reuse the memoized report")
	}
	if withCredits.Stats.TotalCredits != 3 {
		t.Errorf("total credits = %v, want 3", withCredits.Stats.TotalCredits)
	}

	again := eng.Analyze(snap, metering, model.Filter{})
	if again != withCredits {
		t.Error("identical snapshot, metering and filter should return the memoized report")
	}
}

func TestAnalyzeFilter(t *testing.T) {
	eng := newTestEngine(t)
	snap := mixedSnapshot()

	report := eng.Analyze(snap, nil, model.Filter{Users: []string{"ALICE"}})
	for _, d := range report.Detectors {
		for _, issue := range d.Issues {
			if issue.UserName != "ALICE" && issue.UserName != "" {
				t.Errorf("detector %q leaked issue for user %q through the filter", d.Name, issue.UserName)
			}
		}
	}
	if n := report.IssueCount("spilling"); n != 0 {
		t.Errorf("spilling issues = %d, want 0 when BOB is filtered out", n)
	}
	if n := report.IssueCount("wildcard_projection"); n != 1 {
		t.Errorf("wildcard issues = %d, want 1", n)
	}
}

func TestApplyFilterEmptyReturnsSameSnapshot(t *testing.T) {
	snap := mixedSnapshot()
	if got := applyFilter(snap, model.Filter{}); got != snap {
		t.Error("empty filter should return the input snapshot unchanged")
	}
	if got := applyFilter(nil, model.Filter{}); got == nil || !got.Empty() {
		t.Error("nil snapshot should yield an empty snapshot")
	}
}

func TestAnalyzeWithoutFingerprints(t *testing.T) {
	eng := newTestEngine(t)
	snap := mixedSnapshot()
	snap.HasFingerprints = false

	report := eng.Analyze(snap, nil, model.Filter{})
	for _, name := range []string{"repeated_expensive_query", "redundant_executions", "runtime_spike"} {
		if n := report.IssueCount(name); n != 0 {
			t.Errorf("%s produced %d issues without fingerprint data", name, n)
		}
	}
	// Per-record detectors still run.
	if n := report.IssueCount("wildcard_projection"); n != 1 {
		t.Errorf("wildcard issues = %d, want 1", n)
	}
}

func TestGenerate(t *testing.T) {
	src := &stubSource{snap: mixedSnapshot()}
	eng := New(newTestEngine(t).cfg, src)

	report, err := eng.Generate(context.Background(), model.Filter{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.NoData {
		t.Error("expected data in the report")
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}

	t.Run("source error", func(t *testing.T) {
		failing := New(newTestEngine(t).cfg, &stubSource{err: errors.New("connection reset")})
		if _, err := failing.Run(context.Background()); err == nil {
			t.Error("expected source error to propagate")
		}
	})
}
