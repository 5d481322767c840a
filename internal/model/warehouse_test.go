package model

import "testing"

func TestSizeRank(t *testing.T) {
	tests := []struct {
		size string
		want int
	}{
		{"X-SMALL", 0},
		{"SMALL", 1},
		{"MEDIUM", 2},
		{"LARGE", 3},
		{"X-LARGE", 4},
		{"4X-LARGE", 7},
		{"xsmall", 0},
		{"  Large ", 3},
		{"2XLARGE", 5},
		{"", -1},
		{"GIGANTIC", -1},
	}

	for _, tt := range tests {
		t.Run(tt.size, func(t *testing.T) {
			if got := SizeRank(tt.size); got != tt.want {
				t.Errorf("SizeRank(%q) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

func TestIsAtLeastLarge(t *testing.T) {
	for _, size := range []string{"LARGE", "X-LARGE", "2X-LARGE", "4X-LARGE"} {
		if !IsAtLeastLarge(size) {
			t.Errorf("IsAtLeastLarge(%q) = false, want true", size)
		}
	}
	for _, size := range []string{"X-SMALL", "SMALL", "MEDIUM", "", "GIGANTIC"} {
		if IsAtLeastLarge(size) {
			t.Errorf("IsAtLeastLarge(%q) = true, want false", size)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%s should outrank %s", ordered[i], ordered[i-1])
		}
	}
	if Severity("UNKNOWN").Rank() != 0 {
		t.Error("unknown severity should rank lowest")
	}
}

func TestCategoryTotals(t *testing.T) {
	var totals CategoryTotals
	totals.Add(CategorySQL, 3)
	totals.Add(CategoryPerformance, 2)
	totals.Add(CategoryOperational, 1)
	totals.Add(Category("bogus"), 99)

	if totals.SQL != 3 || totals.Performance != 2 || totals.Operational != 1 {
		t.Errorf("totals = %+v", totals)
	}
	if totals.Sum() != 6 {
		t.Errorf("sum = %d, want 6", totals.Sum())
	}
}
