package notifier

import (
	"strings"
	"testing"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

func TestRender(t *testing.T) {
	report := testReport()
	report.Detectors = append(report.Detectors, model.DetectorResult{
		Name:     "missing_join_predicate",
		Category: model.CategorySQL,
		Issues: []model.Issue{
			{Severity: model.SeverityCritical, Problem: "Missing Join Predicate"},
			{Severity: model.SeverityCritical, Problem: "Missing Join Predicate"},
		},
	})
	report.QueryTypes = []model.QueryTypeCount{
		{QueryType: "SELECT", Count: 30},
		{QueryType: "INSERT", Count: 12},
	}
	report.TopUsers = []model.UserQueryCount{
		{UserName: "ALICE", Count: 25, TotalExecSec: 120.5},
		{UserName: "BOB", Count: 17, TotalExecSec: 60},
	}

	out := render(report)

	for _, want := range []string{
		"run-123",
		"(1h0m0s)",
		"Queries Analyzed:  42",
		"By Type:           SELECT 30, INSERT 12",
		"2 queries join without a predicate and produce cartesian products",
		"TOP USERS BY QUERY COUNT",
		"ALICE",
		"Memory Spilling",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTruncatesTopUsers(t *testing.T) {
	report := testReport()
	report.TopUsers = []model.UserQueryCount{
		{UserName: "U1", Count: 9},
		{UserName: "U2", Count: 8},
		{UserName: "U3", Count: 7},
		{UserName: "U4", Count: 6},
		{UserName: "U5", Count: 5},
		{UserName: "U6", Count: 4},
		{UserName: "U7", Count: 3},
	}

	out := render(report)

	if !strings.Contains(out, "... and 2 more") {
		t.Errorf("expected truncation marker for 7 users:\n%s", out)
	}
	if strings.Contains(out, "U6") {
		t.Errorf("users beyond the fifth should not be listed:\n%s", out)
	}
}

func TestRenderNoData(t *testing.T) {
	report := testReport()
	report.NoData = true

	out := render(report)

	if !strings.Contains(out, "No query history in the analysis window") {
		t.Errorf("no-data notice missing:\n%s", out)
	}
	if strings.Contains(out, "OVERVIEW") {
		t.Errorf("no-data report should stop before the overview:\n%s", out)
	}
}
