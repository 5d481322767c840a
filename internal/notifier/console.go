package notifier

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// ConsoleNotifier prints reports to the console (useful for testing and
// run-once mode).
type ConsoleNotifier struct{}

// NewConsoleNotifier creates a new console notifier.
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

// Name returns the notifier name.
func (c *ConsoleNotifier) Name() string {
	return "console"
}

// Send prints the report to the console.
func (c *ConsoleNotifier) Send(ctx context.Context, report *model.Report) error {
	fmt.Print(render(report))
	log.Printf("Report %s delivered to console", report.RunID)
	return nil
}

// render produces the full console report text.
func render(report *model.Report) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("═══════════════════════════════════════════════════════════════\n")
	sb.WriteString("                  CREDIT SENTINEL REPORT                       \n")
	sb.WriteString("═══════════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Run ID:       %s\n", report.RunID))
	sb.WriteString(fmt.Sprintf("Generated:    %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Window:       %s ~ %s (%s)\n",
		report.Window.Start.Format("2006-01-02 15:04"),
		report.Window.End.Format("2006-01-02 15:04"),
		report.Window.Duration()))
	sb.WriteString("───────────────────────────────────────────────────────────────\n")

	if report.NoData {
		sb.WriteString("\nNo query history in the analysis window.\n")
		sb.WriteString("Check ACCOUNT_USAGE privileges or widen the window.\n")
		return sb.String()
	}

	sb.WriteString("\n📊 OVERVIEW\n")
	sb.WriteString(fmt.Sprintf("  • Queries Analyzed:  %d\n", report.Stats.QueryCount))
	sb.WriteString(fmt.Sprintf("  • Avg Execution:     %.2fs\n", report.Stats.MeanExecutionSec))
	sb.WriteString(fmt.Sprintf("  • Data Scanned:      %.2f TB\n", report.Stats.TotalTBScanned))
	sb.WriteString(fmt.Sprintf("  • Credits Used:      %.2f\n", report.Stats.TotalCredits))

	if len(report.QueryTypes) > 0 {
		var parts []string
		for i, qt := range report.QueryTypes {
			if i >= 5 {
				parts = append(parts, "...")
				break
			}
			parts = append(parts, fmt.Sprintf("%s %d", qt.QueryType, qt.Count))
		}
		sb.WriteString(fmt.Sprintf("  • By Type:           %s\n", strings.Join(parts, ", ")))
	}

	sb.WriteString("\n🔍 ISSUES\n")
	sb.WriteString(fmt.Sprintf("  • Total:             %d (%d critical)\n", report.TotalIssues, report.CriticalIssues))
	sb.WriteString(fmt.Sprintf("  • SQL Anti-Patterns: %d\n", report.Categories.SQL))
	sb.WriteString(fmt.Sprintf("  • Performance:       %d\n", report.Categories.Performance))
	sb.WriteString(fmt.Sprintf("  • Operational:       %d\n", report.Categories.Operational))

	for _, line := range SummaryLines(report) {
		sb.WriteString("  " + line + "\n")
	}

	if n := report.IssueCount("missing_join_predicate"); n > 0 {
		sb.WriteString(fmt.Sprintf("\n⚠️  %d queries join without a predicate and produce cartesian products.\n", n))
	}

	if len(report.TopUsers) > 0 {
		sb.WriteString("\n👥 TOP USERS BY QUERY COUNT\n")
		for i, u := range report.TopUsers {
			if i >= 5 {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(report.TopUsers)-5))
				break
			}
			sb.WriteString(fmt.Sprintf("  %d. %-24s %6d queries, %8.1fs total\n", i+1, u.UserName, u.Count, u.TotalExecSec))
		}
	}

	if len(report.WarehouseCredits) > 0 {
		sb.WriteString("\n💰 TOP WAREHOUSES BY CREDITS\n")
		for i, w := range report.WarehouseCredits {
			if i >= 5 {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(report.WarehouseCredits)-5))
				break
			}
			sb.WriteString(fmt.Sprintf("  %d. %-24s %8.2f credits\n", i+1, w.WarehouseName, w.CreditsUsed))
		}
	}

	if len(report.TopQueries) > 0 {
		sb.WriteString("\n⏱ TOP EXPENSIVE QUERIES\n")
		for i, q := range report.TopQueries {
			if i >= 5 {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(report.TopQueries)-5))
				break
			}
			sb.WriteString(fmt.Sprintf("  %d. [%s] %.1fs, %.2f GB scanned (%s on %s)\n",
				i+1, q.QueryID, q.ExecutionSec, q.BytesScannedGB, q.UserName, q.WarehouseName))
		}
	}

	sb.WriteString("───────────────────────────────────────────────────────────────\n")

	return sb.String()
}

// SummaryLines renders one recommendation line per non-empty detector,
// ordered by registry order. Shared by the console and webhook formats.
func SummaryLines(report *model.Report) []string {
	var lines []string
	for _, d := range report.Detectors {
		if len(d.Issues) == 0 {
			continue
		}
		worst := d.Issues[0].Severity
		for _, issue := range d.Issues[1:] {
			if issue.Severity.Rank() > worst.Rank() {
				worst = issue.Severity
			}
		}
		lines = append(lines, fmt.Sprintf("• %d × %s (worst: %s)", len(d.Issues), d.Issues[0].Problem, worst))
	}
	return lines
}
