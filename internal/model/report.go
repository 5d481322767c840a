package model

import "time"

// Severity is the ordinal priority of an issue.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Rank returns the numeric priority of a severity (higher is worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Category groups detectors for the report rollups. Every detector
// belongs to exactly one category so the rollup sums never double-count.
type Category string

const (
	CategorySQL         Category = "sql"
	CategoryPerformance Category = "performance"
	CategoryOperational Category = "operational"
)

// CategoryTotals holds the per-category issue counts.
type CategoryTotals struct {
	SQL         int `json:"sql"`
	Performance int `json:"performance"`
	Operational int `json:"operational"`
}

// Add increments the count for the given category.
func (c *CategoryTotals) Add(cat Category, n int) {
	switch cat {
	case CategorySQL:
		c.SQL += n
	case CategoryPerformance:
		c.Performance += n
	case CategoryOperational:
		c.Operational += n
	}
}

// Sum returns the total across all categories.
func (c CategoryTotals) Sum() int {
	return c.SQL + c.Performance + c.Operational
}

// Issue is one finding produced by a detector. Issues are flat: they
// never reference each other, and they are recomputed from scratch on
// every analysis run.
type Issue struct {
	QueryID         string `json:"query_id,omitempty"`
	FingerprintHash string `json:"fingerprint_hash,omitempty"`
	UserName        string `json:"user_name,omitempty"`
	WarehouseName   string `json:"warehouse_name,omitempty"`
	WarehouseSize   string `json:"warehouse_size,omitempty"`
	DatabaseName    string `json:"database_name,omitempty"`

	Severity       Severity `json:"severity"`
	Problem        string   `json:"problem"`
	Reason         string   `json:"reason,omitempty"`
	Recommendation string   `json:"recommendation"`

	// ExecutionSec is the execution time of the flagged query, or for
	// grouped findings the total across the group, in seconds.
	ExecutionSec float64 `json:"execution_sec,omitempty"`

	// Count carries the group cardinality for grouped findings
	// (executions in a fingerprint group, short gaps, queries on a
	// warehouse).
	Count int `json:"count,omitempty"`
}

// DetectorResult is one detector's issue table.
type DetectorResult struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Issues   []Issue  `json:"issues"`
}

// SnapshotStats is the overview header computed from one snapshot.
type SnapshotStats struct {
	QueryCount       int     `json:"query_count"`
	MeanExecutionSec float64 `json:"mean_execution_sec"`
	TotalTBScanned   float64 `json:"total_tb_scanned"`
	TotalCredits     float64 `json:"total_credits"`
}

// ExpensiveQuery is one row of the top-offenders table.
type ExpensiveQuery struct {
	QueryID        string  `json:"query_id"`
	UserName       string  `json:"user_name"`
	WarehouseName  string  `json:"warehouse_name"`
	WarehouseSize  string  `json:"warehouse_size"`
	ExecutionSec   float64 `json:"execution_sec"`
	BytesScannedGB float64 `json:"bytes_scanned_gb"`
	RowsProduced   int64   `json:"rows_produced"`
}

// QueryTypeCount is one row of the statement-type distribution.
type QueryTypeCount struct {
	QueryType string `json:"query_type"`
	Count     int    `json:"count"`
}

// UserQueryCount is one row of the top-users table.
type UserQueryCount struct {
	UserName     string  `json:"user_name"`
	Count        int     `json:"count"`
	TotalExecSec float64 `json:"total_exec_sec"`
}

// WarehouseCreditSummary aggregates metering credits for one warehouse.
type WarehouseCreditSummary struct {
	WarehouseName        string  `json:"warehouse_name"`
	CreditsUsed          float64 `json:"credits_used"`
	CreditsCompute       float64 `json:"credits_compute"`
	CreditsCloudServices float64 `json:"credits_cloud_services"`
}

// TrendPoint is one hourly bucket of the trend series.
type TrendPoint struct {
	Hour             time.Time `json:"hour"`
	QueryCount       int       `json:"query_count"`
	MeanExecutionSec float64   `json:"mean_execution_sec"`
	CreditsUsed      float64   `json:"credits_used"`
}

// Report is the complete result of one analysis run. It is superseded
// entirely by the next run; nothing in it is persisted.
type Report struct {
	// RunID is a unique identifier for this analysis run.
	RunID string `json:"run_id"`

	// GeneratedAt is when this report was produced.
	GeneratedAt time.Time `json:"generated_at"`

	// Window is the time window the analyzed snapshot covers.
	Window TimeWindow `json:"window"`

	// NoData is set when the snapshot was empty (no records in the
	// window, or the source query failed and the caller degraded to an
	// empty snapshot).
	NoData bool `json:"no_data"`

	Stats SnapshotStats `json:"stats"`

	// Detectors holds one issue table per detector, in registry order.
	Detectors []DetectorResult `json:"detectors"`

	Categories     CategoryTotals `json:"categories"`
	TotalIssues    int            `json:"total_issues"`
	CriticalIssues int            `json:"critical_issues"`

	TopQueries       []ExpensiveQuery         `json:"top_queries,omitempty"`
	TopUsers         []UserQueryCount         `json:"top_users,omitempty"`
	QueryTypes       []QueryTypeCount         `json:"query_types,omitempty"`
	WarehouseCredits []WarehouseCreditSummary `json:"warehouse_credits,omitempty"`
	Trends           []TrendPoint             `json:"trends,omitempty"`
}

// IssueCount returns the issue count for the named detector, or zero if
// the detector is not present.
func (r *Report) IssueCount(name string) int {
	for _, d := range r.Detectors {
		if d.Name == name {
			return len(d.Issues)
		}
	}
	return 0
}
