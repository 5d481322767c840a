package engine

import (
	"fmt"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

const (
	lowCacheMaxPercent = 10.0
	lowCacheMinExecSec = 30.0
	lowCacheMinBytes   = gib

	compilationMinRatio = 0.25
	compilationMinMS    = int64(3000)

	cloudServicesMinCredits = 0.1

	pruningMinPartitions = int64(50)
	pruningMediumRatio   = 0.5
	pruningHighRatio     = 0.8
)

// spilling flags executions whose working set overflowed memory.
// Remote spill is strictly worse than local disk, so it is always
// CRITICAL; local-only spill is HIGH.
func spilling(r *model.ExecutionRecord, _ string) (model.Issue, bool) {
	if r.BytesSpilledLocal <= 0 && r.BytesSpilledRemote <= 0 {
		return model.Issue{}, false
	}
	severity := model.SeverityHigh
	if r.BytesSpilledRemote > 0 {
		severity = model.SeverityCritical
	}
	return model.Issue{
		Severity: severity,
		Problem:  "Memory Spilling",
		Reason: fmt.Sprintf("%.2f GB local / %.2f GB remote spill",
			float64(r.BytesSpilledLocal)/float64(gib),
			float64(r.BytesSpilledRemote)/float64(gib)),
		Recommendation: fmt.Sprintf("Increase the warehouse size (currently %s) to provide more memory, or reduce the intermediate working set with filters, pre-aggregation or temp tables.", r.WarehouseSize),
	}, true
}

// lowCacheUtilization flags long scans that bypassed the local disk cache.
func lowCacheUtilization(r *model.ExecutionRecord, _ string) (model.Issue, bool) {
	if r.CachePercent >= lowCacheMaxPercent {
		return model.Issue{}, false
	}
	if r.ExecutionSeconds() <= lowCacheMinExecSec || r.BytesScanned <= lowCacheMinBytes {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityLow,
		Problem:        "Low Cache Utilization",
		Reason:         fmt.Sprintf("only %.1f%% scanned from cache", r.CachePercent),
		Recommendation: "Raise the warehouse auto-suspend so the cache survives between runs, and route repeated scans of the same tables to the same warehouse.",
	}, true
}

// excessiveCompilation flags queries dominated by compilation. The
// absolute floor keeps trivially fast queries from being flagged when
// their compilation is proportionally large but absolutely tiny.
func excessiveCompilation(r *model.ExecutionRecord, _ string) (model.Issue, bool) {
	total := r.TotalElapsedMS
	if total < 1 {
		total = 1
	}
	ratio := float64(r.CompilationMS) / float64(total)
	if ratio <= compilationMinRatio || r.CompilationMS <= compilationMinMS {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityMedium,
		Problem:        "Excessive Compilation Time",
		Reason:         fmt.Sprintf("compilation is %.0f%% of the %.1fs elapsed (%.1fs compiling)", ratio*100, r.ElapsedSeconds(), float64(r.CompilationMS)/1000),
		Recommendation: "Simplify the statement: fewer CTEs and nested views, no dynamically generated SQL. Compilation cost repeats on every execution.",
	}, true
}

// highCloudServicesCost flags executions with outsized cloud-services
// credit consumption.
func highCloudServicesCost(r *model.ExecutionRecord, _ string) (model.Issue, bool) {
	if r.CloudServicesCredits <= cloudServicesMinCredits {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityLow,
		Problem:        "High Cloud Services Cost",
		Reason:         fmt.Sprintf("%.3f cloud-services credits", r.CloudServicesCredits),
		Recommendation: "Cloud-services credits come from metadata-heavy operations: many small statements, wide INFORMATION_SCHEMA queries, frequent cloning. Batch small statements and cache metadata lookups.",
	}, true
}

// poorPartitionPruning flags scans that touched most of a large table's
// partitions despite filtering.
func poorPartitionPruning(r *model.ExecutionRecord, _ string) (model.Issue, bool) {
	if r.PartitionsTotal <= pruningMinPartitions {
		return model.Issue{}, false
	}
	total := r.PartitionsTotal
	if total < 1 {
		total = 1
	}
	ratio := float64(r.PartitionsScanned) / float64(total)
	if ratio <= pruningMediumRatio {
		return model.Issue{}, false
	}
	severity := model.SeverityMedium
	if ratio > pruningHighRatio {
		severity = model.SeverityHigh
	}
	return model.Issue{
		Severity:       severity,
		Problem:        "Poor Partition Pruning",
		Reason:         fmt.Sprintf("%d of %d partitions scanned (%.0f%%)", r.PartitionsScanned, r.PartitionsTotal, ratio*100),
		Recommendation: "Filter on clustered columns, or define clustering keys on the columns this query filters by, so partition metadata can exclude most of the table.",
	}, true
}
