package engine

import (
	"fmt"
	"sort"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// warehouseGroup accumulates per-(warehouse,size) telemetry.
type warehouseGroup struct {
	warehouse    string
	size         string
	count        int
	totalExecSec float64
	queuedMS     int64
}

// detectWarehouseSizing groups records by (warehouse, size) and flags
// oversized warehouses and concurrency-driven queuing. Group keys are
// iterated in sorted order so repeated runs produce identical tables.
func (e *Engine) detectWarehouseSizing(snap *model.Snapshot) []model.Issue {
	groups := make(map[string]*warehouseGroup)
	for i := range snap.Records {
		r := &snap.Records[i]
		key := r.WarehouseName + "\x00" + r.WarehouseSize
		g, ok := groups[key]
		if !ok {
			g = &warehouseGroup{warehouse: r.WarehouseName, size: r.WarehouseSize}
			groups[key] = g
		}
		g.count++
		g.totalExecSec += r.ExecutionSeconds()
		g.queuedMS += r.QueuedOverloadMS
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rules := e.cfg.Rules.Sizing
	var issues []model.Issue
	for _, k := range keys {
		g := groups[k]
		meanExec := g.totalExecSec / float64(g.count)

		if meanExec < rules.OversizedMeanSec && model.IsAtLeastLarge(g.size) {
			issues = append(issues, model.Issue{
				WarehouseName: g.warehouse,
				WarehouseSize: g.size,
				Severity:      model.SeverityMedium,
				Problem:       "Oversized Warehouse",
				Reason:        fmt.Sprintf("mean execution time %.1fs across %d queries on a %s warehouse", meanExec, g.count, g.size),
				Recommendation: fmt.Sprintf("Queries on %q finish in %.1fs on average; a %s warehouse buys no latency at this scale. Downsize to SMALL or MEDIUM.",
					g.warehouse, meanExec, g.size),
				ExecutionSec: meanExec,
				Count:        g.count,
			})
		}

		if g.queuedMS > rules.QueuingTotalMS {
			issues = append(issues, model.Issue{
				WarehouseName: g.warehouse,
				WarehouseSize: g.size,
				Severity:      model.SeverityHigh,
				Problem:       "Warehouse Queuing",
				Reason:        fmt.Sprintf("%.1fs total queued-overload time across %d queries", float64(g.queuedMS)/1000, g.count),
				Recommendation: fmt.Sprintf("Warehouse %q queues under concurrent load; a bigger size alone will not help. Enable multi-cluster scaling or split workloads across warehouses.",
					g.warehouse),
				Count: g.count,
			})
		}
	}
	return issues
}

// fingerprintGroups partitions snapshot record indexes by fingerprint
// hash, skipping records with no hash, and returns the hashes sorted.
func fingerprintGroups(snap *model.Snapshot) (map[string][]int, []string) {
	groups := make(map[string][]int)
	for i := range snap.Records {
		hash := snap.Records[i].FingerprintHash
		if hash == "" {
			continue
		}
		groups[hash] = append(groups[hash], i)
	}
	hashes := make([]string, 0, len(groups))
	for h := range groups {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return groups, hashes
}

// detectRepeatedExpensive flags query fingerprints that are cheap per
// execution but expensive in aggregate: candidates for materialization
// or result caching rather than per-query rewrites.
func (e *Engine) detectRepeatedExpensive(snap *model.Snapshot) []model.Issue {
	if !snap.HasFingerprints {
		return nil
	}
	groups, hashes := fingerprintGroups(snap)
	rules := e.cfg.Rules.Repeated

	var issues []model.Issue
	for _, hash := range hashes {
		indexes := groups[hash]
		if len(indexes) < rules.MinExecutions {
			continue
		}
		var totalSec float64
		for _, i := range indexes {
			totalSec += snap.Records[i].ExecutionSeconds()
		}
		if totalSec <= rules.MinTotalSec {
			continue
		}
		severity := model.SeverityMedium
		if totalSec > rules.HighTotalSec {
			severity = model.SeverityHigh
		}
		sample := &snap.Records[indexes[0]]
		issues = append(issues, model.Issue{
			QueryID:         sample.QueryID,
			FingerprintHash: hash,
			UserName:        sample.UserName,
			WarehouseName:   sample.WarehouseName,
			DatabaseName:    sample.DatabaseName,
			Severity:        severity,
			Problem:         "Repeated Expensive Query",
			Reason:          fmt.Sprintf("%d executions totaling %.0fs", len(indexes), totalSec),
			Recommendation:  "The same query shape runs repeatedly. Materialize the result, enable result caching, or schedule it once and share the output.",
			ExecutionSec:    totalSec,
			Count:           len(indexes),
		})
	}
	return issues
}
