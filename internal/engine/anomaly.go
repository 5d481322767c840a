package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// redundantMinGroupSize is the smallest fingerprint group the redundant
// and spike analyses consider; below this, gaps and z-scores are noise.
const redundantMinGroupSize = 3

// detectRedundantExecutions finds fingerprints re-executed within short
// start-time gaps. Gap clustering, rather than exact-duplicate matching,
// keeps the check robust to interleaving with unrelated queries.
func (e *Engine) detectRedundantExecutions(snap *model.Snapshot) []model.Issue {
	if !snap.HasFingerprints {
		return nil
	}
	groups, hashes := fingerprintGroups(snap)
	rules := e.cfg.Rules.Redundant

	var issues []model.Issue
	for _, hash := range hashes {
		indexes := groups[hash]
		if len(indexes) < redundantMinGroupSize {
			continue
		}

		starts := make([]int64, len(indexes))
		for i, idx := range indexes {
			starts[i] = snap.Records[idx].StartTime.Unix()
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

		shortGaps := 0
		for i := 1; i < len(starts); i++ {
			if float64(starts[i]-starts[i-1]) < rules.ShortGapSec {
				shortGaps++
			}
		}
		if shortGaps < rules.MinShortGaps {
			continue
		}

		severity := model.SeverityMedium
		if shortGaps >= rules.HighShortGaps {
			severity = model.SeverityHigh
		}
		sample := &snap.Records[indexes[0]]
		issues = append(issues, model.Issue{
			QueryID:         sample.QueryID,
			FingerprintHash: hash,
			UserName:        sample.UserName,
			WarehouseName:   sample.WarehouseName,
			Severity:        severity,
			Problem:         "Redundant Executions",
			Reason:          fmt.Sprintf("%d executions with %d gaps under %.0f minutes", len(indexes), shortGaps, rules.ShortGapSec/60),
			Recommendation:  "The same query re-runs within minutes. Consolidate overlapping schedules or rely on result caching instead of re-executing.",
			Count:           shortGaps,
		})
	}
	return issues
}

// detectOffHours emits an advisory finding for executions started in
// the configured off-hours window. This is informational, not a waste
// signal by itself.
func (e *Engine) detectOffHours(snap *model.Snapshot) []model.Issue {
	rules := e.cfg.Rules.OffHours
	var issues []model.Issue
	for i := range snap.Records {
		r := &snap.Records[i]
		hour := r.StartTime.Hour()
		if hour < rules.StartHour || hour >= rules.EndHour {
			continue
		}
		issues = append(issues, model.Issue{
			QueryID:       r.QueryID,
			UserName:      r.UserName,
			WarehouseName: r.WarehouseName,
			Severity:      model.SeverityLow,
			Problem:       "Off-Hours Execution",
			Reason:        fmt.Sprintf("started at %02d:%02d", hour, r.StartTime.Minute()),
			Recommendation: "Confirm this execution is an intentional batch job. Ad hoc or forgotten schedules running overnight keep warehouses resumed and burning credits.",
			ExecutionSec:  r.ExecutionSeconds(),
		})
	}
	return issues
}

// detectRuntimeSpikes flags statistical outliers in per-fingerprint
// execution-time distributions. A record must both exceed three
// standard deviations above the group median and run three times longer
// than the median; requiring both keeps near-constant fast groups from
// producing false positives.
func (e *Engine) detectRuntimeSpikes(snap *model.Snapshot) []model.Issue {
	rules := e.cfg.Rules.Spike
	if len(snap.Records) < rules.MinSnapshotSize || !snap.HasFingerprints {
		return nil
	}
	groups, hashes := fingerprintGroups(snap)

	var issues []model.Issue
	for _, hash := range hashes {
		indexes := groups[hash]
		if len(indexes) < rules.MinGroupSize {
			continue
		}

		times := make([]float64, len(indexes))
		for i, idx := range indexes {
			times[i] = snap.Records[idx].ExecutionSeconds()
		}
		med := median(times)
		sd := stddev(times)
		if sd == 0 {
			// All executions identical; z-scores are meaningless.
			continue
		}

		for _, idx := range indexes {
			r := &snap.Records[idx]
			exec := r.ExecutionSeconds()
			z := (exec - med) / sd
			if z <= rules.ZThreshold || exec <= rules.MedianMultiple*med {
				continue
			}
			issues = append(issues, model.Issue{
				QueryID:         r.QueryID,
				FingerprintHash: hash,
				UserName:        r.UserName,
				WarehouseName:   r.WarehouseName,
				Severity:        model.SeverityHigh,
				Problem:         "Runtime Spike",
				Reason:          fmt.Sprintf("%.1fs against a %.1fs group median (z=%.1f)", exec, med, z),
				Recommendation:  "This execution ran far outside its fingerprint's normal range. Check for stale statistics, data-volume jumps, warehouse contention or parameter values that defeat pruning.",
				ExecutionSec:    exec,
				Count:           len(indexes),
			})
		}
	}
	return issues
}

// median returns the median of values. The input slice is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// stddev returns the population standard deviation of values.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
