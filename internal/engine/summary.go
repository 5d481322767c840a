package engine

import (
	"sort"
	"time"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

const tib = int64(1) << 40

// computeStats builds the report's overview header from the snapshot
// and the metering records.
func computeStats(snap *model.Snapshot, metering []model.MeteringRecord) model.SnapshotStats {
	stats := model.SnapshotStats{QueryCount: len(snap.Records)}

	var totalExecSec float64
	var totalBytes int64
	for i := range snap.Records {
		totalExecSec += snap.Records[i].ExecutionSeconds()
		totalBytes += snap.Records[i].BytesScanned
	}
	if stats.QueryCount > 0 {
		stats.MeanExecutionSec = totalExecSec / float64(stats.QueryCount)
	}
	stats.TotalTBScanned = float64(totalBytes) / float64(tib)

	for i := range metering {
		stats.TotalCredits += metering[i].CreditsUsed
	}
	return stats
}

// topExpensiveQueries returns the n longest-running executions.
func topExpensiveQueries(snap *model.Snapshot, n int) []model.ExpensiveQuery {
	if snap.Empty() || n < 1 {
		return nil
	}
	indexes := make([]int, len(snap.Records))
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		return snap.Records[indexes[a]].ExecutionMS > snap.Records[indexes[b]].ExecutionMS
	})
	if n > len(indexes) {
		n = len(indexes)
	}

	top := make([]model.ExpensiveQuery, 0, n)
	for _, idx := range indexes[:n] {
		r := &snap.Records[idx]
		top = append(top, model.ExpensiveQuery{
			QueryID:        r.QueryID,
			UserName:       r.UserName,
			WarehouseName:  r.WarehouseName,
			WarehouseSize:  r.WarehouseSize,
			ExecutionSec:   r.ExecutionSeconds(),
			BytesScannedGB: float64(r.BytesScanned) / float64(gib),
			RowsProduced:   r.RowsProduced,
		})
	}
	return top
}

// queryTypeDistribution counts executions per statement type, sorted by
// count descending with name tiebreak. Records whose type was NULL in
// the source are skipped.
func queryTypeDistribution(snap *model.Snapshot) []model.QueryTypeCount {
	byType := make(map[string]int)
	for i := range snap.Records {
		if t := snap.Records[i].QueryType; t != "" {
			byType[t]++
		}
	}
	if len(byType) == 0 {
		return nil
	}

	counts := make([]model.QueryTypeCount, 0, len(byType))
	for t, n := range byType {
		counts = append(counts, model.QueryTypeCount{QueryType: t, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].QueryType < counts[j].QueryType
	})
	return counts
}

// topUsersByQueryCount aggregates executions per user and returns the n
// busiest, sorted by query count descending with name tiebreak.
func topUsersByQueryCount(snap *model.Snapshot, n int) []model.UserQueryCount {
	if snap.Empty() || n < 1 {
		return nil
	}
	byUser := make(map[string]*model.UserQueryCount)
	for i := range snap.Records {
		r := &snap.Records[i]
		if r.UserName == "" {
			continue
		}
		u, ok := byUser[r.UserName]
		if !ok {
			u = &model.UserQueryCount{UserName: r.UserName}
			byUser[r.UserName] = u
		}
		u.Count++
		u.TotalExecSec += r.ExecutionSeconds()
	}
	if len(byUser) == 0 {
		return nil
	}

	users := make([]model.UserQueryCount, 0, len(byUser))
	for _, u := range byUser {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Count != users[j].Count {
			return users[i].Count > users[j].Count
		}
		return users[i].UserName < users[j].UserName
	})
	if n > len(users) {
		n = len(users)
	}
	return users[:n]
}

// warehouseCreditSummary aggregates metering credits per warehouse,
// sorted by total credits descending.
func warehouseCreditSummary(metering []model.MeteringRecord) []model.WarehouseCreditSummary {
	if len(metering) == 0 {
		return nil
	}
	byWarehouse := make(map[string]*model.WarehouseCreditSummary)
	for i := range metering {
		m := &metering[i]
		s, ok := byWarehouse[m.WarehouseName]
		if !ok {
			s = &model.WarehouseCreditSummary{WarehouseName: m.WarehouseName}
			byWarehouse[m.WarehouseName] = s
		}
		s.CreditsUsed += m.CreditsUsed
		s.CreditsCompute += m.CreditsCompute
		s.CreditsCloudServices += m.CreditsCloudServices
	}

	summaries := make([]model.WarehouseCreditSummary, 0, len(byWarehouse))
	for _, s := range byWarehouse {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreditsUsed != summaries[j].CreditsUsed {
			return summaries[i].CreditsUsed > summaries[j].CreditsUsed
		}
		return summaries[i].WarehouseName < summaries[j].WarehouseName
	})
	return summaries
}

// trendSeries buckets query volume, mean execution time and metering
// credits by start hour, sorted chronologically.
func trendSeries(snap *model.Snapshot, metering []model.MeteringRecord) []model.TrendPoint {
	type bucket struct {
		count        int
		totalExecSec float64
		credits      float64
	}
	buckets := make(map[time.Time]*bucket)

	get := func(t time.Time) *bucket {
		hour := t.Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &bucket{}
			buckets[hour] = b
		}
		return b
	}

	for i := range snap.Records {
		r := &snap.Records[i]
		b := get(r.StartTime)
		b.count++
		b.totalExecSec += r.ExecutionSeconds()
	}
	for i := range metering {
		get(metering[i].StartTime).credits += metering[i].CreditsUsed
	}

	if len(buckets) == 0 {
		return nil
	}
	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	points := make([]model.TrendPoint, 0, len(hours))
	for _, h := range hours {
		b := buckets[h]
		p := model.TrendPoint{Hour: h, QueryCount: b.count, CreditsUsed: b.credits}
		if b.count > 0 {
			p.MeanExecutionSec = b.totalExecSec / float64(b.count)
		}
		points = append(points, p)
	}
	return points
}
