package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// The text rules are deliberately lexical. They match keywords on the
// upper-cased query text and accept false positives inside string
// literals or comments as a known limitation; a real SQL grammar would
// change detection behavior.

const (
	gib = int64(1) << 30

	rowExplosionMinRows     = int64(10_000_000)
	rowExplosionMinExecSec  = 60.0
	rowExplosionRowsPerByte = 100.0

	funcFilterHighPartitions = int64(100)

	unboundedScanMinPartitions = int64(200)
	unboundedScanMinBytes      = 50 * gib
	unboundedScanMinExecSec    = 120.0
)

var (
	selectStarRe    = regexp.MustCompile(`SELECT\s+\*\s+FROM`)
	selectDotStarRe = regexp.MustCompile(`SELECT\s+[A-Z_][A-Z0-9_$]*\.\*`)

	joinRe    = regexp.MustCompile(`\bJOIN\b`)
	onUsingRe = regexp.MustCompile(`\b(?:ON|USING)\b`)

	// FROM followed by a table reference (optionally qualified and
	// aliased) and a comma starts an implicit comma join.
	commaFromRe = regexp.MustCompile(`\bFROM\s+[A-Z_"][A-Z0-9_$".]*(?:\s+(?:AS\s+)?[A-Z_][A-Z0-9_$]*)?\s*,`)

	whereRe = regexp.MustCompile(`\bWHERE\b`)
	limitRe = regexp.MustCompile(`\bLIMIT\b`)
	orRe    = regexp.MustCompile(`\bOR\b`)
	onRe    = regexp.MustCompile(`\bON\b`)

	// Boundaries that end an ON clause or a WHERE clause for clause
	// slicing purposes.
	clauseBoundaryRe = regexp.MustCompile(`\b(?:WHERE|GROUP\s+BY|ORDER\s+BY|LIMIT|HAVING|QUALIFY|JOIN|UNION)\b`)
	whereBoundaryRe  = regexp.MustCompile(`\b(?:GROUP\s+BY|ORDER\s+BY|LIMIT)\b`)

	unionRe    = regexp.MustCompile(`\bUNION\b`)
	unionAllRe = regexp.MustCompile(`^\s+ALL\b`)

	// Functions whose application to a filtered column defeats
	// partition pruning.
	funcFilterRe = regexp.MustCompile(`\b(?:YEAR|MONTH|DATE|TO_DATE|DATE_TRUNC|UPPER|LOWER|TRIM|SUBSTR)\s*\(\s*[A-Z_][A-Z0-9_$.]*`)
)

// normalizeQuery upper-cases the query text once per record; every text
// rule matches against the normalized form.
func normalizeQuery(text string) string {
	return strings.ToUpper(text)
}

// wildcardProjection flags SELECT * and SELECT alias.* projections.
func wildcardProjection(r *model.ExecutionRecord, norm string) (model.Issue, bool) {
	if !selectStarRe.MatchString(norm) && !selectDotStarRe.MatchString(norm) {
		return model.Issue{}, false
	}
	severity := model.SeverityMedium
	if r.BytesScanned > gib {
		severity = model.SeverityHigh
	}
	return model.Issue{
		Severity:       severity,
		Problem:        "Wildcard Projection",
		Reason:         fmt.Sprintf("SELECT * scans all columns (%.2f GB scanned)", float64(r.BytesScanned)/float64(gib)),
		Recommendation: "List only the columns the query needs. Columnar storage reads just the referenced columns, so narrowing the projection cuts bytes scanned directly.",
	}, true
}

// missingJoinPredicate flags JOINs with no ON/USING and implicit comma
// joins with no WHERE clause.
func missingJoinPredicate(_ *model.ExecutionRecord, norm string) (model.Issue, bool) {
	var reasons []string

	if loc := joinRe.FindStringIndex(norm); loc != nil {
		if !onUsingRe.MatchString(norm[loc[1]:]) {
			reasons = append(reasons, "JOIN with no ON/USING clause")
		}
	}
	if commaFromRe.MatchString(norm) && !whereRe.MatchString(norm) {
		reasons = append(reasons, "comma-separated FROM list with no WHERE clause")
	}
	if len(reasons) == 0 {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityCritical,
		Problem:        "Missing Join Predicate",
		Reason:         strings.Join(reasons, " | "),
		Recommendation: "Add explicit join conditions with ON or USING. An unconstrained join produces the cartesian product of its inputs.",
	}, true
}

// explicitCrossJoin flags literal CROSS JOINs.
func explicitCrossJoin(_ *model.ExecutionRecord, norm string) (model.Issue, bool) {
	if !strings.Contains(norm, "CROSS JOIN") {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityCritical,
		Problem:        "Explicit Cross Join",
		Reason:         "CROSS JOIN detected",
		Recommendation: "Replace CROSS JOIN with an inner join on a real key unless the cartesian product is intended. For time-series alignment consider ASOF or range joins.",
	}, true
}

// disjunctiveJoinPredicate flags OR inside an ON clause.
func disjunctiveJoinPredicate(_ *model.ExecutionRecord, norm string) (model.Issue, bool) {
	joinLoc := joinRe.FindStringIndex(norm)
	if joinLoc == nil {
		return model.Issue{}, false
	}
	rest := norm[joinLoc[1]:]
	onLoc := onRe.FindStringIndex(rest)
	if onLoc == nil {
		return model.Issue{}, false
	}
	clause := rest[onLoc[1]:]
	if boundary := clauseBoundaryRe.FindStringIndex(clause); boundary != nil {
		clause = clause[:boundary[0]]
	}
	if !orRe.MatchString(clause) {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityHigh,
		Problem:        "Disjunctive Join Predicate",
		Reason:         "OR inside a join ON clause",
		Recommendation: "Split the OR into UNION ALL branches with simple equality joins. Disjunctive join conditions prevent hash joins and degrade to nested loops.",
	}, true
}

// joinRowExplosion is a statistical proxy for fan-out joins with no
// textual marker: far more rows out than bytes in.
func joinRowExplosion(r *model.ExecutionRecord, _ string) (model.Issue, bool) {
	if r.RowsProduced <= rowExplosionMinRows || r.BytesScanned <= 0 {
		return model.Issue{}, false
	}
	if r.ExecutionSeconds() <= rowExplosionMinExecSec {
		return model.Issue{}, false
	}
	bytes := r.BytesScanned
	if bytes < 1 {
		bytes = 1
	}
	ratio := float64(r.RowsProduced) / float64(bytes)
	if ratio <= rowExplosionRowsPerByte {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityHigh,
		Problem:        "Join Row Explosion",
		Reason:         fmt.Sprintf("%d rows produced from %d bytes scanned (ratio %.0f)", r.RowsProduced, r.BytesScanned, ratio),
		Recommendation: "Check join keys for unintended many-to-many matches. Deduplicate join inputs or aggregate before joining.",
	}, true
}

// unionWithoutAll flags UNION tokens not immediately followed by ALL.
func unionWithoutAll(_ *model.ExecutionRecord, norm string) (model.Issue, bool) {
	for _, loc := range unionRe.FindAllStringIndex(norm, -1) {
		if !unionAllRe.MatchString(norm[loc[1]:]) {
			return model.Issue{
				Severity:       model.SeverityLow,
				Problem:        "UNION Without ALL",
				Reason:         "UNION deduplicates; UNION ALL skips the sort",
				Recommendation: "Use UNION ALL when duplicate rows are impossible or acceptable. Plain UNION adds a full deduplication pass over the combined result.",
			}, true
		}
	}
	return model.Issue{}, false
}

// functionWrappedFilter flags filter predicates whose column is wrapped
// in a function, which defeats partition pruning on that column.
func functionWrappedFilter(r *model.ExecutionRecord, norm string) (model.Issue, bool) {
	whereLoc := whereRe.FindStringIndex(norm)
	if whereLoc == nil {
		return model.Issue{}, false
	}
	clause := norm[whereLoc[1]:]
	if boundary := whereBoundaryRe.FindStringIndex(clause); boundary != nil {
		clause = clause[:boundary[0]]
	}
	if !funcFilterRe.MatchString(clause) {
		return model.Issue{}, false
	}
	severity := model.SeverityMedium
	if r.PartitionsTotal > funcFilterHighPartitions {
		severity = model.SeverityHigh
	}
	return model.Issue{
		Severity:       severity,
		Problem:        "Function-Wrapped Filter Column",
		Reason:         "WHERE clause applies a function to a filtered column",
		Recommendation: "Rewrite the predicate to compare the bare column against a transformed constant (e.g. ts >= '2024-01-01' instead of YEAR(ts) = 2024) so partition metadata can prune.",
	}, true
}

// unboundedFullScan flags queries with neither WHERE nor LIMIT that
// demonstrably scanned everything.
func unboundedFullScan(r *model.ExecutionRecord, norm string) (model.Issue, bool) {
	if whereRe.MatchString(norm) || limitRe.MatchString(norm) {
		return model.Issue{}, false
	}
	fullPartitionScan := r.PartitionsTotal > unboundedScanMinPartitions &&
		r.PartitionsScanned == r.PartitionsTotal
	heavySelectScan := r.BytesScanned > unboundedScanMinBytes &&
		r.ExecutionSeconds() > unboundedScanMinExecSec &&
		strings.HasPrefix(strings.TrimSpace(norm), "SELECT")
	if !fullPartitionScan && !heavySelectScan {
		return model.Issue{}, false
	}
	return model.Issue{
		Severity:       model.SeverityMedium,
		Problem:        "Unbounded Full Scan",
		Reason:         fmt.Sprintf("no WHERE or LIMIT; %d of %d partitions scanned", r.PartitionsScanned, r.PartitionsTotal),
		Recommendation: "Add WHERE filters on clustered columns or a LIMIT. Full scans of large tables consume credits proportional to the whole table size.",
	}, true
}

// recordRule is one per-record predicate over a record and its
// upper-cased query text.
type recordRule func(r *model.ExecutionRecord, norm string) (model.Issue, bool)

// runRecordRule applies a per-record rule across the snapshot and fills
// in the record identity fields on each firing.
func runRecordRule(snap *model.Snapshot, rule recordRule) []model.Issue {
	var issues []model.Issue
	for i := range snap.Records {
		r := &snap.Records[i]
		norm := normalizeQuery(r.QueryText)
		issue, ok := rule(r, norm)
		if !ok {
			continue
		}
		issue.QueryID = r.QueryID
		issue.FingerprintHash = r.FingerprintHash
		issue.UserName = r.UserName
		issue.WarehouseName = r.WarehouseName
		issue.WarehouseSize = r.WarehouseSize
		issue.DatabaseName = r.DatabaseName
		issue.ExecutionSec = r.ExecutionSeconds()
		issues = append(issues, issue)
	}
	return issues
}
