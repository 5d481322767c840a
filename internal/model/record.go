// Package model defines the core data structures used by credit-sentinel.
package model

import "time"

// ExecutionRecord is one historical query execution from
// SNOWFLAKE.ACCOUNT_USAGE.QUERY_HISTORY. Numeric telemetry that was NULL
// in the source view is loaded as zero; detectors treat zero as "nothing
// to flag" unless explicitly guarded.
type ExecutionRecord struct {
	// QueryID is the unique identifier of this execution.
	QueryID string `json:"query_id"`

	// FingerprintHash groups structurally identical queries that differ
	// only in literal parameter values (QUERY_PARAMETERIZED_HASH).
	// Empty when the column is absent from the source view.
	FingerprintHash string `json:"fingerprint_hash,omitempty"`

	// QueryText is the full SQL text of the statement.
	QueryText string `json:"query_text"`

	// QueryType is the statement type (SELECT, INSERT, CREATE_TABLE, ...).
	QueryType string `json:"query_type"`

	UserName      string `json:"user_name"`
	RoleName      string `json:"role_name"`
	WarehouseName string `json:"warehouse_name"`
	WarehouseSize string `json:"warehouse_size"`
	DatabaseName  string `json:"database_name"`
	SchemaName    string `json:"schema_name"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Durations are in milliseconds, as reported by the source view.
	TotalElapsedMS       int64 `json:"total_elapsed_ms"`
	ExecutionMS          int64 `json:"execution_ms"`
	CompilationMS        int64 `json:"compilation_ms"`
	QueuedProvisioningMS int64 `json:"queued_provisioning_ms"`
	QueuedOverloadMS     int64 `json:"queued_overload_ms"`

	BytesScanned       int64 `json:"bytes_scanned"`
	BytesWritten       int64 `json:"bytes_written"`
	BytesSpilledLocal  int64 `json:"bytes_spilled_local"`
	BytesSpilledRemote int64 `json:"bytes_spilled_remote"`

	PartitionsScanned int64 `json:"partitions_scanned"`
	PartitionsTotal   int64 `json:"partitions_total"`

	// CachePercent is the percentage of scanned bytes served from the
	// local disk cache (0-100).
	CachePercent float64 `json:"cache_percent"`

	RowsProduced int64 `json:"rows_produced"`
	RowsInserted int64 `json:"rows_inserted"`
	RowsUpdated  int64 `json:"rows_updated"`
	RowsDeleted  int64 `json:"rows_deleted"`

	ExecutionStatus string `json:"execution_status"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`

	// CloudServicesCredits is the fractional credit cost billed to the
	// cloud services layer for this execution.
	CloudServicesCredits float64 `json:"cloud_services_credits"`
}

// ExecutionSeconds returns the execution time in seconds.
func (r *ExecutionRecord) ExecutionSeconds() float64 {
	return float64(r.ExecutionMS) / 1000
}

// ElapsedSeconds returns the total elapsed time in seconds.
func (r *ExecutionRecord) ElapsedSeconds() float64 {
	return float64(r.TotalElapsedMS) / 1000
}

// MeteringRecord is one warehouse metering interval from
// SNOWFLAKE.ACCOUNT_USAGE.WAREHOUSE_METERING_HISTORY. It is consumed
// only for credit display, never by detectors.
type MeteringRecord struct {
	WarehouseName        string    `json:"warehouse_name"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	CreditsUsed          float64   `json:"credits_used"`
	CreditsCompute       float64   `json:"credits_compute"`
	CreditsCloudServices float64   `json:"credits_cloud_services"`
}

// TimeWindow represents a time range for analysis.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the duration of the time window.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Snapshot is the bounded, immutable set of execution records under
// analysis for one report-generation pass. Records are never mutated
// after loading; the engine only derives issue tables from them.
type Snapshot struct {
	// Records holds the execution records, newest first.
	Records []ExecutionRecord `json:"records"`

	// HasFingerprints reports whether the fingerprint hash column was
	// present in the source view. Detectors that group by fingerprint
	// emit nothing when it is false.
	HasFingerprints bool `json:"has_fingerprints"`

	// Window is the time window the snapshot covers.
	Window TimeWindow `json:"window"`

	// LoadedAt is when the snapshot was fetched.
	LoadedAt time.Time `json:"loaded_at"`
}

// Empty reports whether the snapshot holds no records.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Records) == 0
}
