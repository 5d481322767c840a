// Package reader provides access to the Snowflake ACCOUNT_USAGE views
// that feed the analysis engine.
package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/snowflake-tools/credit-sentinel/internal/config"
	"github.com/snowflake-tools/credit-sentinel/internal/model"
)

// MaxQueryRows limits the number of rows returned by the history query.
const MaxQueryRows = 10000

// ACCOUNT_USAGE queries run against shared compute and are themselves
// billed; the limiter keeps interactive refreshes from hammering them.
const queriesPerSecond = 2

// fingerprintColumn is optional: older ACCOUNT_USAGE contracts predate
// it. Its absence disables fingerprint-grouped detectors only.
const fingerprintColumn = "QUERY_PARAMETERIZED_HASH"

// Reader handles the connection to Snowflake and the two source queries.
type Reader struct {
	db       *sql.DB
	cfg      *config.SnowflakeConfig
	analysis *config.AnalysisConfig
	limiter  *rate.Limiter
	cacheTTL time.Duration

	// fingerprint column probe runs once
	fingerprintOnce sync.Once
	hasFingerprints bool

	// fetch cache
	mu             sync.Mutex
	cachedSnap     *model.Snapshot
	cachedMetering []model.MeteringRecord
	cachedAt       time.Time
}

// New creates a new Reader with the given connection and analysis
// configuration.
func New(cfg *config.SnowflakeConfig, analysis *config.AnalysisConfig) (*Reader, error) {
	dsn, err := sf.DSN(&sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Role:      cfg.Role,
		Warehouse: cfg.Warehouse,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
	})
	if err != nil {
		return nil, fmt.Errorf("building Snowflake DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening Snowflake connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ttl, err := analysis.CacheTTLParsed()
	if err != nil {
		ttl = 5 * time.Minute
	}

	return &Reader{
		db:       db,
		cfg:      cfg,
		analysis: analysis,
		limiter:  rate.NewLimiter(rate.Limit(queriesPerSecond), queriesPerSecond*2),
		cacheTTL: ttl,
	}, nil
}

// Ping tests the database connection.
func (r *Reader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// HasFingerprints reports whether the fingerprint hash column is
// available. Valid after the first load.
func (r *Reader) HasFingerprints() bool {
	return r.hasFingerprints
}

// LoadAll returns the execution snapshot and metering records for the
// configured window. Results are cached for the configured TTL; within
// the TTL repeated calls return the same snapshot pointer, which also
// lets the engine memoize its analysis. The two source queries are
// independent and run concurrently.
func (r *Reader) LoadAll(ctx context.Context) (*model.Snapshot, []model.MeteringRecord, error) {
	r.mu.Lock()
	if r.cachedSnap != nil && time.Since(r.cachedAt) < r.cacheTTL {
		snap, metering := r.cachedSnap, r.cachedMetering
		r.mu.Unlock()
		return snap, metering, nil
	}
	r.mu.Unlock()

	var (
		snap     *model.Snapshot
		metering []model.MeteringRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = r.LoadSnapshot(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		metering, err = r.LoadMetering(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	r.cachedSnap = snap
	r.cachedMetering = metering
	r.cachedAt = time.Now()
	r.mu.Unlock()

	return snap, metering, nil
}

// Invalidate drops the fetch cache so the next LoadAll hits the source.
func (r *Reader) Invalidate() {
	r.mu.Lock()
	r.cachedSnap = nil
	r.cachedMetering = nil
	r.mu.Unlock()
}

// checkFingerprintColumn probes for the optional fingerprint column.
// Runs only once; on any probe failure the column is treated as absent
// so the main query never references it.
func (r *Reader) checkFingerprintColumn(ctx context.Context) {
	r.fingerprintOnce.Do(func() {
		probe := fmt.Sprintf("SELECT %s FROM SNOWFLAKE.ACCOUNT_USAGE.QUERY_HISTORY LIMIT 1", fingerprintColumn)
		rows, err := r.db.QueryContext(ctx, probe)
		if err != nil {
			log.Printf("Warning: %s not available, fingerprint-based detectors disabled: %v", fingerprintColumn, err)
			r.hasFingerprints = false
			return
		}
		rows.Close()
		r.hasFingerprints = true
	})
}

// LoadSnapshot fetches the execution history for the configured window.
func (r *Reader) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	r.checkFingerprintColumn(ctx)
	return r.loadSnapshot(ctx)
}

func (r *Reader) loadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	query := r.historyQuery()
	now := time.Now()

	rows, err := r.db.QueryContext(ctx, query, -r.analysis.WindowHours, r.analysis.MinElapsedMS)
	if err != nil {
		return nil, fmt.Errorf("querying QUERY_HISTORY: %w", err)
	}
	defer rows.Close()

	snap := &model.Snapshot{
		HasFingerprints: r.hasFingerprints,
		Window: model.TimeWindow{
			Start: now.Add(-time.Duration(r.analysis.WindowHours) * time.Hour),
			End:   now,
		},
		LoadedAt: now,
	}

	var scanErrors int
	for rows.Next() {
		rec, err := scanExecutionRecord(rows, r.hasFingerprints)
		if err != nil {
			scanErrors++
			if scanErrors <= 3 {
				log.Printf("Warning: failed to scan query history row: %v", err)
			}
			continue // Skip malformed rows
		}
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading QUERY_HISTORY rows: %w", err)
	}
	if scanErrors > 3 {
		log.Printf("Warning: %d total rows failed to scan in LoadSnapshot", scanErrors)
	}

	return snap, nil
}

// historyQuery builds the QUERY_HISTORY select. The pre-filters
// (success only, minimum elapsed, excluded statement types) are a
// load-time optimization, not a detector responsibility.
func (r *Reader) historyQuery() string {
	columns := []string{
		"QUERY_ID", "QUERY_TEXT", "QUERY_TYPE",
		"USER_NAME", "ROLE_NAME",
		"WAREHOUSE_NAME", "WAREHOUSE_SIZE",
		"DATABASE_NAME", "SCHEMA_NAME",
		"START_TIME", "END_TIME",
		"TOTAL_ELAPSED_TIME", "EXECUTION_TIME", "COMPILATION_TIME",
		"QUEUED_PROVISIONING_TIME", "QUEUED_OVERLOAD_TIME",
		"BYTES_SCANNED", "BYTES_WRITTEN",
		"BYTES_SPILLED_TO_LOCAL_STORAGE", "BYTES_SPILLED_TO_REMOTE_STORAGE",
		"PARTITIONS_SCANNED", "PARTITIONS_TOTAL",
		"PERCENTAGE_SCANNED_FROM_CACHE",
		"ROWS_PRODUCED", "ROWS_INSERTED", "ROWS_UPDATED", "ROWS_DELETED",
		"EXECUTION_STATUS", "ERROR_CODE", "ERROR_MESSAGE",
		"CREDITS_USED_CLOUD_SERVICES",
	}
	if r.hasFingerprints {
		columns = append(columns, fingerprintColumn)
	}

	excluded := make([]string, 0, len(r.analysis.ExcludedQueryTypes))
	for _, t := range r.analysis.ExcludedQueryTypes {
		excluded = append(excluded, "'"+strings.ToUpper(t)+"'")
	}

	return fmt.Sprintf(`
		SELECT %s
		FROM SNOWFLAKE.ACCOUNT_USAGE.QUERY_HISTORY
		WHERE START_TIME >= DATEADD('hour', ?, CURRENT_TIMESTAMP())
			AND EXECUTION_STATUS = 'SUCCESS'
			AND TOTAL_ELAPSED_TIME >= ?
			AND QUERY_TYPE NOT IN (%s)
		ORDER BY START_TIME DESC
		LIMIT %d
	`, strings.Join(columns, ", "), strings.Join(excluded, ", "), MaxQueryRows)
}

// scanExecutionRecord maps one history row. NULL numeric telemetry
// becomes zero; the detectors rely on that.
func scanExecutionRecord(rows *sql.Rows, withFingerprint bool) (model.ExecutionRecord, error) {
	var (
		queryID, queryText, queryType             sql.NullString
		userName, roleName                        sql.NullString
		warehouseName, warehouseSize              sql.NullString
		databaseName, schemaName                  sql.NullString
		startTime, endTime                        sql.NullTime
		totalElapsed, execution, compilation      sql.NullInt64
		queuedProvisioning, queuedOverload        sql.NullInt64
		bytesScanned, bytesWritten                sql.NullInt64
		spilledLocal, spilledRemote               sql.NullInt64
		partitionsScanned, partitionsTotal        sql.NullInt64
		cachePercent                              sql.NullFloat64
		rowsProduced, rowsInserted                sql.NullInt64
		rowsUpdated, rowsDeleted                  sql.NullInt64
		executionStatus, errorCode, errorMessage  sql.NullString
		cloudServicesCredits                      sql.NullFloat64
		fingerprint                               sql.NullString
	)

	dest := []any{
		&queryID, &queryText, &queryType,
		&userName, &roleName,
		&warehouseName, &warehouseSize,
		&databaseName, &schemaName,
		&startTime, &endTime,
		&totalElapsed, &execution, &compilation,
		&queuedProvisioning, &queuedOverload,
		&bytesScanned, &bytesWritten,
		&spilledLocal, &spilledRemote,
		&partitionsScanned, &partitionsTotal,
		&cachePercent,
		&rowsProduced, &rowsInserted, &rowsUpdated, &rowsDeleted,
		&executionStatus, &errorCode, &errorMessage,
		&cloudServicesCredits,
	}
	if withFingerprint {
		dest = append(dest, &fingerprint)
	}

	if err := rows.Scan(dest...); err != nil {
		return model.ExecutionRecord{}, err
	}

	return model.ExecutionRecord{
		QueryID:              queryID.String,
		FingerprintHash:      fingerprint.String,
		QueryText:            queryText.String,
		QueryType:            queryType.String,
		UserName:             userName.String,
		RoleName:             roleName.String,
		WarehouseName:        warehouseName.String,
		WarehouseSize:        warehouseSize.String,
		DatabaseName:         databaseName.String,
		SchemaName:           schemaName.String,
		StartTime:            startTime.Time,
		EndTime:              endTime.Time,
		TotalElapsedMS:       totalElapsed.Int64,
		ExecutionMS:          execution.Int64,
		CompilationMS:        compilation.Int64,
		QueuedProvisioningMS: queuedProvisioning.Int64,
		QueuedOverloadMS:     queuedOverload.Int64,
		BytesScanned:         bytesScanned.Int64,
		BytesWritten:         bytesWritten.Int64,
		BytesSpilledLocal:    spilledLocal.Int64,
		BytesSpilledRemote:   spilledRemote.Int64,
		PartitionsScanned:    partitionsScanned.Int64,
		PartitionsTotal:      partitionsTotal.Int64,
		CachePercent:         cachePercent.Float64,
		RowsProduced:         rowsProduced.Int64,
		RowsInserted:         rowsInserted.Int64,
		RowsUpdated:          rowsUpdated.Int64,
		RowsDeleted:          rowsDeleted.Int64,
		ExecutionStatus:      executionStatus.String,
		ErrorCode:            errorCode.String,
		ErrorMessage:         errorMessage.String,
		CloudServicesCredits: cloudServicesCredits.Float64,
	}, nil
}

const meteringQuery = `
	SELECT
		WAREHOUSE_NAME,
		START_TIME,
		END_TIME,
		CREDITS_USED,
		CREDITS_USED_COMPUTE,
		CREDITS_USED_CLOUD_SERVICES
	FROM SNOWFLAKE.ACCOUNT_USAGE.WAREHOUSE_METERING_HISTORY
	WHERE START_TIME >= DATEADD('hour', ?, CURRENT_TIMESTAMP())
	ORDER BY START_TIME DESC
`

// LoadMetering fetches warehouse metering records for the configured
// window. Metering failures are non-fatal for analysis: the caller may
// proceed with an empty metering set.
func (r *Reader) LoadMetering(ctx context.Context) ([]model.MeteringRecord, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.loadMetering(ctx)
}

func (r *Reader) loadMetering(ctx context.Context) ([]model.MeteringRecord, error) {
	rows, err := r.db.QueryContext(ctx, meteringQuery, -r.analysis.WindowHours)
	if err != nil {
		if IsPermissionError(err) || IsMissingObjectError(err) {
			log.Printf("Warning: cannot read WAREHOUSE_METERING_HISTORY, credit summary disabled: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("querying WAREHOUSE_METERING_HISTORY: %w", err)
	}
	defer rows.Close()

	var metering []model.MeteringRecord
	for rows.Next() {
		var (
			warehouse              sql.NullString
			start, end             sql.NullTime
			used, compute, cloudSv sql.NullFloat64
		)
		if err := rows.Scan(&warehouse, &start, &end, &used, &compute, &cloudSv); err != nil {
			log.Printf("Warning: failed to scan metering row: %v", err)
			continue
		}
		metering = append(metering, model.MeteringRecord{
			WarehouseName:        warehouse.String,
			StartTime:            start.Time,
			EndTime:              end.Time,
			CreditsUsed:          used.Float64,
			CreditsCompute:       compute.Float64,
			CreditsCloudServices: cloudSv.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading metering rows: %w", err)
	}

	return metering, nil
}

// IsPermissionError checks if the error is due to missing privileges on
// the ACCOUNT_USAGE share.
func IsPermissionError(err error) bool {
	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		// 42501 = insufficient_privilege
		return sfErr.SQLState == "42501"
	}
	return false
}

// IsMissingObjectError checks if the error is due to a missing view.
func IsMissingObjectError(err error) bool {
	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		// 42S02 = base table or view not found
		return sfErr.SQLState == "42S02" || sfErr.SQLState == "02000"
	}
	return false
}
