package clickhouse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tcu-diag/internal/database"
	"tcu-diag/internal/models"
)

var _ database.TraceWriter = (*TraceWriter)(nil)

// TraceWriter archives trace entries to ClickHouse. Every row carries the
// run id of the process that recorded it.
type TraceWriter struct {
	conn    driver.Conn
	config  Config
	runID   uuid.UUID
	batcher *database.Batcher[models.TraceEntry]
	logger  zerolog.Logger
}

// Open connects to ClickHouse and verifies the connection
func Open(config Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", config.Host, config.Port)},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return conn, nil
}

// NewTraceWriter creates the trace table if needed and prepares a writer
func NewTraceWriter(conn driver.Conn, config Config, logger zerolog.Logger) (*TraceWriter, error) {
	if err := createTable(conn, config.Table); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	w := &TraceWriter{
		conn:   conn,
		config: config,
		runID:  uuid.New(),
		logger: logger.With().Str("component", "clickhouse").Str("table", config.Table).Logger(),
	}
	w.batcher = database.NewBatcher[models.TraceEntry](config.BatchSize, config.FlushInterval, w.flush, w.logger)
	return w, nil
}

func createTable(conn driver.Conn, tableName string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id UUID,
			seq UInt64,
			timestamp DateTime64(6),
			direction LowCardinality(String),
			data Array(UInt8),
			annotation String
		) ENGINE = MergeTree()
		ORDER BY (timestamp, run_id, seq)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, tableName)

	return conn.Exec(context.Background(), query)
}

// RunID identifies the rows written by this process
func (w *TraceWriter) RunID() uuid.UUID {
	return w.runID
}

// Start begins processing and writing entries
func (w *TraceWriter) Start() {
	w.logger.Info().Str("run_id", w.runID.String()).Msg("trace archive started")
	w.batcher.Start()
}

// WriteEntry queues an entry for writing
func (w *TraceWriter) WriteEntry(entry models.TraceEntry) {
	w.batcher.Add(entry)
}

func (w *TraceWriter) flush(ctx context.Context, entries []models.TraceEntry) error {
	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.config.Table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range entries {
		err = batch.Append(
			w.runID,
			e.Seq,
			e.Timestamp,
			e.Direction.String(),
			e.Data,
			e.Annotation,
		)
		if err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close flushes queued entries and closes the connection
func (w *TraceWriter) Close() error {
	w.batcher.Close()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// buildTraceQuery renders the filtered select with positional arguments
func buildTraceQuery(table string, q models.TraceQuery) (string, []any) {
	query := fmt.Sprintf("SELECT run_id, seq, timestamp, direction, data, annotation FROM %s WHERE 1=1", table)
	args := []any{}

	if q.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, q.RunID)
	}
	if q.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, *q.StartTime)
	}
	if q.EndTime != nil {
		query += " AND timestamp < ?"
		args = append(args, *q.EndTime)
	}

	query += " ORDER BY timestamp, seq"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}
	return query, args
}

// QueryTrace reads archived entries matching q
func (w *TraceWriter) QueryTrace(ctx context.Context, q models.TraceQuery) ([]models.ArchivedTraceEntry, error) {
	query, args := buildTraceQuery(w.config.Table, q)

	rows, err := w.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	entries := []models.ArchivedTraceEntry{}
	for rows.Next() {
		var (
			runID     uuid.UUID
			seq       uint64
			ts        time.Time
			direction string
			data      []uint8
			note      string
		)
		if err := rows.Scan(&runID, &seq, &ts, &direction, &data, &note); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		entries = append(entries, models.ArchivedTraceEntry{
			RunID: runID.String(),
			TraceEntryResponse: models.TraceEntryResponse{
				Seq:        seq,
				Timestamp:  ts,
				Direction:  direction,
				DataHex:    fmt.Sprintf("%X", data),
				Length:     len(data),
				Annotation: note,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return entries, nil
}

// ExportParquet streams the matching rows as a Parquet file through the
// ClickHouse HTTP interface.
func (w *TraceWriter) ExportParquet(ctx context.Context, out io.Writer, q models.TraceQuery) (int64, error) {
	query := fmt.Sprintf("SELECT run_id, seq, timestamp, direction, data, annotation FROM %s WHERE 1=1", w.config.Table)
	params := url.Values{}
	params.Set("database", w.config.Database)

	if q.RunID != "" {
		query += " AND run_id = {run_id:UUID}"
		params.Set("param_run_id", q.RunID)
	}
	if q.StartTime != nil {
		query += " AND timestamp >= {start:DateTime64(6)}"
		params.Set("param_start", q.StartTime.UTC().Format("2006-01-02 15:04:05.000000"))
	}
	if q.EndTime != nil {
		query += " AND timestamp < {end:DateTime64(6)}"
		params.Set("param_end", q.EndTime.UTC().Format("2006-01-02 15:04:05.000000"))
	}
	query += " ORDER BY timestamp, seq FORMAT Parquet SETTINGS output_format_parquet_compression_method='zstd'"
	params.Set("query", query)

	httpPort := w.config.HTTPPort
	if httpPort == 0 {
		httpPort = 8123
	}
	endpoint := fmt.Sprintf("http://%s:%d/?%s", w.config.Host, httpPort, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	if w.config.Username != "" {
		req.Header.Set("X-ClickHouse-User", w.config.Username)
		req.Header.Set("X-ClickHouse-Key", w.config.Password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute HTTP query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("ClickHouse HTTP query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return written, fmt.Errorf("failed to copy Parquet data: %w", err)
	}
	return written, nil
}
