package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tcu-diag/internal/models"
)

func TestBuildTraceQuery(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildTraceQuery("diag_trace", models.TraceQuery{
		RunID:     "6f1c1f8e-4c1e-4c44-9d53-2a9c0c0f4b11",
		StartTime: &start,
		Limit:     50,
	})

	assert.Equal(t,
		"SELECT run_id, seq, timestamp, direction, data, annotation FROM diag_trace WHERE 1=1"+
			" AND run_id = ? AND timestamp >= ? ORDER BY timestamp, seq LIMIT ?",
		query)
	assert.Equal(t, []any{"6f1c1f8e-4c1e-4c44-9d53-2a9c0c0f4b11", start, 50}, args)
}

func TestBuildTraceQueryUnfiltered(t *testing.T) {
	query, args := buildTraceQuery("t", models.TraceQuery{})
	assert.Equal(t, "SELECT run_id, seq, timestamp, direction, data, annotation FROM t WHERE 1=1 ORDER BY timestamp, seq", query)
	assert.Empty(t, args)
}
