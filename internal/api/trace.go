package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tcu-diag/internal/models"
	"tcu-diag/internal/trace"
)

// GET /api/trace[?format=cbor][&last=N]
func (s *Server) getTrace(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "cbor" {
		respondWithError(c, http.StatusBadRequest, "format must be json or cbor")
		return
	}

	var export trace.Export
	if v := c.Query("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(c, http.StatusBadRequest, fmt.Sprintf("invalid last format: %q", v))
			return
		}
		export = s.deps.Trace.ExportLast(n)
	} else {
		export = s.deps.Trace.Export()
	}

	if format == "cbor" {
		c.Header("Content-Type", "application/cbor")
		c.Status(http.StatusOK)
		if err := export.WriteCBOR(c.Writer); err != nil {
			s.logger.Error().Err(err).Msg("failed to write CBOR trace")
		}
		return
	}

	entries := make([]models.TraceEntryResponse, 0, len(export.Entries))
	for _, e := range export.Entries {
		entries = append(entries, e.Response())
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   export.Count,
		"total":   export.Total,
		"entries": entries,
	})
}

// DELETE /api/trace empties the in-memory trace
func (s *Server) clearTrace(c *gin.Context) {
	s.deps.Trace.Clear()
	c.JSON(http.StatusOK, gin.H{"count": 0, "total": s.deps.Trace.Total()})
}

func (s *Server) requireArchive(c *gin.Context) bool {
	if s.deps.Archive == nil {
		respondWithError(c, http.StatusServiceUnavailable, "trace archive is not configured")
		return false
	}
	return true
}

// GET /api/trace/archive?run_id=&start_time=&end_time=&limit=&offset=
func (s *Server) getTraceArchive(c *gin.Context) {
	if !s.requireArchive(c) {
		return
	}

	q, err := parseTraceQuery(c)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	entries, err := s.deps.Archive.QueryTrace(ctx, q)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":  s.deps.Archive.RunID().String(),
		"count":   len(entries),
		"limit":   q.Limit,
		"offset":  q.Offset,
		"entries": entries,
	})
}

// GET /api/trace/archive/export downloads the matching rows as Parquet
func (s *Server) exportTraceArchive(c *gin.Context) {
	if !s.requireArchive(c) {
		return
	}

	q, err := parseTraceQuery(c)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	if q.RunID == "" {
		q.RunID = s.deps.Archive.RunID().String()
	}

	filename := fmt.Sprintf("diag_trace_%s.parquet", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.apache.parquet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	written, err := s.deps.Archive.ExportParquet(c.Request.Context(), c.Writer, q)
	if err != nil {
		if written == 0 && !c.Writer.Written() {
			c.Header("Content-Disposition", "")
			respondWithError(c, http.StatusBadGateway, err.Error())
			return
		}
		s.logger.Error().Err(err).Int64("written", written).Msg("parquet export interrupted")
	}
}
