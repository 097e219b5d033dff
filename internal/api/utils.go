package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tcu-diag/internal/diag"
	"tcu-diag/internal/livedata"
	"tcu-diag/internal/models"
	"tcu-diag/internal/scn"
)

// parseTraceQuery parses archive filters from the query string
func parseTraceQuery(c *gin.Context) (models.TraceQuery, error) {
	q := models.TraceQuery{
		RunID: c.Query("run_id"),
		Limit: 100,
	}

	if v := c.Query("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid start_time format: %v", err)
		}
		q.StartTime = &t
	}

	if v := c.Query("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid end_time format: %v", err)
		}
		q.EndTime = &t
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return q, fmt.Errorf("invalid limit format: %q", v)
		}
		q.Limit = limit
	}

	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return q, fmt.Errorf("invalid offset format: %q", v)
		}
		q.Offset = offset
	}

	return q, nil
}

// parseID accepts "0x20", "20" (hex) for identifiers
func parseID(raw string) (uint8, error) {
	raw = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if raw == "" {
		return 0, errors.New("missing id")
	}
	v, err := strconv.ParseUint(raw, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint8(v), nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// statusFor maps engine errors onto HTTP status codes
func statusFor(err error) int {
	var negative *diag.NegativeResponseError
	var invalid *scn.ValidationError

	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, livedata.ErrUnknownIdentifier):
		return http.StatusNotFound
	case errors.Is(err, diag.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, diag.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &negative),
		errors.Is(err, diag.ErrMalformedResponse),
		errors.Is(err, diag.ErrFlashVerify),
		errors.Is(err, scn.ErrSizeMismatch):
		return http.StatusBadGateway
	case errors.Is(err, diag.ErrQueueFull), errors.Is(err, diag.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError sends an error response
func respondWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

func respondWithErr(c *gin.Context, err error) {
	respondWithError(c, statusFor(err), err.Error())
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
}
