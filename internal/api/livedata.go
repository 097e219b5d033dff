package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tcu-diag/internal/livedata"
)

// GET /api/livedata/layouts
func (s *Server) getLayouts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"layouts": s.deps.LiveData.Layouts()})
}

// GET /api/livedata/subscriptions
func (s *Server) getSubscriptions(c *gin.Context) {
	subs := s.deps.LiveData.Subscriptions()
	out := make(map[string]uint8, len(subs))
	for h, id := range subs {
		out[strconv.FormatUint(uint64(h), 10)] = id
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

// POST /api/livedata/subscribe?id=0x20&interval=100ms
func (s *Server) subscribe(c *gin.Context) {
	id, err := parseID(c.Query("id"))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	interval, err := parseDuration(c.Query("interval"), 0)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	h, err := s.deps.LiveData.Subscribe(id, interval)
	if err != nil {
		respondWithErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"handle": uint64(h), "id": id})
}

// DELETE /api/livedata/subscribe?handle=
func (s *Server) unsubscribe(c *gin.Context) {
	h, err := strconv.ParseUint(c.Query("handle"), 10, 64)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid handle")
		return
	}
	if !s.deps.LiveData.Unsubscribe(livedata.Handle(h)) {
		respondWithError(c, http.StatusNotFound, "unknown handle")
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/livedata/series?id=0x20&rate=60&window=5s
func (s *Server) getSeries(c *gin.Context) {
	id, err := parseID(c.Query("id"))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	rate := 0.0
	if v := c.Query("rate"); v != "" {
		rate, err = strconv.ParseFloat(v, 64)
		if err != nil || rate <= 0 {
			respondWithError(c, http.StatusBadRequest, "invalid rate")
			return
		}
	}

	window, err := parseDuration(c.Query("window"), 5*time.Second)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	series, err := s.deps.LiveData.ReadSeries(id, rate, window)
	if err != nil {
		respondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}
