package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"tcu-diag/internal/diag"
	"tcu-diag/internal/firmware"
)

// largest image the TCU flash can hold
const maxImageSize = 0x400000

var errJobRunning = errors.New("a flash transfer is already running")

// transferJob tracks the single background flash or coredump transfer
type transferJob struct {
	mu       sync.Mutex
	kind     string
	running  bool
	progress diag.FlashProgress
	err      error
	started  time.Time
	finished time.Time
	coredump []byte
}

func (j *transferJob) begin(kind string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return errJobRunning
	}
	j.kind = kind
	j.running = true
	j.progress = diag.FlashProgress{}
	j.err = nil
	j.started = time.Now()
	j.finished = time.Time{}
	return nil
}

func (j *transferJob) report(p diag.FlashProgress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = p
}

func (j *transferJob) finish(err error, coredump []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.err = err
	j.finished = time.Now()
	if coredump != nil {
		j.coredump = coredump
	}
}

func (j *transferJob) status() gin.H {
	j.mu.Lock()
	defer j.mu.Unlock()
	body := gin.H{
		"kind":     j.kind,
		"running":  j.running,
		"progress": j.progress,
	}
	if !j.started.IsZero() {
		body["started"] = j.started.UTC()
	}
	if !j.finished.IsZero() {
		body["finished"] = j.finished.UTC()
	}
	if j.err != nil {
		body["error"] = j.err.Error()
	}
	return body
}

// GET /api/firmware
func (s *Server) getFirmware(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	header, err := s.deps.Session.ReadRunningFirmware(ctx)
	if err != nil {
		respondWithErr(c, err)
		return
	}

	partitions := gin.H{}
	for name, id := range map[string]uint8{
		"running":  diag.PartitionRunning,
		"next_ota": diag.PartitionNextOTA,
		"coredump": diag.PartitionCoredump,
	} {
		part, err := s.deps.Session.ReadPartition(ctx, id)
		if err != nil {
			respondWithErr(c, fmt.Errorf("%s partition: %w", name, err))
			return
		}
		partitions[name] = part
	}

	c.JSON(http.StatusOK, gin.H{"running": header, "partitions": partitions})
}

// POST /api/firmware/flash[?reboot=false] with the raw image as the body
func (s *Server) flashFirmware(c *gin.Context) {
	reboot := true
	if v := c.Query("reboot"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, fmt.Sprintf("invalid reboot format: %q", v))
			return
		}
		reboot = b
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImageSize))
	if err != nil {
		respondWithError(c, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	img, err := firmware.LoadImage(raw)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.job.begin("flash"); err != nil {
		respondWithError(c, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info().Str("version", img.Header.Version).Int("size", len(raw)).Bool("reboot", reboot).Msg("starting firmware flash")

	go func() {
		err := s.deps.Session.FlashFirmware(s.jobCtx, img, reboot, s.job.report)
		if err != nil {
			s.logger.Error().Err(err).Msg("firmware flash failed")
		}
		s.job.finish(err, nil)
	}()
	c.JSON(http.StatusAccepted, gin.H{"image": img.Header, "job": s.job.status()})
}

// POST /api/firmware/coredump starts reading the coredump partition
func (s *Server) startCoredump(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	part, err := s.deps.Session.ReadPartition(ctx, diag.PartitionCoredump)
	cancel()
	if err != nil {
		respondWithErr(c, err)
		return
	}

	if err := s.job.begin("coredump"); err != nil {
		respondWithError(c, http.StatusConflict, err.Error())
		return
	}

	go func() {
		data, err := s.deps.Session.DumpPartition(s.jobCtx, part, s.job.report)
		if err != nil {
			s.logger.Error().Err(err).Msg("coredump read failed")
		}
		s.job.finish(err, data)
	}()
	c.JSON(http.StatusAccepted, gin.H{"partition": part, "job": s.job.status()})
}

// GET /api/firmware/coredump downloads the last completed coredump
func (s *Server) getCoredump(c *gin.Context) {
	s.job.mu.Lock()
	data := s.job.coredump
	s.job.mu.Unlock()

	if data == nil {
		respondWithError(c, http.StatusNotFound, "no coredump has been read")
		return
	}
	filename := fmt.Sprintf("tcu_coredump_%s.bin", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// GET /api/firmware/job
func (s *Server) getTransferJob(c *gin.Context) {
	c.JSON(http.StatusOK, s.job.status())
}
