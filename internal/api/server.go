package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tcu-diag/internal/diag"
	"tcu-diag/internal/firmware"
	"tcu-diag/internal/livedata"
	"tcu-diag/internal/models"
	"tcu-diag/internal/observability"
	"tcu-diag/internal/ratemon"
	"tcu-diag/internal/scn"
	"tcu-diag/internal/trace"
)

// Session is the part of the diagnostic executor the API drives
type Session interface {
	Session() diag.SessionState
	QueueLen() int
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ReadIdentification(ctx context.Context) (*diag.Identification, error)
	ReadConfigBlock(ctx context.Context, id uint8, schema *scn.Schema) (scn.Values, error)
	WriteConfigBlock(ctx context.Context, id uint8, schema *scn.Schema, values scn.Values) error
	ReadRunningFirmware(ctx context.Context) (*firmware.Header, error)
	ReadPartition(ctx context.Context, id uint8) (diag.Partition, error)
	FlashFirmware(ctx context.Context, img *firmware.Image, reboot bool, progress diag.ProgressFunc) error
	DumpPartition(ctx context.Context, part diag.Partition, progress diag.ProgressFunc) ([]byte, error)
}

// TraceArchive serves archived trace rows
type TraceArchive interface {
	RunID() uuid.UUID
	QueryTrace(ctx context.Context, q models.TraceQuery) ([]models.ArchivedTraceEntry, error)
	ExportParquet(ctx context.Context, out io.Writer, q models.TraceQuery) (int64, error)
}

// BusHealth reports the latest interface health snapshot
type BusHealth interface {
	Latest() (models.BusHealth, error)
}

// Deps are the engine components behind the API. Archive and Bus are optional.
type Deps struct {
	Session  Session
	LiveData *livedata.Manager
	Trace    *trace.Recorder
	Rate     *ratemon.Monitor
	Archive  TraceArchive
	Bus      BusHealth
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// Server represents the HTTP API server
type Server struct {
	server  *http.Server
	router  *gin.Engine
	deps    Deps
	config  ServerConfig
	logger  zerolog.Logger
	started time.Time

	job       transferJob
	jobCtx    context.Context
	jobCancel context.CancelFunc
}

// NewServer creates a new API server instance
func NewServer(deps Deps, config ServerConfig, logger zerolog.Logger) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = []string{"*"}
	}

	observability.RegisterMetrics()
	logger = logger.With().Str("component", "api").Logger()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins: config.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		router:  r,
		deps:    deps,
		config:  config,
		logger:  logger,
		started: time.Now(),
	}
	// transfers outlive the request that started them
	s.jobCtx, s.jobCancel = context.WithCancel(context.Background())
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")

	api.GET("/session", s.getSession)
	api.POST("/session/connect", s.connect)
	api.POST("/session/disconnect", s.disconnect)
	api.GET("/ecu/identification", s.getIdentification)
	api.GET("/config/:block", s.getConfigBlock)
	api.PUT("/config/:block", s.putConfigBlock)

	api.GET("/firmware", s.getFirmware)
	api.GET("/firmware/job", s.getTransferJob)
	api.POST("/firmware/flash", s.flashFirmware)
	api.POST("/firmware/coredump", s.startCoredump)
	api.GET("/firmware/coredump", s.getCoredump)

	api.GET("/trace", s.getTrace)
	api.DELETE("/trace", s.clearTrace)
	api.GET("/trace/archive", s.getTraceArchive)
	api.GET("/trace/archive/export", s.exportTraceArchive)

	api.GET("/rate", s.getRate)
	api.GET("/bus", s.getBusHealth)

	api.GET("/livedata/layouts", s.getLayouts)
	api.GET("/livedata/subscriptions", s.getSubscriptions)
	api.POST("/livedata/subscribe", s.subscribe)
	api.DELETE("/livedata/subscribe", s.unsubscribe)
	api.GET("/livedata/series", s.getSeries)
}

func (s *Server) handleHealth(c *gin.Context) {
	session := s.deps.Session.Session()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"session": session.State,
		"services": gin.H{
			"archive": s.deps.Archive != nil,
			"bus":     s.deps.Bus != nil,
		},
	})
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP API server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping HTTP API server")
	s.jobCancel()
	return s.server.Shutdown(ctx)
}
