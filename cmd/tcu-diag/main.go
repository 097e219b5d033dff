package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tcu-diag/internal/api"
	"tcu-diag/internal/can"
	"tcu-diag/internal/config"
	"tcu-diag/internal/database/clickhouse"
	"tcu-diag/internal/database/influxdb"
	"tcu-diag/internal/diag"
	"tcu-diag/internal/livedata"
	"tcu-diag/internal/logging"
	"tcu-diag/internal/observability"
	"tcu-diag/internal/ratemon"
	"tcu-diag/internal/trace"
)

func main() {
	configPath := flag.String("config", "tcu-diag.toml", "Path to TOML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("tcu-diag", cfg.Log.Level)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("tcu-diag stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()

	registry, err := buildRegistry(cfg.LiveData.Custom)
	if err != nil {
		return err
	}

	logger.Info().
		Str("interface", cfg.CAN.Interface).
		Str("tx_id", fmt.Sprintf("0x%03X", cfg.CAN.TxID)).
		Str("rx_id", fmt.Sprintf("0x%03X", cfg.CAN.RxID)).
		Msg("starting diagnostic session engine")

	transport, err := can.NewISOTPTransport(can.ISOTPConfig{
		Interface: cfg.CAN.Interface,
		TxID:      cfg.CAN.TxID,
		RxID:      cfg.CAN.RxID,
		PadFrames: cfg.CAN.PadFrames,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open ISO-TP transport: %w", err)
	}

	recorder := trace.NewRecorder(cfg.Trace.Capacity)
	rate := ratemon.New(cfg.RateMon.Window.Duration, logger)
	tap := can.NewTap(transport, recorder, rate)

	executor := diag.New(tap, diag.Config{
		SessionType:           cfg.Session.SessionType,
		RequestTimeout:        cfg.Session.RequestTimeout.Duration,
		MaxRetries:            cfg.Session.MaxRetries,
		PendingCap:            cfg.Session.PendingCap.Duration,
		TesterPresentInterval: cfg.Session.TesterPresentInterval.Duration,
		QueueSize:             cfg.Session.QueueSize,
	}, logger)
	executor.Start()
	defer executor.Close()

	deps := api.Deps{
		Session: executor,
		Trace:   recorder,
		Rate:    rate,
	}

	if cfg.ClickHouse.Enabled {
		archive, err := openTraceArchive(cfg.ClickHouse, logger)
		if err != nil {
			return err
		}
		defer archive.Close()

		archive.Start()
		recorder.SetSink(archive)
		deps.Archive = archive
	}

	liveData := livedata.NewManager(executor, registry, livedata.Config{
		Tick:            cfg.LiveData.Tick.Duration,
		RingCapacity:    cfg.LiveData.RingCapacity,
		OutputRate:      cfg.LiveData.OutputRate,
		DefaultInterval: cfg.LiveData.DefaultInterval.Duration,
	}, logger)
	deps.LiveData = liveData

	if cfg.InfluxDB.Enabled {
		samples, err := influxdb.New(influxdb.Config{
			URL:           cfg.InfluxDB.URL,
			Token:         cfg.InfluxDB.Token,
			Database:      cfg.InfluxDB.Database,
			BatchSize:     cfg.InfluxDB.BatchSize,
			FlushInterval: cfg.InfluxDB.FlushInterval.Duration,
		}, logger)
		if err != nil {
			return err
		}
		defer samples.Close()

		samples.Start()
		liveData.SetSink(samples)
	}

	for _, id := range cfg.LiveData.Subscribe {
		if _, err := liveData.Subscribe(id, 0); err != nil {
			logger.Warn().Err(err).Uint8("id", id).Msg("skipping configured subscription")
		}
	}

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { liveData.Run(ctx) })
	spawn(func() { rate.Run(ctx, cfg.RateMon.PublishInterval.Duration) })

	if cfg.CAN.HealthInterval.Duration > 0 {
		health := can.NewHealthMonitor(cfg.CAN.Interface, cfg.CAN.HealthInterval.Duration, logger)
		deps.Bus = health
		spawn(func() { health.Run(ctx) })
	}

	if cfg.Session.AutoConnect {
		backoff := diag.DefaultBackoff()
		backoff.Max = cfg.Session.ReconnectMaxDelay.Duration
		spawn(func() { executor.Maintain(ctx, backoff) })
	}

	server := api.NewServer(deps, api.ServerConfig{
		Port:           cfg.API.Port,
		RequestTimeout: cfg.API.RequestTimeout.Duration,
		CORSOrigins:    cfg.API.CORSOrigins,
	}, logger)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	logger.Info().Int("port", cfg.API.Port).Msg("engine started, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown")
	}
	wg.Wait()

	if err := executor.Disconnect(shutdownCtx); err != nil && !errors.Is(err, diag.ErrClosed) {
		logger.Warn().Err(err).Msg("disconnect on shutdown")
	}

	in, out := rate.CurrentRate()
	logger.Info().
		Int("trace_entries", recorder.Len()).
		Uint64("trace_total", recorder.Total()).
		Float64("in_bytes_per_sec", in).
		Float64("out_bytes_per_sec", out).
		Msg("final statistics")
	return nil
}

func openTraceArchive(cfg config.ClickHouseConfig, logger zerolog.Logger) (*clickhouse.TraceWriter, error) {
	chConfig := clickhouse.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		HTTPPort:      cfg.HTTPPort,
		Database:      cfg.Database,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Table:         cfg.Table,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval.Duration,
	}

	conn, err := clickhouse.Open(chConfig)
	if err != nil {
		return nil, err
	}
	writer, err := clickhouse.NewTraceWriter(conn, chConfig, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return writer, nil
}

// buildRegistry adds the configured custom layouts to the built-in ones
func buildRegistry(custom []config.CustomLayout) (*livedata.Registry, error) {
	registry := livedata.NewRegistry()
	for _, c := range custom {
		fields, err := livedata.ParseFields(c.Fields)
		if err != nil {
			return nil, fmt.Errorf("custom layout 0x%02X: %w", c.ID, err)
		}
		layout, err := livedata.NewLayout(c.ID, c.Name, fields)
		if err != nil {
			return nil, err
		}
		registry.Register(layout)
	}
	return registry, nil
}
