package influxdb

import (
	"context"
	"fmt"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/rs/zerolog"

	"tcu-diag/internal/database"
	"tcu-diag/internal/models"
)

// Measurement is the measurement name for live-data points
const Measurement = "rli"

var _ database.SampleWriter = (*SampleWriter)(nil)

// SampleWriter writes decoded live-data samples to InfluxDB
type SampleWriter struct {
	client  *influxdb3.Client
	batcher *database.Batcher[*influxdb3.Point]
	logger  zerolog.Logger
}

// New creates a new InfluxDB sample writer
func New(config Config, logger zerolog.Logger) (*SampleWriter, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	w := &SampleWriter{
		client: client,
		logger: logger.With().Str("component", "influxdb").Str("database", config.Database).Logger(),
	}
	w.batcher = database.NewBatcher[*influxdb3.Point](config.BatchSize, config.FlushInterval, w.flush, w.logger)
	return w, nil
}

// Start begins processing and writing samples
func (w *SampleWriter) Start() {
	w.batcher.Start()
}

// WriteSample queues one sample as a point tagged with its identifier
func (w *SampleWriter) WriteSample(name string, fields []string, sample models.LiveDataSample) {
	w.batcher.Add(influxdb3.NewPoint(Measurement, sampleTags(name, sample), sampleFields(fields, sample), sample.Timestamp))
}

func sampleTags(name string, sample models.LiveDataSample) map[string]string {
	return map[string]string{
		"identifier": fmt.Sprintf("0x%02X", sample.Identifier),
		"name":       name,
	}
}

// sampleFields pairs field names with values. Unnamed trailing values get
// positional names.
func sampleFields(fields []string, sample models.LiveDataSample) map[string]any {
	out := make(map[string]any, len(sample.Values))
	for i, v := range sample.Values {
		key := fmt.Sprintf("value_%d", i)
		if i < len(fields) && fields[i] != "" {
			key = fields[i]
		}
		out[key] = v
	}
	return out
}

func (w *SampleWriter) flush(ctx context.Context, points []*influxdb3.Point) error {
	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}
	return nil
}

// Close flushes queued samples and closes the client
func (w *SampleWriter) Close() error {
	w.batcher.Close()
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
