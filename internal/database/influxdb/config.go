package influxdb

import "time"

// Config holds InfluxDB connection configuration
type Config struct {
	URL      string
	Token    string
	Database string

	BatchSize     int
	FlushInterval time.Duration
}
