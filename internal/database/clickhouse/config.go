package clickhouse

import "time"

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	HTTPPort int
	Database string
	Username string
	Password string
	Table    string

	BatchSize     int
	FlushInterval time.Duration
}
