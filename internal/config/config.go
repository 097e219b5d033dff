package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from strings like "2500ms"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all application configuration
type Config struct {
	CAN        CANConfig        `toml:"can"`
	Session    SessionConfig    `toml:"session"`
	LiveData   LiveDataConfig   `toml:"livedata"`
	Trace      TraceConfig      `toml:"trace"`
	RateMon    RateMonConfig    `toml:"ratemon"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	InfluxDB   InfluxDBConfig   `toml:"influxdb"`
	API        APIConfig        `toml:"api"`
	Log        LogConfig        `toml:"log"`
}

// CANConfig selects the SocketCAN interface and ISO-TP addressing
type CANConfig struct {
	Interface string `toml:"interface"`
	TxID      uint32 `toml:"tx_id"`
	RxID      uint32 `toml:"rx_id"`
	PadFrames bool   `toml:"pad_frames"`

	HealthInterval Duration `toml:"health_interval"`
}

// SessionConfig tunes the diagnostic executor
type SessionConfig struct {
	SessionType           uint8    `toml:"session_type"`
	RequestTimeout        Duration `toml:"request_timeout"`
	MaxRetries            int      `toml:"max_retries"`
	PendingCap            Duration `toml:"pending_cap"`
	TesterPresentInterval Duration `toml:"tester_present_interval"`
	QueueSize             int      `toml:"queue_size"`
	AutoConnect           bool     `toml:"auto_connect"`
	ReconnectMaxDelay     Duration `toml:"reconnect_max_delay"`
}

// LiveDataConfig tunes the live data manager
type LiveDataConfig struct {
	Tick            Duration       `toml:"tick"`
	RingCapacity    int            `toml:"ring_capacity"`
	OutputRate      float64        `toml:"output_rate"`
	DefaultInterval Duration       `toml:"default_interval"`
	Subscribe       []uint8        `toml:"subscribe"`
	Custom          []CustomLayout `toml:"custom"`
}

// CustomLayout declares an extra live-data identifier.
// Fields uses the "name:type:offset" list format.
type CustomLayout struct {
	ID     uint8  `toml:"id"`
	Name   string `toml:"name"`
	Fields string `toml:"fields"`
}

// TraceConfig sizes the trace recorder
type TraceConfig struct {
	Capacity int `toml:"capacity"`
}

// RateMonConfig tunes the data rate monitor
type RateMonConfig struct {
	Window          Duration `toml:"window"`
	PublishInterval Duration `toml:"publish_interval"`
}

// ClickHouseConfig configures the optional trace archive
type ClickHouseConfig struct {
	Enabled   bool   `toml:"enabled"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	HTTPPort      int      `toml:"http_port"`
	Database      string   `toml:"database"`
	Username      string   `toml:"username"`
	Password      string   `toml:"password"`
	Table         string   `toml:"table"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval Duration `toml:"flush_interval"`
}

// InfluxDBConfig configures the optional live-data sample sink
type InfluxDBConfig struct {
	Enabled   bool   `toml:"enabled"`
	URL           string   `toml:"url"`
	Token         string   `toml:"token"`
	Database      string   `toml:"database"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval Duration `toml:"flush_interval"`
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	Port           int      `toml:"port"`
	RequestTimeout Duration `toml:"request_timeout"`
	CORSOrigins    []string `toml:"cors_origins"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		CAN: CANConfig{
			Interface: "can0",
			TxID:      0x07E1,
			RxID:      0x07E9,
			PadFrames: true,

			HealthInterval: Duration{5 * time.Second},
		},
		Session: SessionConfig{
			SessionType:           0x81,
			RequestTimeout:        Duration{2500 * time.Millisecond},
			MaxRetries:            2,
			PendingCap:            Duration{30 * time.Second},
			TesterPresentInterval: Duration{2000 * time.Millisecond},
			QueueSize:             256,
			AutoConnect:           true,
			ReconnectMaxDelay:     Duration{10 * time.Second},
		},
		LiveData: LiveDataConfig{
			Tick:            Duration{10 * time.Millisecond},
			RingCapacity:    600,
			OutputRate:      60,
			DefaultInterval: Duration{100 * time.Millisecond},
		},
		Trace: TraceConfig{
			Capacity: 4096,
		},
		RateMon: RateMonConfig{
			Window:          Duration{time.Second},
			PublishInterval: Duration{time.Second},
		},
		ClickHouse: ClickHouseConfig{
			Host:      "localhost",
			Port:          9000,
			HTTPPort:      8123,
			Database:      "default",
			Username:      "default",
			Table:         "diag_trace",
			BatchSize:     1000,
			FlushInterval: Duration{time.Second},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Database:      "tcu_livedata",
			BatchSize:     500,
			FlushInterval: Duration{time.Second},
		},
		API: APIConfig{
			Port:           8080,
			RequestTimeout: Duration{10 * time.Second},
			CORSOrigins:    []string{"*"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads defaults, then the TOML file at path, then TCUDIAG_* env overrides
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := applyEnv(config, os.Environ()); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if c.CAN.Interface == "" {
		return errors.New("config: can.interface is required")
	}
	if c.Session.RequestTimeout.Duration <= 0 {
		return errors.New("config: session.request_timeout must be positive")
	}
	if c.Session.MaxRetries < 0 {
		return errors.New("config: session.max_retries must not be negative")
	}
	if c.Session.PendingCap.Duration < c.Session.RequestTimeout.Duration {
		return errors.New("config: session.pending_cap must be at least request_timeout")
	}
	if c.LiveData.RingCapacity < 2 {
		return errors.New("config: livedata.ring_capacity must be at least 2")
	}
	if c.LiveData.OutputRate <= 0 {
		return errors.New("config: livedata.output_rate must be positive")
	}
	if c.Trace.Capacity <= 0 {
		return errors.New("config: trace.capacity must be positive")
	}
	return nil
}

// applyEnv applies TCUDIAG_* overrides from KEY=VALUE pairs
func applyEnv(config *Config, environ []string) error {
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "TCUDIAG_") {
			continue
		}

		key := strings.TrimPrefix(parts[0], "TCUDIAG_")
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		var err error
		switch key {
		case "CAN_INTERFACE":
			config.CAN.Interface = value
		case "CAN_TX_ID":
			config.CAN.TxID, err = parseHex32(value)
		case "CAN_RX_ID":
			config.CAN.RxID, err = parseHex32(value)
		case "REQUEST_TIMEOUT":
			err = config.Session.RequestTimeout.UnmarshalText([]byte(value))
		case "MAX_RETRIES":
			config.Session.MaxRetries, err = strconv.Atoi(value)
		case "PENDING_CAP":
			err = config.Session.PendingCap.UnmarshalText([]byte(value))
		case "SUBSCRIBE":
			config.LiveData.Subscribe, err = parseIDs(value)
		case "CLICKHOUSE_HOST":
			config.ClickHouse.Host = value
			config.ClickHouse.Enabled = value != ""
		case "CLICKHOUSE_PASSWORD":
			config.ClickHouse.Password = value
		case "INFLUXDB_URL":
			config.InfluxDB.URL = value
			config.InfluxDB.Enabled = value != ""
		case "INFLUXDB_TOKEN":
			config.InfluxDB.Token = value
		case "API_PORT":
			config.API.Port, err = strconv.Atoi(value)
		}
		if err != nil {
			return fmt.Errorf("invalid TCUDIAG_%s: %w", key, err)
		}
	}
	return nil
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	return uint32(v), err
}

// parseIDs parses comma-separated hex live-data identifiers
func parseIDs(s string) ([]uint8, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	ids := make([]uint8, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(part), "0x"), 16, 8)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint8(v))
	}

	return ids, nil
}
