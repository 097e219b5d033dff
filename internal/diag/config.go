package diag

import "time"

// Config tunes request handling and keep-alive
type Config struct {
	// SessionType is the StartDiagnosticSession sub-function sent on connect
	SessionType uint8
	// RequestTimeout bounds each wait for a response
	RequestTimeout time.Duration
	// MaxRetries is the number of resends after a timeout
	MaxRetries int
	// PendingCap bounds the total time a request may spend in response-pending
	PendingCap time.Duration
	// TesterPresentInterval is the idle period after which a keep-alive is sent
	TesterPresentInterval time.Duration
	// QueueSize bounds the requests waiting behind the in-flight one
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		SessionType:           0x81,
		RequestTimeout:        2500 * time.Millisecond,
		MaxRetries:            2,
		PendingCap:            30 * time.Second,
		TesterPresentInterval: 2000 * time.Millisecond,
		QueueSize:             256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SessionType == 0 {
		c.SessionType = d.SessionType
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.PendingCap <= 0 {
		c.PendingCap = d.PendingCap
	}
	if c.TesterPresentInterval <= 0 {
		c.TesterPresentInterval = d.TesterPresentInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}
