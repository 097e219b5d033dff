package can

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tcu-diag/internal/models"
)

var (
	reFlags      = regexp.MustCompile(`<([^>]+)>`)
	reBitrate    = regexp.MustCompile(`bitrate (\d+)`)
	reBusState   = regexp.MustCompile(`can (?:<[^>]*> )?state ([A-Z-]+)`)
	reBerr       = regexp.MustCompile(`berr-counter tx (\d+) rx (\d+)`)
	reRestartMS  = regexp.MustCompile(`restart-ms (\d+)`)
	reErrorStats = regexp.MustCompile(`re-started\s+bus-errors\s+arbit-lost\s+error-warn\s+error-pass\s+bus-off`)
)

// CommandRunner runs the link statistics command for an interface
type CommandRunner func(ctx context.Context, iface string) (string, error)

func ipLinkStats(ctx context.Context, iface string) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "-details", "-statistics", "link", "show", iface).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ip link show %s: %w (output: %s)", iface, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// HealthMonitor periodically samples the interface's controller state.
// A session stalling on a bus-off controller shows up here first.
type HealthMonitor struct {
	iface    string
	interval time.Duration
	run      CommandRunner
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest models.BusHealth
	err    error
}

// NewHealthMonitor creates a monitor for iface using the ip tool
func NewHealthMonitor(iface string, interval time.Duration, logger zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		iface:    iface,
		interval: interval,
		run:      ipLinkStats,
		logger:   logger.With().Str("component", "bus_health").Str("interface", iface).Logger(),
	}
}

// Latest returns the most recent snapshot and the error of the last attempt
func (h *HealthMonitor) Latest() (models.BusHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.err
}

// Run samples immediately and then every interval until ctx ends
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.collect(ctx)
		}
	}
}

func (h *HealthMonitor) collect(ctx context.Context) {
	out, err := h.run(ctx, h.iface)
	if err != nil {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		h.logger.Debug().Err(err).Msg("failed to collect bus health")
		return
	}

	stats := ParseLinkStats(out)
	stats.Interface = h.iface
	stats.Timestamp = time.Now().UTC()

	h.mu.Lock()
	prev := h.latest.BusState
	h.latest = stats
	h.err = nil
	h.mu.Unlock()

	if stats.BusState != prev && stats.BusState != "" {
		event := h.logger.Info()
		if !stats.Healthy() {
			event = h.logger.Warn()
		}
		event.Str("bus_state", stats.BusState).Str("state", stats.State).Msg("bus state changed")
	}
}

// ParseLinkStats parses `ip -details -statistics link show` output
func ParseLinkStats(output string) models.BusHealth {
	stats := models.BusHealth{}
	lines := strings.Split(output, "\n")

	for i, line := range lines {
		line = strings.TrimSpace(line)

		if i == 0 {
			stats.State = "DOWN"
			if m := reFlags.FindStringSubmatch(line); len(m) > 1 && strings.Contains(m[1], "UP") {
				stats.State = "UP"
			}
			continue
		}

		if m := reBitrate.FindStringSubmatch(line); len(m) > 1 {
			stats.Bitrate, _ = strconv.Atoi(m[1])
		}
		if m := reBusState.FindStringSubmatch(line); len(m) > 1 {
			stats.BusState = m[1]
		}
		if m := reBerr.FindStringSubmatch(line); len(m) > 2 {
			stats.TXErrorCounter, _ = strconv.Atoi(m[1])
			stats.RXErrorCounter, _ = strconv.Atoi(m[2])
		}
		if m := reRestartMS.FindStringSubmatch(line); len(m) > 1 {
			stats.RestartMS, _ = strconv.Atoi(m[1])
		}

		next := func() []string {
			if i+1 < len(lines) {
				return strings.Fields(lines[i+1])
			}
			return nil
		}

		switch {
		case reErrorStats.MatchString(line):
			if f := next(); len(f) >= 6 {
				stats.BusOffRestarts, _ = strconv.ParseUint(f[0], 10, 64)
				stats.ErrorWarning, _ = strconv.ParseUint(f[3], 10, 64)
				stats.ErrorPassive, _ = strconv.ParseUint(f[4], 10, 64)
				stats.BusOff, _ = strconv.ParseUint(f[5], 10, 64)
			}
		case strings.HasPrefix(line, "RX:"):
			if f := next(); len(f) >= 4 {
				stats.RXBytes, _ = strconv.ParseUint(f[0], 10, 64)
				stats.RXPackets, _ = strconv.ParseUint(f[1], 10, 64)
				stats.RXErrors, _ = strconv.ParseUint(f[2], 10, 64)
				stats.RXDropped, _ = strconv.ParseUint(f[3], 10, 64)
			}
		case strings.HasPrefix(line, "TX:"):
			if f := next(); len(f) >= 4 {
				stats.TXBytes, _ = strconv.ParseUint(f[0], 10, 64)
				stats.TXPackets, _ = strconv.ParseUint(f[1], 10, 64)
				stats.TXErrors, _ = strconv.ParseUint(f[2], 10, 64)
				stats.TXDropped, _ = strconv.ParseUint(f[3], 10, 64)
			}
		}
	}

	return stats
}
