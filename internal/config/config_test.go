package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "can0", cfg.CAN.Interface)
	assert.Equal(t, uint32(0x7E1), cfg.CAN.TxID)
	assert.Equal(t, uint32(0x7E9), cfg.CAN.RxID)
	assert.Equal(t, 2500*time.Millisecond, cfg.Session.RequestTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Session.TesterPresentInterval.Duration)
	assert.Equal(t, float64(60), cfg.LiveData.OutputRate)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcu-diag.toml")
	body := `
[can]
interface = "vcan0"

[session]
request_timeout = "500ms"
max_retries = 4
pending_cap = "10s"

[livedata]
subscribe = [0x20, 0x25]

[[livedata.custom]]
id = 0x10
name = "probe"
fields = "value:uint16:0"

[influxdb]
enabled = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("TCUDIAG_MAX_RETRIES", "1")
	t.Setenv("TCUDIAG_CAN_TX_ID", "0x7E0")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "vcan0", cfg.CAN.Interface)
	assert.Equal(t, uint32(0x7E0), cfg.CAN.TxID)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.RequestTimeout.Duration)
	assert.Equal(t, 1, cfg.Session.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Session.PendingCap.Duration)
	assert.Equal(t, []uint8{0x20, 0x25}, cfg.LiveData.Subscribe)
	require.Len(t, cfg.LiveData.Custom, 1)
	assert.Equal(t, uint8(0x10), cfg.LiveData.Custom[0].ID)
	assert.True(t, cfg.InfluxDB.Enabled)
	assert.False(t, cfg.ClickHouse.Enabled)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[session]\nrequest_timeout = \"5s\"\npending_cap = \"1s\"\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending_cap")
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("0x20, 25,,0x30")
	require.NoError(t, err)
	assert.Equal(t, []uint8{0x20, 0x25, 0x30}, ids)

	_, err = parseIDs("0x100")
	assert.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "tcu-diag.example.toml"))
	require.NoError(t, err)

	assert.Equal(t, uint8(0x81), cfg.Session.SessionType)
	assert.Equal(t, 5*time.Second, cfg.CAN.HealthInterval.Duration)
	assert.Equal(t, 8123, cfg.ClickHouse.HTTPPort)
	assert.Equal(t, []string{"*"}, cfg.API.CORSOrigins)
	assert.Equal(t, []uint8{0x20, 0x25}, cfg.LiveData.Subscribe)
}
