package influxdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tcu-diag/internal/models"
)

func TestSampleTagsAndFields(t *testing.T) {
	sample := models.LiveDataSample{
		Identifier: 0x20,
		Timestamp:  time.Now(),
		Values:     []float64{1200, 35.5, 4},
	}

	assert.Equal(t, map[string]string{"identifier": "0x20", "name": "gearbox_sensors"},
		sampleTags("gearbox_sensors", sample))

	assert.Equal(t, map[string]any{
		"n2_rpm":  float64(1200),
		"atf_c":   35.5,
		"value_2": float64(4),
	}, sampleFields([]string{"n2_rpm", "atf_c"}, sample))
}
