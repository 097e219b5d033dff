package livedata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcu-diag/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sample(offset time.Duration, values ...float64) models.LiveDataSample {
	return models.LiveDataSample{Identifier: 0x20, Timestamp: t0.Add(offset), Values: values}
}

func TestResampleInterpolatesBetweenSamples(t *testing.T) {
	samples := []models.LiveDataSample{
		sample(0, 0, 100),
		sample(100*time.Millisecond, 10, 50),
		sample(300*time.Millisecond, 30, 50),
	}
	times := []time.Time{
		t0.Add(25 * time.Millisecond),
		t0.Add(100 * time.Millisecond),
		t0.Add(150 * time.Millisecond),
		t0.Add(250 * time.Millisecond),
	}

	points := Resample(samples, times)
	require.Len(t, points, 4)
	assert.InDeltaSlice(t, []float64{2.5, 87.5}, points[0].Values, 1e-9)
	assert.InDeltaSlice(t, []float64{10, 50}, points[1].Values, 1e-9)
	assert.InDeltaSlice(t, []float64{15, 50}, points[2].Values, 1e-9)
	assert.InDeltaSlice(t, []float64{25, 50}, points[3].Values, 1e-9)
	assert.Equal(t, times[2], points[2].Timestamp)
}

func TestResampleHoldsEndpoints(t *testing.T) {
	samples := []models.LiveDataSample{
		sample(100*time.Millisecond, 5),
		sample(200*time.Millisecond, 9),
	}
	points := Resample(samples, []time.Time{
		t0,
		t0.Add(50 * time.Millisecond),
		t0.Add(200 * time.Millisecond),
		t0.Add(time.Second),
	})

	require.Len(t, points, 4)
	assert.Equal(t, []float64{5}, points[0].Values)
	assert.Equal(t, []float64{5}, points[1].Values)
	assert.Equal(t, []float64{9}, points[2].Values)
	assert.Equal(t, []float64{9}, points[3].Values)
}

func TestResampleDoesNotAliasSamples(t *testing.T) {
	samples := []models.LiveDataSample{sample(0, 1)}
	points := Resample(samples, []time.Time{t0.Add(time.Second)})
	points[0].Values[0] = 42
	assert.Equal(t, float64(1), samples[0].Values[0])
}

func TestResampleEmpty(t *testing.T) {
	assert.Nil(t, Resample(nil, []time.Time{t0}))
	assert.Nil(t, Resample([]models.LiveDataSample{sample(0, 1)}, nil))
}

func TestSampleTimesEvenlySpaced(t *testing.T) {
	end := t0.Add(time.Second)
	times := SampleTimes(end, 60, time.Second)
	require.Len(t, times, 60)
	assert.Equal(t, end, times[59].Round(time.Millisecond))

	step := times[1].Sub(times[0])
	for i := 1; i < len(times); i++ {
		assert.Equal(t, step, times[i].Sub(times[i-1]))
	}

	assert.Len(t, SampleTimes(end, 10, 250*time.Millisecond), 3)
	assert.Nil(t, SampleTimes(end, 0, time.Second))
}
