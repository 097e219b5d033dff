package livedata

import (
	"math"
	"sort"
	"time"

	"tcu-diag/internal/models"
)

// SampleTimes returns n evenly spaced output timestamps covering the
// window ending at end, where n = round(rate * window).
func SampleTimes(end time.Time, rate float64, window time.Duration) []time.Time {
	if rate <= 0 || window <= 0 {
		return nil
	}
	n := int(math.Round(rate * window.Seconds()))
	if n <= 0 {
		return nil
	}

	step := time.Duration(float64(time.Second) / rate)
	start := end.Add(-window)
	times := make([]time.Time, n)
	for i := range times {
		times[i] = start.Add(time.Duration(i+1) * step)
	}
	return times
}

// Resample linearly interpolates samples (ordered by timestamp) at each
// output time. Times before the first sample or after the last hold the
// nearest sample's values.
func Resample(samples []models.LiveDataSample, times []time.Time) []models.SeriesPoint {
	if len(samples) == 0 || len(times) == 0 {
		return nil
	}

	points := make([]models.SeriesPoint, len(times))
	for i, t := range times {
		// first sample strictly after t
		j := sort.Search(len(samples), func(k int) bool {
			return samples[k].Timestamp.After(t)
		})

		var values []float64
		switch {
		case j == 0:
			values = copyValues(samples[0].Values)
		case j == len(samples):
			values = copyValues(samples[len(samples)-1].Values)
		default:
			values = lerp(samples[j-1], samples[j], t)
		}
		points[i] = models.SeriesPoint{Timestamp: t, Values: values}
	}
	return points
}

// lerp blends a and b at t, where a.Timestamp <= t < b.Timestamp
func lerp(a, b models.LiveDataSample, t time.Time) []float64 {
	span := b.Timestamp.Sub(a.Timestamp)
	frac := float64(t.Sub(a.Timestamp)) / float64(span)

	n := min(len(a.Values), len(b.Values))
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		out[k] = a.Values[k] + (b.Values[k]-a.Values[k])*frac
	}
	return out
}

func copyValues(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
