package models

import "time"

// LiveDataSample is one decoded live-data response.
// Values is aligned with the field list of the identifier's layout.
type LiveDataSample struct {
	Identifier uint8     `json:"identifier"`
	Timestamp  time.Time `json:"timestamp"`
	Values     []float64 `json:"values"`
}

// SeriesPoint is one resampled point of a live-data series
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// Series is a resampled live-data series for one identifier
type Series struct {
	Identifier uint8         `json:"identifier"`
	Name       string        `json:"name"`
	Fields     []string      `json:"fields"`
	Units      []string      `json:"units"`
	Rate       float64       `json:"rate"`
	Points     []SeriesPoint `json:"points"`
}
