package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"verbose", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := ParseLevel(tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestEnvOverridesConfiguredLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "test", "debug")

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Error().Msg("shown")
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "test")
}
