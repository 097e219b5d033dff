package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcu-diag/internal/config"
)

func TestBuildRegistryAddsCustomLayouts(t *testing.T) {
	registry, err := buildRegistry([]config.CustomLayout{
		{ID: 0x40, Name: "probe", Fields: "a:uint16:0,b:int8:2"},
	})
	require.NoError(t, err)

	layout, ok := registry.Lookup(0x40)
	require.True(t, ok)
	assert.Equal(t, "probe", layout.Name)
	assert.Equal(t, 3, layout.Length)

	_, ok = registry.Lookup(0x20)
	assert.True(t, ok, "built-ins stay registered")
}

func TestBuildRegistryRejectsBadFields(t *testing.T) {
	_, err := buildRegistry([]config.CustomLayout{{ID: 0x41, Name: "bad", Fields: "a:float:0"}})
	assert.Error(t, err)
}
