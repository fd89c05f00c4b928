package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringFallback(t *testing.T) {
	t.Setenv("AGENDA_TEST_STRING", "  ")
	assert.Equal(t, "fallback", String("AGENDA_TEST_STRING", "fallback"))

	t.Setenv("AGENDA_TEST_STRING", "value")
	assert.Equal(t, "value", String("AGENDA_TEST_STRING", "fallback"))
}

func TestRequiredString(t *testing.T) {
	t.Setenv("AGENDA_TEST_REQUIRED", "")
	_, err := RequiredString("AGENDA_TEST_REQUIRED")
	require.Error(t, err)
}

func TestPort(t *testing.T) {
	t.Setenv("AGENDA_TEST_PORT", "70000")
	_, err := Port("AGENDA_TEST_PORT", "8080")
	require.Error(t, err)

	t.Setenv("AGENDA_TEST_PORT", "")
	p, err := Port("AGENDA_TEST_PORT", "8080")
	require.NoError(t, err)
	assert.Equal(t, "8080", p)
}

func TestIntBoolDuration(t *testing.T) {
	t.Setenv("AGENDA_TEST_INT", "42")
	n, err := Int("AGENDA_TEST_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	t.Setenv("AGENDA_TEST_INT", "x")
	_, err = Int("AGENDA_TEST_INT", 1)
	require.Error(t, err)

	t.Setenv("AGENDA_TEST_BOOL", "yes")
	assert.True(t, Bool("AGENDA_TEST_BOOL", false))
	t.Setenv("AGENDA_TEST_BOOL", "maybe")
	assert.False(t, Bool("AGENDA_TEST_BOOL", false))

	t.Setenv("AGENDA_TEST_DURATION", "90s")
	d, err := Duration("AGENDA_TEST_DURATION", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestLocation(t *testing.T) {
	t.Setenv("AGENDA_TEST_TZ", "UTC")
	loc, err := Location("AGENDA_TEST_TZ")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	t.Setenv("AGENDA_TEST_TZ", "Nowhere/Invalid")
	_, err = Location("AGENDA_TEST_TZ")
	require.Error(t, err)
}
