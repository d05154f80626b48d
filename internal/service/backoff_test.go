package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayTable(t *testing.T) {
	b := NewBackoff(nil)

	assert.Equal(t, time.Minute, b.Delay(1))
	assert.Equal(t, 5*time.Minute, b.Delay(2))
	assert.Equal(t, 15*time.Minute, b.Delay(3))

	// Past the table the last delay repeats
	assert.Equal(t, 15*time.Minute, b.Delay(4))
	assert.Equal(t, 15*time.Minute, b.Delay(10))
}

func TestBackoffDelayClampsLowRetry(t *testing.T) {
	b := NewBackoff([]time.Duration{30 * time.Second})
	assert.Equal(t, 30*time.Second, b.Delay(0))
	assert.Equal(t, 30*time.Second, b.Delay(-1))
}

func TestParseBackoff(t *testing.T) {
	b, err := ParseBackoff([]string{"1m", "5m", "15m"})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, b.Delay(1))
	assert.Equal(t, 15*time.Minute, b.Delay(3))

	_, err = ParseBackoff([]string{"not-a-duration"})
	assert.Error(t, err)

	// Empty falls back to defaults
	b, err = ParseBackoff(nil)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, b.Delay(1))
}
