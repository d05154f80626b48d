package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/inmopost/inmopost/internal/models"
)

func TestValidateConnection(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no expiry is valid", func(t *testing.T) {
		conn := &models.MetaConnection{IsActive: true}
		assert.NoError(t, ValidateConnection(conn, now))
	})

	t.Run("future expiry is valid", func(t *testing.T) {
		expires := now.Add(time.Hour)
		conn := &models.MetaConnection{IsActive: true, TokenExpiresAt: &expires}
		assert.NoError(t, ValidateConnection(conn, now))
	})

	t.Run("past expiry is expired", func(t *testing.T) {
		expires := now.Add(-time.Minute)
		conn := &models.MetaConnection{IsActive: true, TokenExpiresAt: &expires}
		assert.ErrorIs(t, ValidateConnection(conn, now), ErrTokenExpired)
	})
}

func TestIsConfigurationError(t *testing.T) {
	assert.True(t, IsConfigurationError(ErrNotConfigured))
	assert.True(t, IsConfigurationError(ErrTokenExpired))
	assert.False(t, IsConfigurationError(errors.New("Meta API Error 1: unknown")))
	assert.False(t, IsConfigurationError(nil))
}
