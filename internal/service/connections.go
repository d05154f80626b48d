package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/inmopost/inmopost/internal/models"
)

// Connection errors are configuration problems requiring human
// reconnection, never retries. The messages are persisted verbatim into
// the job's error_log and shown to operators.
var (
	ErrNotConfigured = errors.New("No hay conexión activa con Meta para esta agencia")
	ErrTokenExpired  = errors.New("Token de Meta expirado. Por favor reconecta tu cuenta.")
)

// ConnectionResolver returns the active credential bundle for an agency
// and provider, or one of the configuration errors above.
type ConnectionResolver interface {
	Resolve(ctx context.Context, agencyID string, provider models.Provider) (*models.MetaConnection, error)
}

type Resolver struct {
	db *gorm.DB
}

func NewConnectionResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve expects at most one active row per (agency, provider). Token
// refresh is handled by the reconnection flow, not here.
func (r *Resolver) Resolve(ctx context.Context, agencyID string, provider models.Provider) (*models.MetaConnection, error) {
	var conn models.MetaConnection
	err := r.db.WithContext(ctx).
		Where("agency_id = ? AND provider = ? AND is_active = ?", agencyID, provider, true).
		First(&conn).Error
	if err != nil {
		return nil, ErrNotConfigured
	}

	if err := ValidateConnection(&conn, time.Now()); err != nil {
		return nil, err
	}
	return &conn, nil
}

// ValidateConnection reports ErrTokenExpired when the connection's token
// expiry lies in the past.
func ValidateConnection(conn *models.MetaConnection, now time.Time) error {
	if conn.TokenExpiresAt != nil && conn.TokenExpiresAt.Before(now) {
		return ErrTokenExpired
	}
	return nil
}

// IsConfigurationError reports whether err belongs to the connection
// error taxonomy. Configuration errors are terminal and never consume a
// retry.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrTokenExpired)
}
