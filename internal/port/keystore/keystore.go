// Package keystore defines the port for API key persistence used by the
// control-plane daemon.
package keystore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("api key not found")

// Key is one issued API key. Only the bcrypt hash of the secret is stored.
type Key struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Store persists issued API keys.
type Store interface {
	CreateKey(ctx context.Context, k *Key) error
	GetKey(ctx context.Context, id string) (*Key, error)
	ListKeys(ctx context.Context) ([]Key, error)
	RevokeKey(ctx context.Context, id string) error
}
