package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/peerjakobsen/agentify-release/internal/port/keystore"
)

// ErrInvalidKey covers every verification failure: malformed token, unknown
// id, revoked key, or wrong secret. Callers cannot tell these apart.
var ErrInvalidKey = errors.New("invalid api key")

// KeyService issues and verifies the daemon's API keys. A token is
// "<id>.<secret>"; only the bcrypt hash of the secret is stored.
type KeyService struct {
	store  keystore.Store
	logger *slog.Logger
}

// NewKeyService creates the key service.
func NewKeyService(store keystore.Store, logger *slog.Logger) *KeyService {
	return &KeyService{store: store, logger: logger}
}

// CreateKey mints a key for the given secret and returns it with the full
// token. The secret is never stored; the token is the only time it appears.
func (k *KeyService) CreateKey(ctx context.Context, name, secret string) (*keystore.Key, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", errors.New("key name is required")
	}
	if len(secret) < 8 {
		return nil, "", errors.New("secret must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash secret: %w", err)
	}

	key := &keystore.Key{
		ID:         "ak_" + uuid.NewString()[:8],
		Name:       name,
		SecretHash: string(hash),
		CreatedAt:  time.Now().UTC(),
	}
	if err := k.store.CreateKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("store api key: %w", err)
	}

	k.logger.Info("api key created", "id", key.ID, "name", name)
	return key, key.ID + "." + secret, nil
}

// VerifyToken checks a bearer token. Unknown ids, revoked keys, and wrong
// secrets all return ErrInvalidKey.
func (k *KeyService) VerifyToken(ctx context.Context, token string) error {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return ErrInvalidKey
	}

	key, err := k.store.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return ErrInvalidKey
		}
		return fmt.Errorf("load api key: %w", err)
	}
	if key.RevokedAt != nil {
		return ErrInvalidKey
	}
	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return ErrInvalidKey
	}
	return nil
}

// ListKeys returns all issued keys, oldest first.
func (k *KeyService) ListKeys(ctx context.Context) ([]keystore.Key, error) {
	keys, err := k.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeKey revokes by id. Already-revoked and unknown ids report
// keystore.ErrNotFound.
func (k *KeyService) RevokeKey(ctx context.Context, id string) error {
	if err := k.store.RevokeKey(ctx, id); err != nil {
		return err
	}
	k.logger.Info("api key revoked", "id", id)
	return nil
}
