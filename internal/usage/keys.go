package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/repository"
	"github.com/iliyamo/refactor-gateway/internal/utils"
)

// Keys issues and revokes API secrets.
type Keys struct {
	store KeyStore
	cost  int
	now   func() time.Time
}

func NewKeys(store KeyStore, bcryptCost int) *Keys {
	return &Keys{store: store, cost: bcryptCost, now: time.Now}
}

// Issue creates the identity's record if needed and replaces its secret.
// The plaintext is returned once and never stored.
func (k *Keys) Issue(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", apperror.Validation("identity is required")
	}
	if err := k.store.EnsureIdentity(ctx, identity, k.now()); err != nil {
		return "", apperror.Infrastructure(fmt.Errorf("ensure identity: %w", err))
	}
	plain, err := utils.NewAPIKey()
	if err != nil {
		return "", apperror.Infrastructure(fmt.Errorf("generate key: %w", err))
	}
	hash, err := utils.HashSecret(plain, k.cost)
	if err != nil {
		return "", apperror.Infrastructure(fmt.Errorf("hash key: %w", err))
	}
	if err := k.store.SetSecretHash(ctx, identity, hash); err != nil {
		return "", apperror.Infrastructure(fmt.Errorf("store key: %w", err))
	}
	return plain, nil
}

// Revoke clears the identity's secret; the record and counters stay.
func (k *Keys) Revoke(ctx context.Context, identity string) error {
	err := k.store.RevokeSecret(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NotFound("no API key exists for this account")
	}
	if err != nil {
		return apperror.Infrastructure(fmt.Errorf("revoke key: %w", err))
	}
	return nil
}
