// Package usage authenticates API secrets and meters requests against plan
// limits. All counter mutation goes through Store.IncrementUsage, which the
// MySQL store implements as a single stored-procedure transaction.
package usage

import (
	"context"
	"time"

	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/repository"
)

// Store is the credential persistence the usage package depends on.
// *repository.CredentialRepo satisfies it.
type Store interface {
	ListWithSecrets(ctx context.Context) ([]model.Credential, error)
	GetByIdentity(ctx context.Context, identity string) (model.Credential, error)
	IncrementUsage(ctx context.Context, identity string, daily bool, limit int, today time.Time) (repository.IncrementResult, error)
	PlanLimit(ctx context.Context, plan model.Plan) (int, error)
}

// KeyStore is the persistence needed to issue and revoke secrets.
type KeyStore interface {
	EnsureIdentity(ctx context.Context, identity string, today time.Time) error
	SetSecretHash(ctx context.Context, identity, hash string) error
	RevokeSecret(ctx context.Context, identity string) error
}
