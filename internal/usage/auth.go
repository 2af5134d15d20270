package usage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/utils"
)

// Authenticator resolves a plaintext API secret to its credential record.
type Authenticator struct {
	store Store
	cache *AuthCache
	log   zerolog.Logger
}

// NewAuthenticator builds an Authenticator; cache may be nil.
func NewAuthenticator(store Store, cache *AuthCache, log zerolog.Logger) *Authenticator {
	return &Authenticator{store: store, cache: cache, log: log}
}

// Authenticate scans every credential holding a secret and bcrypt-verifies
// each one. Hashes are salted, so there is no index by plaintext; the scan
// is O(n). A fingerprint cache hit checks the cached record first.
func (a *Authenticator) Authenticate(ctx context.Context, plaintext string) (model.Credential, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return model.Credential{}, apperror.Auth("API key is required")
	}
	fp := utils.Fingerprint(plaintext)

	if id, ok := a.cache.Lookup(ctx, fp); ok {
		cred, err := a.store.GetByIdentity(ctx, id)
		if err == nil && utils.VerifySecret(cred.SecretHash, plaintext) {
			return cred, nil
		}
		a.cache.Forget(ctx, fp)
	}

	creds, err := a.store.ListWithSecrets(ctx)
	if err != nil {
		return model.Credential{}, apperror.Infrastructure(fmt.Errorf("list credentials: %w", err))
	}
	for _, cred := range creds {
		if utils.VerifySecret(cred.SecretHash, plaintext) {
			a.cache.Remember(ctx, fp, cred.Identity)
			return cred, nil
		}
	}
	a.log.Debug().Int("scanned", len(creds)).Msg("api key did not match any credential")
	return model.Credential{}, apperror.Auth("Invalid API key")
}
