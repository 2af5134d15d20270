// Package subscription applies payment provider state changes to
// credential records.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/queue"
	"github.com/iliyamo/refactor-gateway/internal/repository"
)

// Key policies applied when an event changes the plan.
const (
	KeyPolicyKeep   = "keep"
	KeyPolicyReset  = "reset"
	KeyPolicyRevoke = "revoke"
)

// Store is the credential persistence the applier needs.
type Store interface {
	GetByIdentity(ctx context.Context, identity string) (model.Credential, error)
	GetByCustomerID(ctx context.Context, customerID string) (model.Credential, error)
	ApplySubscription(ctx context.Context, identity string, u repository.SubscriptionUpdate) error
	ResetUsage(ctx context.Context, identity string, today time.Time) error
	RevokeSecret(ctx context.Context, identity string) error
}

// Applier turns SubscriptionChangedEvents into plan and status updates.
type Applier struct {
	store     Store
	keyPolicy string
	now       func() time.Time
	log       zerolog.Logger
}

func NewApplier(store Store, keyPolicy string, log zerolog.Logger) *Applier {
	switch keyPolicy {
	case KeyPolicyKeep, KeyPolicyReset, KeyPolicyRevoke:
	default:
		keyPolicy = KeyPolicyReset
	}
	return &Applier{store: store, keyPolicy: keyPolicy, now: time.Now, log: log}
}

// PlanFor maps a subscription status to the plan it entitles. Pending
// subscriptions leave the current plan untouched.
func PlanFor(status model.SubscriptionStatus, current model.Plan) model.Plan {
	switch status {
	case model.SubscriptionActive, model.SubscriptionPastDue, model.SubscriptionCancelAtPeriodEnd:
		return model.PlanPro
	case model.SubscriptionCancelled, model.SubscriptionPaused:
		return model.PlanFree
	default:
		return current
	}
}

// Apply persists the event. Events for unknown customers return a
// not-found error; redelivering them cannot succeed. An event older than
// the last one applied to the account is dropped.
func (a *Applier) Apply(ctx context.Context, ev queue.SubscriptionChangedEvent) error {
	cred, err := a.resolve(ctx, ev)
	if err != nil {
		return err
	}

	plan := PlanFor(ev.Status, cred.Plan)
	subID := ev.SubscriptionID
	if subID == "" {
		subID = cred.SubscriptionID
	}
	err = a.store.ApplySubscription(ctx, cred.Identity, repository.SubscriptionUpdate{
		Plan:           plan,
		Status:         ev.Status,
		SubscriptionID: subID,
		OccurredAt:     ev.OccurredAt,
	})
	log := a.log.With().Str("identity", cred.Identity).Str("event", ev.EventType).
		Str("status", string(ev.Status)).Logger()
	if errors.Is(err, repository.ErrStale) {
		log.Info().Time("occurred_at", ev.OccurredAt).Msg("older subscription event ignored")
		return nil
	}
	if err != nil {
		return apperror.Infrastructure(fmt.Errorf("apply subscription: %w", err))
	}

	if plan == cred.Plan {
		log.Info().Msg("subscription status updated")
		return nil
	}

	switch a.keyPolicy {
	case KeyPolicyReset:
		err = a.store.ResetUsage(ctx, cred.Identity, a.now())
	case KeyPolicyRevoke:
		err = a.store.RevokeSecret(ctx, cred.Identity)
		if errors.Is(err, repository.ErrNotFound) {
			err = nil
		}
		if err == nil {
			err = a.store.ResetUsage(ctx, cred.Identity, a.now())
		}
	}
	if err != nil {
		return apperror.Infrastructure(fmt.Errorf("apply key policy %s: %w", a.keyPolicy, err))
	}

	log.Info().Str("from", string(cred.Plan)).Str("to", string(plan)).Str("key_policy", a.keyPolicy).Msg("plan changed")
	return nil
}

func (a *Applier) resolve(ctx context.Context, ev queue.SubscriptionChangedEvent) (model.Credential, error) {
	var (
		cred model.Credential
		err  error
	)
	if ev.Identity != "" {
		cred, err = a.store.GetByIdentity(ctx, ev.Identity)
	}
	if ev.Identity == "" || (errors.Is(err, repository.ErrNotFound) && ev.CustomerID != "") {
		cred, err = a.store.GetByCustomerID(ctx, ev.CustomerID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return cred, apperror.NotFound(fmt.Sprintf("no account for customer %q", ev.CustomerID))
	}
	if err != nil {
		return cred, apperror.Infrastructure(fmt.Errorf("resolve subscription owner: %w", err))
	}
	return cred, nil
}
