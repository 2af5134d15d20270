package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/repository"
)

// Store is the credential persistence billing needs.
type Store interface {
	GetByIdentity(ctx context.Context, identity string) (model.Credential, error)
	SetStripeCustomer(ctx context.Context, identity, customerID string) error
	ApplySubscription(ctx context.Context, identity string, u repository.SubscriptionUpdate) error
}

// Checkout is returned to the client to confirm the first payment.
type Checkout struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientSecret   string `json:"clientSecret"`
	Status         string `json:"status"`
}

// Service manages pro subscriptions. Plan changes themselves only happen
// when the provider's webhook confirms them.
type Service struct {
	gateway Gateway
	store   Store
	priceID string
	log     zerolog.Logger
}

func NewService(gateway Gateway, store Store, priceID string, log zerolog.Logger) *Service {
	return &Service{gateway: gateway, store: store, priceID: priceID, log: log}
}

func (s *Service) credential(ctx context.Context, identity string) (model.Credential, error) {
	cred, err := s.store.GetByIdentity(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		return cred, apperror.NotFound("no account exists for this identity; generate an API key first")
	}
	if err != nil {
		return cred, apperror.Infrastructure(fmt.Errorf("load credential: %w", err))
	}
	return cred, nil
}

// CreateSubscription ensures a provider customer and starts a pro
// subscription in the pending state.
func (s *Service) CreateSubscription(ctx context.Context, identity string) (Checkout, error) {
	if s.priceID == "" {
		return Checkout{}, apperror.Infrastructure(errors.New("pro price id is not configured"))
	}
	cred, err := s.credential(ctx, identity)
	if err != nil {
		return Checkout{}, err
	}
	if cred.Plan == model.PlanPro && cred.SubscriptionStatus == model.SubscriptionActive {
		return Checkout{}, apperror.Validation("an active Pro subscription already exists")
	}

	customerID := cred.StripeCustomerID
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, identity)
		if err != nil {
			return Checkout{}, apperror.UpstreamFatal("failed to prepare billing", err)
		}
		if err := s.store.SetStripeCustomer(ctx, identity, customerID); err != nil {
			return Checkout{}, apperror.Infrastructure(fmt.Errorf("store customer id: %w", err))
		}
	}

	sub, err := s.gateway.CreateSubscription(ctx, customerID, s.priceID, identity, uuid.NewString())
	if err != nil {
		return Checkout{}, apperror.UpstreamFatal("failed to create subscription", err)
	}

	if err := s.store.ApplySubscription(ctx, identity, repository.SubscriptionUpdate{
		Plan:           cred.Plan,
		Status:         model.SubscriptionPending,
		SubscriptionID: sub.ID,
	}); err != nil {
		return Checkout{}, apperror.Infrastructure(fmt.Errorf("record subscription: %w", err))
	}

	s.log.Info().Str("identity", identity).Str("subscription", sub.ID).Msg("subscription created")
	return Checkout{SubscriptionID: sub.ID, ClientSecret: sub.ClientSecret, Status: sub.Status}, nil
}

// CancelSubscription schedules cancellation at period end. The plan stays
// pro until the deletion webhook arrives.
func (s *Service) CancelSubscription(ctx context.Context, identity string) (model.SubscriptionStatus, error) {
	cred, err := s.credential(ctx, identity)
	if err != nil {
		return "", err
	}
	if cred.SubscriptionID == "" || cred.SubscriptionStatus == model.SubscriptionCancelled {
		return "", apperror.NotFound("no active subscription to cancel")
	}

	if _, err := s.gateway.CancelAtPeriodEnd(ctx, cred.SubscriptionID); err != nil {
		return "", apperror.UpstreamFatal("failed to cancel subscription", err)
	}

	if err := s.store.ApplySubscription(ctx, identity, repository.SubscriptionUpdate{
		Plan:           cred.Plan,
		Status:         model.SubscriptionCancelAtPeriodEnd,
		SubscriptionID: cred.SubscriptionID,
	}); err != nil {
		return "", apperror.Infrastructure(fmt.Errorf("record cancellation: %w", err))
	}
	return model.SubscriptionCancelAtPeriodEnd, nil
}
