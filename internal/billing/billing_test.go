package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/repository"
)

type fakeGateway struct {
	customers     int
	subscriptions []string
	cancelled     []string
	err           error
}

func (g *fakeGateway) CreateCustomer(_ context.Context, identity string) (string, error) {
	g.customers++
	return "cus_" + identity, g.err
}

func (g *fakeGateway) CreateSubscription(_ context.Context, customerID, priceID, identity, key string) (Subscription, error) {
	if g.err != nil {
		return Subscription{}, g.err
	}
	g.subscriptions = append(g.subscriptions, customerID+"|"+priceID+"|"+identity)
	return Subscription{ID: "sub_1", Status: "incomplete", ClientSecret: "pi_secret"}, nil
}

func (g *fakeGateway) CancelAtPeriodEnd(_ context.Context, id string) (string, error) {
	g.cancelled = append(g.cancelled, id)
	return "active", g.err
}

type fakeStore struct {
	creds   map[string]model.Credential
	updates []repository.SubscriptionUpdate
}

func (s *fakeStore) GetByIdentity(_ context.Context, id string) (model.Credential, error) {
	c, ok := s.creds[id]
	if !ok {
		return c, repository.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) SetStripeCustomer(_ context.Context, id, customerID string) error {
	c := s.creds[id]
	c.StripeCustomerID = customerID
	s.creds[id] = c
	return nil
}

func (s *fakeStore) ApplySubscription(_ context.Context, id string, u repository.SubscriptionUpdate) error {
	s.updates = append(s.updates, u)
	c := s.creds[id]
	c.Plan, c.SubscriptionStatus, c.SubscriptionID = u.Plan, u.Status, u.SubscriptionID
	s.creds[id] = c
	return nil
}

func TestCreateSubscription(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{creds: map[string]model.Credential{"alice": {Identity: "alice", Plan: model.PlanFree}}}
	svc := NewService(gw, store, "price_pro", zerolog.Nop())

	out, err := svc.CreateSubscription(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, Checkout{SubscriptionID: "sub_1", ClientSecret: "pi_secret", Status: "incomplete"}, out)
	assert.Equal(t, []string{"cus_alice|price_pro|alice"}, gw.subscriptions)

	cred := store.creds["alice"]
	assert.Equal(t, "cus_alice", cred.StripeCustomerID)
	assert.Equal(t, model.PlanFree, cred.Plan, "plan only changes on webhook confirmation")
	assert.Equal(t, model.SubscriptionPending, cred.SubscriptionStatus)

	_, err = svc.CreateSubscription(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, gw.customers, "existing customer is reused")
}

func TestCreateSubscriptionErrors(t *testing.T) {
	store := &fakeStore{creds: map[string]model.Credential{
		"pro": {Identity: "pro", Plan: model.PlanPro, SubscriptionStatus: model.SubscriptionActive},
	}}
	svc := NewService(&fakeGateway{}, store, "price_pro", zerolog.Nop())

	_, err := svc.CreateSubscription(context.Background(), "ghost")
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	_, err = svc.CreateSubscription(context.Background(), "pro")
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	store.creds["bob"] = model.Credential{Identity: "bob", Plan: model.PlanFree}
	svc = NewService(&fakeGateway{err: errors.New("card_declined")}, store, "price_pro", zerolog.Nop())
	_, err = svc.CreateSubscription(context.Background(), "bob")
	assert.True(t, apperror.IsKind(err, apperror.KindUpstreamFatal))
}

func TestCancelSubscription(t *testing.T) {
	gw := &fakeGateway{}
	store := &fakeStore{creds: map[string]model.Credential{
		"alice": {Identity: "alice", Plan: model.PlanPro, SubscriptionID: "sub_9", SubscriptionStatus: model.SubscriptionActive},
		"bob":   {Identity: "bob", Plan: model.PlanFree},
	}}
	svc := NewService(gw, store, "price_pro", zerolog.Nop())

	status, err := svc.CancelSubscription(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelAtPeriodEnd, status)
	assert.Equal(t, []string{"sub_9"}, gw.cancelled)
	assert.Equal(t, model.PlanPro, store.creds["alice"].Plan)

	_, err = svc.CancelSubscription(context.Background(), "bob")
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func signed(t *testing.T, secret, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestParseSubscriptionUpdated(t *testing.T) {
	p := NewWebhookParser("whsec_test")
	payload := `{"id":"evt_1","object":"event","type":"customer.subscription.updated","created":1760000000,
		"data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active",
		"cancel_at_period_end":true,"metadata":{"identity":"alice"}}}}`
	header, body := signed(t, "whsec_test", payload)

	ev, ok, err := p.Parse(body, header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, "alice", ev.Identity)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, model.SubscriptionCancelAtPeriodEnd, ev.Status)
}

func TestParseSubscriptionDeleted(t *testing.T) {
	p := NewWebhookParser("whsec_test")
	payload := `{"id":"evt_2","object":"event","type":"customer.subscription.deleted",
		"data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active"}}}`
	header, body := signed(t, "whsec_test", payload)

	ev, ok, err := p.Parse(body, header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SubscriptionCancelled, ev.Status)
}

func TestParseInvoicePaymentFailed(t *testing.T) {
	p := NewWebhookParser("whsec_test")
	payload := `{"id":"evt_3","object":"event","type":"invoice.payment_failed",
		"data":{"object":{"id":"in_1","object":"invoice","customer":"cus_7","subscription":"sub_7"}}}`
	header, body := signed(t, "whsec_test", payload)

	ev, ok, err := p.Parse(body, header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cus_7", ev.CustomerID)
	assert.Equal(t, "sub_7", ev.SubscriptionID)
	assert.Equal(t, model.SubscriptionPastDue, ev.Status)
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	p := NewWebhookParser("whsec_test")
	header, body := signed(t, "whsec_test", `{"id":"evt_4","object":"event","type":"charge.succeeded","data":{"object":{}}}`)

	_, ok, err := p.Parse(body, header)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseRejectsBadSignature(t *testing.T) {
	p := NewWebhookParser("whsec_test")
	header, body := signed(t, "whsec_other", `{"id":"evt_5","object":"event","type":"customer.subscription.updated","data":{"object":{}}}`)

	_, _, err := p.Parse(body, header)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, _, err = NewWebhookParser("").Parse(body, header)
	assert.True(t, apperror.IsKind(err, apperror.KindInfrastructure))
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		in     stripe.SubscriptionStatus
		cancel bool
		want   model.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusActive, false, model.SubscriptionActive},
		{stripe.SubscriptionStatusTrialing, true, model.SubscriptionCancelAtPeriodEnd},
		{stripe.SubscriptionStatusUnpaid, false, model.SubscriptionPastDue},
		{stripe.SubscriptionStatusCanceled, false, model.SubscriptionCancelled},
		{stripe.SubscriptionStatusPaused, false, model.SubscriptionPaused},
		{stripe.SubscriptionStatusIncomplete, false, model.SubscriptionPending},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MapStatus(c.in, c.cancel), fmt.Sprintf("%s/%v", c.in, c.cancel))
	}
}
