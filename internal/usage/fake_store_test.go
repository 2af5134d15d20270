package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/repository"
)

// memStore emulates the increment_usage procedure with a mutex standing in
// for the row lock.
type memStore struct {
	mu         sync.Mutex
	creds      map[string]*model.Credential
	limits     map[model.Plan]int
	increments int
	listErr    error
	listCalls  int
}

func newMemStore(creds ...model.Credential) *memStore {
	s := &memStore{creds: map[string]*model.Credential{}, limits: map[model.Plan]int{}}
	for i := range creds {
		c := creds[i]
		s.creds[c.Identity] = &c
	}
	return s
}

func (s *memStore) ListWithSecrets(_ context.Context) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []model.Credential
	for _, c := range s.creds {
		if c.SecretHash != "" {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) GetByIdentity(_ context.Context, identity string) (model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[identity]
	if !ok {
		return model.Credential{}, repository.ErrNotFound
	}
	return *c, nil
}

func (s *memStore) IncrementUsage(_ context.Context, identity string, daily bool, limit int, today time.Time) (repository.IncrementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[identity]
	if !ok {
		return repository.IncrementResult{}, repository.ErrNotFound
	}
	if daily && !model.SameDay(c.LastResetDate, today) {
		c.UsageCount = 0
		c.LastResetDate = model.Today(today)
	}
	if c.UsageCount >= limit {
		return repository.IncrementResult{Allowed: false, Count: c.UsageCount, LastResetDate: c.LastResetDate}, nil
	}
	c.UsageCount++
	s.increments++
	return repository.IncrementResult{Allowed: true, Count: c.UsageCount, LastResetDate: c.LastResetDate}, nil
}

func (s *memStore) PlanLimit(_ context.Context, plan model.Plan) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limits[plan]; ok {
		return l, nil
	}
	return 0, repository.ErrNotFound
}

func (s *memStore) EnsureIdentity(_ context.Context, identity string, today time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[identity]; !ok {
		s.creds[identity] = &model.Credential{Identity: identity, Plan: model.PlanFree, LastResetDate: model.Today(today)}
	}
	return nil
}

func (s *memStore) SetSecretHash(_ context.Context, identity, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[identity]
	if !ok {
		return repository.ErrNotFound
	}
	c.SecretHash = hash
	return nil
}

func (s *memStore) RevokeSecret(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[identity]
	if !ok || c.SecretHash == "" {
		return repository.ErrNotFound
	}
	c.SecretHash = ""
	return nil
}

func (s *memStore) get(identity string) model.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.creds[identity]
}

var errStoreDown = errors.New("connection refused")
