package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/repository"
)

// Result is the outcome of CheckAndIncrement.
type Result struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	Plan      model.Plan
}

// Snapshot converts the result into the caller-facing usage payload.
func (r Result) Snapshot() model.UsageSnapshot {
	return model.UsageSnapshot{Count: r.Count, Limit: r.Limit, Remaining: r.Remaining, Plan: r.Plan}
}

// Limiter applies plan quota rules. Free plans have a lifetime ceiling;
// pro plans have a daily ceiling that rolls over at UTC midnight.
type Limiter struct {
	store    Store
	defaults map[model.Plan]int
	now      func() time.Time
}

// NewLimiter builds a Limiter. freeLimit and proLimit are used when the
// plan_limits table has no row for a plan.
func NewLimiter(store Store, freeLimit, proLimit int) *Limiter {
	return &Limiter{
		store:    store,
		defaults: map[model.Plan]int{model.PlanFree: freeLimit, model.PlanPro: proLimit},
		now:      time.Now,
	}
}

// Limit returns the request ceiling for plan.
func (l *Limiter) Limit(ctx context.Context, plan model.Plan) (int, error) {
	limit, err := l.store.PlanLimit(ctx, plan)
	if errors.Is(err, repository.ErrNotFound) {
		if d, ok := l.defaults[plan]; ok {
			return d, nil
		}
		return 0, apperror.Policy(fmt.Sprintf("unknown plan %q", plan))
	}
	if err != nil {
		return 0, apperror.Infrastructure(fmt.Errorf("load plan limit: %w", err))
	}
	return limit, nil
}

// effectiveCount is the counter value the next increment starts from.
func (l *Limiter) effectiveCount(cred model.Credential) int {
	if cred.Plan.Daily() && !model.SameDay(cred.LastResetDate, l.now()) {
		return 0
	}
	return cred.UsageCount
}

// Snapshot reports current usage without incrementing.
func (l *Limiter) Snapshot(ctx context.Context, cred model.Credential) (model.UsageSnapshot, error) {
	limit, err := l.Limit(ctx, cred.Plan)
	if err != nil {
		return model.UsageSnapshot{}, err
	}
	count := l.effectiveCount(cred)
	return model.UsageSnapshot{Count: count, Limit: limit, Remaining: remaining(limit, count), Plan: cred.Plan}, nil
}

// CheckAndIncrement denies exhausted callers without touching the store,
// otherwise performs the atomic increment. The store re-checks the limit
// under a row lock, so concurrent requests cannot overshoot it.
func (l *Limiter) CheckAndIncrement(ctx context.Context, cred model.Credential) (Result, error) {
	limit, err := l.Limit(ctx, cred.Plan)
	if err != nil {
		return Result{}, err
	}

	if count := l.effectiveCount(cred); count >= limit {
		return Result{Allowed: false, Count: count, Limit: limit, Remaining: 0, Plan: cred.Plan}, nil
	}

	res, err := l.store.IncrementUsage(ctx, cred.Identity, cred.Plan.Daily(), limit, l.now())
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, apperror.Auth("Invalid API key")
	}
	if err != nil {
		return Result{}, apperror.Infrastructure(fmt.Errorf("increment usage: %w", err))
	}

	return Result{
		Allowed:   res.Allowed,
		Count:     res.Count,
		Limit:     limit,
		Remaining: remaining(limit, res.Count),
		Plan:      cred.Plan,
	}, nil
}

// Enforce runs CheckAndIncrement and turns a denial into a quota error
// carrying the usage snapshot.
func (l *Limiter) Enforce(ctx context.Context, cred model.Credential) (Result, error) {
	res, err := l.CheckAndIncrement(ctx, cred)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, QuotaError(res)
	}
	return res, nil
}

// QuotaError builds the denial message for res.
func QuotaError(res Result) *apperror.Error {
	msg := fmt.Sprintf("Daily limit of %d requests reached. Your quota resets tomorrow (UTC).", res.Limit)
	if !res.Plan.Daily() {
		msg = fmt.Sprintf("Free plan limit of %d requests reached. Upgrade to Pro to continue.", res.Limit)
	}
	return apperror.Quota(msg).WithData(map[string]any{
		"count":     res.Count,
		"limit":     res.Limit,
		"remaining": res.Remaining,
		"plan":      res.Plan,
	})
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
