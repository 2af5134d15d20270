package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/refactor-gateway/internal/model"
)

const credentialColumns = `identity, secret_hash, plan, usage_count, last_reset_date,
	subscription_status, subscription_id, stripe_customer_id, created_at, updated_at`

// IncrementResult is the outcome of the increment_usage stored procedure.
type IncrementResult struct {
	Allowed       bool
	Count         int
	LastResetDate time.Time
}

// SubscriptionUpdate is the subset of subscription state written by the
// webhook pipeline. A zero OccurredAt writes unconditionally and leaves
// the stored event time untouched.
type SubscriptionUpdate struct {
	Plan           model.Plan
	Status         model.SubscriptionStatus
	SubscriptionID string
	OccurredAt     time.Time
}

// CredentialRepo persists credential records and plan limits.
type CredentialRepo struct{ DB *sql.DB }

func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{DB: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(s rowScanner) (model.Credential, error) {
	var (
		c      model.Credential
		plan   string
		status string
	)
	err := s.Scan(&c.Identity, &c.SecretHash, &plan, &c.UsageCount, &c.LastResetDate,
		&status, &c.SubscriptionID, &c.StripeCustomerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Credential{}, err
	}
	c.Plan = model.Plan(plan)
	c.SubscriptionStatus = model.SubscriptionStatus(status)
	return c, nil
}

// ListWithSecrets returns every credential with a non-empty secret hash.
// Authentication scans this list because bcrypt hashes cannot be indexed
// by plaintext.
func (r *CredentialRepo) ListWithSecrets(ctx context.Context) ([]model.Credential, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE secret_hash <> ''")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByIdentity fetches one credential.
func (r *CredentialRepo) GetByIdentity(ctx context.Context, identity string) (model.Credential, error) {
	c, err := scanCredential(r.DB.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE identity=? LIMIT 1", identity))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, ErrNotFound
	}
	return c, err
}

// GetByCustomerID fetches the credential linked to a payment customer.
func (r *CredentialRepo) GetByCustomerID(ctx context.Context, customerID string) (model.Credential, error) {
	if customerID == "" {
		return model.Credential{}, ErrNotFound
	}
	c, err := scanCredential(r.DB.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE stripe_customer_id=? LIMIT 1", customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, ErrNotFound
	}
	return c, err
}

// EnsureIdentity inserts a free-plan record for identity if none exists.
func (r *CredentialRepo) EnsureIdentity(ctx context.Context, identity string, today time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO credentials (identity, plan, usage_count, last_reset_date) VALUES (?,?,0,?)",
		identity, string(model.PlanFree), model.Today(today))
	return err
}

// SetSecretHash stores a freshly issued secret hash.
func (r *CredentialRepo) SetSecretHash(ctx context.Context, identity, hash string) error {
	return r.execOne(ctx, "UPDATE credentials SET secret_hash=? WHERE identity=?", hash, identity)
}

// RevokeSecret clears the secret hash while keeping the record.
func (r *CredentialRepo) RevokeSecret(ctx context.Context, identity string) error {
	return r.execOne(ctx, "UPDATE credentials SET secret_hash='' WHERE identity=?", identity)
}

// ResetUsage zeroes the counter and stamps today's date.
func (r *CredentialRepo) ResetUsage(ctx context.Context, identity string, today time.Time) error {
	return r.execOne(ctx, "UPDATE credentials SET usage_count=0, last_reset_date=? WHERE identity=?",
		model.Today(today), identity)
}

// SetStripeCustomer links a payment customer to identity.
func (r *CredentialRepo) SetStripeCustomer(ctx context.Context, identity, customerID string) error {
	return r.execOne(ctx, "UPDATE credentials SET stripe_customer_id=? WHERE identity=?", customerID, identity)
}

// ApplySubscription writes plan, status and subscription id in one statement.
// A dated update only lands when it is not older than the last dated update
// on the row; otherwise ErrStale is returned and nothing changes.
func (r *CredentialRepo) ApplySubscription(ctx context.Context, identity string, u SubscriptionUpdate) error {
	if u.OccurredAt.IsZero() {
		return r.execOne(ctx,
			"UPDATE credentials SET plan=?, subscription_status=?, subscription_id=? WHERE identity=?",
			string(u.Plan), string(u.Status), u.SubscriptionID, identity)
	}

	at := u.OccurredAt.UTC()
	res, err := r.DB.ExecContext(ctx,
		"UPDATE credentials SET plan=?, subscription_status=?, subscription_id=?, subscription_event_at=? "+
			"WHERE identity=? AND (subscription_event_at IS NULL OR subscription_event_at <= ?)",
		string(u.Plan), string(u.Status), u.SubscriptionID, at, identity, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var last sql.NullTime
	err = r.DB.QueryRowContext(ctx,
		"SELECT subscription_event_at FROM credentials WHERE identity=? LIMIT 1", identity).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	case last.Valid && last.Time.After(at):
		return ErrStale
	}
	return nil
}

// IncrementUsage calls the increment_usage stored procedure, which locks
// the row, applies the daily rollover, and increments only while the count
// is below limit. The whole sequence is one transaction inside MySQL.
func (r *CredentialRepo) IncrementUsage(ctx context.Context, identity string, daily bool, limit int, today time.Time) (IncrementResult, error) {
	var (
		res   IncrementResult
		count int
	)
	err := r.DB.QueryRowContext(ctx, "CALL increment_usage(?, ?, ?, ?)",
		identity, daily, limit, model.Today(today)).Scan(&res.Allowed, &count, &res.LastResetDate)
	if err != nil {
		return IncrementResult{}, err
	}
	if count < 0 {
		return IncrementResult{}, ErrNotFound
	}
	res.Count = count
	return res, nil
}

// PlanLimit returns the request ceiling configured for plan.
func (r *CredentialRepo) PlanLimit(ctx context.Context, plan model.Plan) (int, error) {
	var limit int
	err := r.DB.QueryRowContext(ctx,
		"SELECT request_limit FROM plan_limits WHERE plan=? LIMIT 1", string(plan)).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return limit, err
}

// SetPlanLimit creates or replaces the ceiling for plan.
func (r *CredentialRepo) SetPlanLimit(ctx context.Context, plan model.Plan, limit int) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO plan_limits (plan, request_limit) VALUES (?,?) ON DUPLICATE KEY UPDATE request_limit=VALUES(request_limit)",
		string(plan), limit)
	return err
}

func (r *CredentialRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.existsOrNotFound(ctx, args[len(args)-1])
	}
	return nil
}

// existsOrNotFound distinguishes "row unchanged" from "row missing": MySQL
// reports zero affected rows when an UPDATE writes identical values.
func (r *CredentialRepo) existsOrNotFound(ctx context.Context, identity any) error {
	var one int
	err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM credentials WHERE identity=? LIMIT 1", identity).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
