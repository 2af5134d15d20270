package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/refactor-gateway/internal/model"
)

func newMockRepo(t *testing.T) (*CredentialRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCredentialRepo(db), mock
}

var credentialCols = []string{"identity", "secret_hash", "plan", "usage_count", "last_reset_date",
	"subscription_status", "subscription_id", "stripe_customer_id", "created_at", "updated_at"}

func TestListWithSecrets(t *testing.T) {
	repo, mock := newMockRepo(t)
	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(credentialCols).
		AddRow("alice", "$2a$hash1", "free", 2, day, "", "", "", day, day).
		AddRow("bob", "$2a$hash2", "pro", 40, day, "active", "sub_1", "cus_1", day, day)
	mock.ExpectQuery(regexp.QuoteMeta("FROM credentials WHERE secret_hash <> ''")).WillReturnRows(rows)

	got, err := repo.ListWithSecrets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.PlanFree, got[0].Plan)
	assert.Equal(t, model.PlanPro, got[1].Plan)
	assert.Equal(t, model.SubscriptionActive, got[1].SubscriptionStatus)
	assert.Equal(t, 40, got[1].UsageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIdentityNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM credentials WHERE identity=?")).
		WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByIdentity(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsageCallsProcedure(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)
	today := model.Today(now)
	mock.ExpectQuery(regexp.QuoteMeta("CALL increment_usage(?, ?, ?, ?)")).
		WithArgs("bob", true, 100, today).
		WillReturnRows(sqlmock.NewRows([]string{"allowed", "usage_count", "last_reset_date"}).AddRow(true, 1, today))

	res, err := repo.IncrementUsage(context.Background(), "bob", true, 100, now)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, today, res.LastResetDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementUsageMissingIdentity(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("CALL increment_usage")).
		WillReturnRows(sqlmock.NewRows([]string{"allowed", "usage_count", "last_reset_date"}).AddRow(false, -1, now))

	_, err := repo.IncrementUsage(context.Background(), "ghost", false, 3, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeSecretMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE credentials SET secret_hash='' WHERE identity=?")).
		WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM credentials WHERE identity=?")).
		WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	err := repo.RevokeSecret(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSecretAlreadyRevoked(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE credentials SET secret_hash=''")).
		WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM credentials")).
		WithArgs("alice").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	assert.NoError(t, repo.RevokeSecret(context.Background(), "alice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanLimit(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT request_limit FROM plan_limits WHERE plan=?")).
		WithArgs("pro").WillReturnRows(sqlmock.NewRows([]string{"request_limit"}).AddRow(250))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT request_limit FROM plan_limits WHERE plan=?")).
		WithArgs("free").WillReturnError(sql.ErrNoRows)

	limit, err := repo.PlanLimit(context.Background(), model.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, 250, limit)

	_, err = repo.PlanLimit(context.Background(), model.PlanFree)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplySubscription(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE credentials SET plan=?, subscription_status=?, subscription_id=? WHERE identity=?")).
		WithArgs("pro", "active", "sub_9", "carol").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplySubscription(context.Background(), "carol", SubscriptionUpdate{
		Plan: model.PlanPro, Status: model.SubscriptionActive, SubscriptionID: "sub_9",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySubscriptionDatedUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("subscription_event_at=? WHERE identity=? AND (subscription_event_at IS NULL OR subscription_event_at <= ?)")).
		WithArgs("pro", "active", "sub_9", at, "carol", at).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplySubscription(context.Background(), "carol", SubscriptionUpdate{
		Plan: model.PlanPro, Status: model.SubscriptionActive, SubscriptionID: "sub_9", OccurredAt: at,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySubscriptionOlderEventIsStale(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE credentials SET plan=?")).
		WithArgs("pro", "active", "sub_9", at, "carol", at).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT subscription_event_at FROM credentials WHERE identity=?")).
		WithArgs("carol").WillReturnRows(sqlmock.NewRows([]string{"subscription_event_at"}).AddRow(at.Add(time.Minute)))

	err := repo.ApplySubscription(context.Background(), "carol", SubscriptionUpdate{
		Plan: model.PlanPro, Status: model.SubscriptionActive, SubscriptionID: "sub_9", OccurredAt: at,
	})
	assert.ErrorIs(t, err, ErrStale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySubscriptionDatedUpdateMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE credentials SET plan=?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT subscription_event_at FROM credentials")).
		WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	err := repo.ApplySubscription(context.Background(), "ghost", SubscriptionUpdate{Plan: model.PlanFree, OccurredAt: at})
	assert.ErrorIs(t, err, ErrNotFound)
}
