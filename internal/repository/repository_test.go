package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProject(t *testing.T, db *sqlx.DB, id, owner, hash string) model.Project {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := model.Project{
		ID:           id,
		OwnerID:      owner,
		Name:         "shop " + id,
		APIKeyHash:   hash,
		APIKeyPrefix: hash[:4],
		Status:       model.ProjectActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, NewProjectsRepository(db).Insert(context.Background(), nil, p))
	return p
}

func provider(id, projectID, name string, primary bool, priority int, at time.Time) model.ProviderConfig {
	return model.ProviderConfig{
		ID:           id,
		ProjectID:    projectID,
		ProviderName: name,
		Credentials:  []byte("sealed-" + name),
		IsPrimary:    primary,
		Priority:     priority,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestProjects_InsertAndLookup(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	repo := NewProjectsRepository(db)

	seedProject(t, db, "p1", "owner-1", "hash-aaaa")

	got, err := repo.GetByAPIKeyHash(ctx, "hash-aaaa")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, model.ProjectActive, got.Status)

	exists, err := repo.APIKeyHashExists(ctx, "hash-aaaa")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.APIKeyHashExists(ctx, "hash-bbbb")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.GetByAPIKeyHash(ctx, "hash-bbbb")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestProjects_DuplicateKeyHash(t *testing.T) {
	db := testutil.SQLite(t)
	seedProject(t, db, "p1", "owner-1", "hash-same")

	now := time.Now().UTC()
	err := NewProjectsRepository(db).Insert(context.Background(), nil, model.Project{
		ID: "p2", OwnerID: "owner-2", Name: "other", APIKeyHash: "hash-same", APIKeyPrefix: "hash",
		Status: model.ProjectActive, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, model.ErrDuplicateKey)
}

func TestProjects_ListByOwnerAndStatus(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	repo := NewProjectsRepository(db)

	seedProject(t, db, "p1", "owner-1", "hash-1111")
	seedProject(t, db, "p2", "owner-2", "hash-2222")

	list, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)

	require.NoError(t, repo.UpdateStatus(ctx, "p1", model.ProjectSuspended))
	got, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectSuspended, got.Status)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", model.ProjectActive), model.ErrNotFound)
}

func TestProjects_DeleteCascades(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	p := seedProject(t, db, "p1", "owner-1", "hash-1111")

	providers := NewProvidersRepository(db)
	require.NoError(t, providers.Insert(ctx, nil, provider("v1", p.ID, "stripe", true, 0, p.CreatedAt)))
	require.NoError(t, NewPaymentsRepository(db).InsertQueued(ctx, nil, model.Payment{ID: "pay1", ProjectID: p.ID, Amount: 100, Reference: "r"}))

	require.NoError(t, NewProjectsRepository(db).Delete(ctx, nil, p.ID))

	list, err := providers.ListByProject(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = NewPaymentsRepository(db).Get(ctx, p.ID, "pay1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.ErrorIs(t, NewProjectsRepository(db).Delete(ctx, nil, p.ID), model.ErrNotFound)
}

func TestProviders_ListInRoutingOrder(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	p := seedProject(t, db, "p1", "owner-1", "hash-1111")
	repo := NewProvidersRepository(db)

	base := p.CreatedAt
	require.NoError(t, repo.Insert(ctx, nil, provider("a", p.ID, "A", false, 2, base)))
	require.NoError(t, repo.Insert(ctx, nil, provider("b", p.ID, "B", true, 5, base.Add(time.Millisecond))))
	require.NoError(t, repo.Insert(ctx, nil, provider("c", p.ID, "C", false, 1, base.Add(2*time.Millisecond))))

	list, err := repo.ListByProject(ctx, nil, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "B", list[0].ProviderName)
	assert.Equal(t, "C", list[1].ProviderName)
	assert.Equal(t, "A", list[2].ProviderName)
	assert.True(t, list[0].IsPrimary)
	assert.Equal(t, []byte("sealed-B"), list[0].Credentials)
}

func TestProviders_DuplicateNameScopedToProject(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	p1 := seedProject(t, db, "p1", "owner-1", "hash-1111")
	p2 := seedProject(t, db, "p2", "owner-1", "hash-2222")
	repo := NewProvidersRepository(db)

	require.NoError(t, repo.Insert(ctx, nil, provider("v1", p1.ID, "stripe", false, 0, p1.CreatedAt)))
	err := repo.Insert(ctx, nil, provider("v2", p1.ID, "stripe", false, 1, p1.CreatedAt))
	assert.ErrorIs(t, err, model.ErrDuplicateProviderName)

	require.NoError(t, repo.Insert(ctx, nil, provider("v3", p2.ID, "stripe", false, 0, p2.CreatedAt)))
}

func TestProviders_DemotePrimaryAndScopedDelete(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	p1 := seedProject(t, db, "p1", "owner-1", "hash-1111")
	p2 := seedProject(t, db, "p2", "owner-1", "hash-2222")
	repo := NewProvidersRepository(db)

	require.NoError(t, repo.Insert(ctx, nil, provider("v1", p1.ID, "stripe", true, 0, p1.CreatedAt)))
	require.NoError(t, repo.Insert(ctx, nil, provider("v2", p1.ID, "adyen", true, 0, p1.CreatedAt.Add(time.Millisecond))))

	n, err := repo.DemotePrimary(ctx, nil, p1.ID, "v2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	v1, err := repo.Get(ctx, nil, p1.ID, "v1")
	require.NoError(t, err)
	assert.False(t, v1.IsPrimary)

	assert.ErrorIs(t, repo.Delete(ctx, nil, p2.ID, "v1"), model.ErrNotFound)
	require.NoError(t, repo.Delete(ctx, nil, p1.ID, "v1"))
	_, err = repo.Get(ctx, nil, p1.ID, "v1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCredentials_PutGet(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	p := seedProject(t, db, "p1", "owner-1", "hash-1111")
	require.NoError(t, NewProvidersRepository(db).Insert(ctx, nil, provider("v1", p.ID, "stripe", true, 0, p.CreatedAt)))

	repo := NewCredentialsRepository(db)
	require.NoError(t, repo.Put(ctx, nil, p.ID, "stripe", []byte("rotated")))

	got, err := repo.Get(ctx, p.ID, "stripe")
	require.NoError(t, err)
	assert.Equal(t, []byte("rotated"), got)

	_, err = repo.Get(ctx, p.ID, "adyen")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, repo.Put(ctx, nil, p.ID, "adyen", []byte("x")), model.ErrNotFound)
}

func TestPayments_ClaimThenSettleOnce(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	p := seedProject(t, db, "p1", "owner-1", "hash-1111")
	repo := NewPaymentsRepository(db)

	require.NoError(t, repo.InsertQueued(ctx, nil, model.Payment{ID: "pay1", ProjectID: p.ID, Amount: 1500, Reference: "order-1"}))

	got, err := repo.Get(ctx, p.ID, "pay1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentQueued, got.Status)

	// an unclaimed payment cannot be settled
	assert.ErrorIs(t, repo.UpdateResult(ctx, "pay1", model.PaymentSucceeded, "stripe", 1), model.ErrNotFound)

	require.NoError(t, repo.Claim(ctx, "pay1"))
	assert.ErrorIs(t, repo.Claim(ctx, "pay1"), model.ErrNotFound)

	// handing the claim back makes it claimable again
	require.NoError(t, repo.UpdateResult(ctx, "pay1", model.PaymentQueued, "", 0))
	require.NoError(t, repo.Claim(ctx, "pay1"))

	require.NoError(t, repo.UpdateResult(ctx, "pay1", model.PaymentSucceeded, "stripe", 2))
	assert.ErrorIs(t, repo.UpdateResult(ctx, "pay1", model.PaymentFailed, "", 3), model.ErrNotFound)
	assert.ErrorIs(t, repo.Claim(ctx, "pay1"), model.ErrNotFound)

	got, err = repo.Get(ctx, p.ID, "pay1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, got.Status)
	assert.Equal(t, "stripe", got.ProviderName)
	assert.Equal(t, 2, got.Attempts)

	_, err = repo.Get(ctx, "other-project", "pay1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestOutbox_InsertInCallerTx(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	repo := NewOutboxRepository(db)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, tx, "payment", "pay1", "payments.intents", []byte(`{"payment_id":"pay1"}`)))
	require.NoError(t, tx.Rollback())

	events, err := repo.ListByAggregate(ctx, "payment", "pay1")
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, repo.Insert(ctx, nil, "payment", "pay1", "payments.intents", []byte(`{"payment_id":"pay1"}`)))
	events, err = repo.ListByAggregate(ctx, "payment", "pay1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "payments.intents", events[0].Topic)
}

func TestLockClause(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", lockClause("mysql"))
	assert.Equal(t, "", lockClause("sqlite"))
}
