package project

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/repository"
	"github.com/jmehdipour/payment-aggregator/internal/secret"
	"github.com/jmehdipour/payment-aggregator/internal/service/apikey"
	"github.com/jmehdipour/payment-aggregator/internal/service/credential"
	"github.com/jmehdipour/payment-aggregator/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	mu     sync.Mutex
	hashes []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes = append(r.hashes, hash)
	return nil
}

type fixture struct {
	db    *sqlx.DB
	svc   *Service
	creds *credential.Store
	inval *recordingInvalidator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.SQLite(t)

	sealer, err := secret.NewSealer("project-test-key", "k1")
	require.NoError(t, err)
	projects := repository.NewProjectsRepository(db)
	creds := credential.NewStore(repository.NewCredentialsRepository(db), sealer)
	inval := &recordingInvalidator{}

	svc := New(db, projects, repository.NewProvidersRepository(db), apikey.NewRegistry(projects, 5, nil), creds, nil,
		WithInvalidator(inval),
		WithRequiredCredentials(map[string][]string{"stripe": {"secret_key"}}),
	)
	return fixture{db: db, svc: svc, creds: creds, inval: inval}
}

func (f fixture) project(t *testing.T, owner string) model.Project {
	t.Helper()
	p, _, err := f.svc.CreateProject(context.Background(), owner, CreateProjectInput{Name: "shop"})
	require.NoError(t, err)
	return p
}

func stripeCreds() Credentials { return Credentials{"secret_key": "sk_test_1"} }

func TestCreateProject_ReturnsKeyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, key, err := f.svc.CreateProject(ctx, "owner-1", CreateProjectInput{Name: " shop ", Description: "main store"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(key), 43)
	assert.Equal(t, "shop", p.Name)
	assert.Equal(t, apikey.Hash(key), p.APIKeyHash)
	assert.Equal(t, model.ProjectActive, p.Status)

	stored, err := f.svc.GetProject(ctx, "owner-1", p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, key, stored.APIKeyHash)

	_, _, err = f.svc.CreateProject(ctx, "owner-1", CreateProjectInput{Name: "  "})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestGetProject_OtherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.project(t, "owner-1")

	_, err := f.svc.GetProject(context.Background(), "owner-2", p.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	list, err := f.svc.ListProjects(context.Background(), "owner-2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetStatusAndDelete_InvalidateAuthCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "owner-1")

	got, err := f.svc.SetStatus(ctx, "owner-1", p.ID, model.ProjectSuspended)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectSuspended, got.Status)

	_, err = f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "stripe", Credentials: stripeCreds(), IsPrimary: true})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteProject(ctx, "owner-1", p.ID))
	assert.Equal(t, []string{p.APIKeyHash, p.APIKeyHash}, f.inval.hashes)

	_, err = f.svc.ListProviders(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.svc.GetProject(ctx, "owner-1", p.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAddProvider_OrderingAndPrimaryDemotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "owner-1")

	_, err := f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "A", Credentials: Credentials{"k": "v"}, Priority: 2})
	require.NoError(t, err)
	_, err = f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "B", Credentials: Credentials{"k": "v"}, IsPrimary: true, Priority: 5})
	require.NoError(t, err)
	_, err = f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "C", Credentials: Credentials{"k": "v"}, Priority: 1})
	require.NoError(t, err)

	list, err := f.svc.ListProviders(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{list[0].ProviderName, list[1].ProviderName, list[2].ProviderName})

	_, err = f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "D", Credentials: Credentials{"k": "v"}, IsPrimary: true, Priority: 9})
	require.NoError(t, err)

	list, err = f.svc.ListProviders(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "d", list[0].ProviderName)
	assert.Equal(t, 1, countPrimaries(list))
}

func countPrimaries(list []model.ProviderConfig) int {
	n := 0
	for _, p := range list {
		if p.IsPrimary {
			n++
		}
	}
	return n
}

func TestAddProvider_ConcurrentPrimariesLeaveOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "owner-1")

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddProvider(ctx, p.ID, ProviderInput{
				ProviderName: fmt.Sprintf("gw-%02d", i),
				Credentials:  Credentials{"k": "v"},
				IsPrimary:    true,
				Priority:     i,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := f.svc.ListProviders(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, list, n)
	assert.Equal(t, 1, countPrimaries(list))
}

func TestAddProvider_DuplicateNameScopedToProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.project(t, "owner-1")
	p2 := f.project(t, "owner-1")

	_, err := f.svc.AddProvider(ctx, p1.ID, ProviderInput{ProviderName: "stripe", Credentials: stripeCreds()})
	require.NoError(t, err)

	_, err = f.svc.AddProvider(ctx, p1.ID, ProviderInput{ProviderName: "Stripe ", Credentials: stripeCreds()})
	assert.ErrorIs(t, err, model.ErrDuplicateProviderName)

	_, err = f.svc.AddProvider(ctx, p2.ID, ProviderInput{ProviderName: "stripe", Credentials: stripeCreds()})
	assert.NoError(t, err)
}

func TestAddProvider_CredentialValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "owner-1")

	_, err := f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "adyen"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "stripe", Credentials: Credentials{"publishable_key": "pk"}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Contains(t, err.Error(), "secret_key")

	_, err = f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "adyen", Credentials: Credentials{"k": "v"}, Priority: -1})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.AddProvider(ctx, "missing-project", ProviderInput{ProviderName: "adyen", Credentials: Credentials{"k": "v"}})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAddProvider_CredentialsSealedAndReadable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "owner-1")

	_, err := f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "stripe", Credentials: stripeCreds(), IsPrimary: true})
	require.NoError(t, err)

	blob, err := f.creds.Get(ctx, p.ID, "stripe")
	require.NoError(t, err)
	assert.JSONEq(t, `{"secret_key":"sk_test_1"}`, string(blob))
}

func TestUpdateProvider_PromoteAndRotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "owner-1")

	first, err := f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "stripe", Credentials: stripeCreds(), IsPrimary: true})
	require.NoError(t, err)
	second, err := f.svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "adyen", Credentials: Credentials{"k": "v"}, Priority: 3})
	require.NoError(t, err)

	yes := true
	prio := 7
	updated, err := f.svc.UpdateProvider(ctx, p.ID, second.ID, ProviderUpdate{IsPrimary: &yes, Priority: &prio, Credentials: Credentials{"k": "rotated"}})
	require.NoError(t, err)
	assert.True(t, updated.IsPrimary)
	assert.Equal(t, 7, updated.Priority)

	list, err := f.svc.ListProviders(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, 1, countPrimaries(list))

	blob, err := f.creds.Get(ctx, p.ID, "adyen")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"rotated"}`, string(blob))

	_, err = f.svc.UpdateProvider(ctx, p.ID, first.ID, ProviderUpdate{Credentials: Credentials{"publishable_key": "x"}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.UpdateProvider(ctx, p.ID, "nope", ProviderUpdate{Priority: &prio})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRemoveProvider_ScopedAndNoAutoPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.project(t, "owner-1")
	p2 := f.project(t, "owner-1")

	primary, err := f.svc.AddProvider(ctx, p1.ID, ProviderInput{ProviderName: "stripe", Credentials: stripeCreds(), IsPrimary: true})
	require.NoError(t, err)
	_, err = f.svc.AddProvider(ctx, p1.ID, ProviderInput{ProviderName: "adyen", Credentials: Credentials{"k": "v"}, Priority: 1})
	require.NoError(t, err)

	err = f.svc.RemoveProvider(ctx, p2.ID, primary.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, f.svc.RemoveProvider(ctx, p1.ID, primary.ID))

	list, err := f.svc.ListProviders(ctx, p1.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "adyen", list[0].ProviderName)
	assert.False(t, list[0].IsPrimary)

	assert.ErrorIs(t, f.svc.RemoveProvider(ctx, p1.ID, primary.ID), model.ErrNotFound)
}

type spyCredentialStore struct {
	*credential.Store
	puts   []string
	putErr error
}

func (s *spyCredentialStore) Put(ctx context.Context, tx *sqlx.Tx, projectID, providerName string, blob []byte) error {
	s.puts = append(s.puts, projectID+"/"+providerName)
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, tx, projectID, providerName, blob)
}

func TestUpdateProvider_RotatesThroughCredentialStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spy := &spyCredentialStore{Store: f.creds}
	projects := repository.NewProjectsRepository(f.db)
	svc := New(f.db, projects, repository.NewProvidersRepository(f.db), apikey.NewRegistry(projects, 5, nil), spy, nil)

	p, _, err := svc.CreateProject(ctx, "owner-1", CreateProjectInput{Name: "shop"})
	require.NoError(t, err)
	cfg, err := svc.AddProvider(ctx, p.ID, ProviderInput{ProviderName: "adyen", Credentials: Credentials{"k": "v1"}})
	require.NoError(t, err)
	assert.Empty(t, spy.puts)

	prio := 4
	_, err = svc.UpdateProvider(ctx, p.ID, cfg.ID, ProviderUpdate{Priority: &prio})
	require.NoError(t, err)
	assert.Empty(t, spy.puts)

	_, err = svc.UpdateProvider(ctx, p.ID, cfg.ID, ProviderUpdate{Credentials: Credentials{"k": "v2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID + "/adyen"}, spy.puts)

	blob, err := f.creds.Get(ctx, p.ID, "adyen")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v2"}`, string(blob))

	// a failed write rolls back the whole update
	spy.putErr = fmt.Errorf("disk full")
	prio = 9
	_, err = svc.UpdateProvider(ctx, p.ID, cfg.ID, ProviderUpdate{Priority: &prio, Credentials: Credentials{"k": "v3"}})
	require.Error(t, err)

	list, err := svc.ListProviders(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].Priority)
	blob, err = f.creds.Get(ctx, p.ID, "adyen")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v2"}`, string(blob))
}
