package apikey

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/repository"
	"github.com/jmehdipour/payment-aggregator/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	taken   map[string]bool
	checks  int
	failErr error
}

func (f *fakeStore) APIKeyHashExists(_ context.Context, hash string) (bool, error) {
	f.checks++
	if f.failErr != nil {
		return false, f.failErr
	}
	return f.taken[hash], nil
}

func (f *fakeStore) GetByAPIKeyHash(context.Context, string) (*model.Project, error) {
	return nil, model.ErrNotFound
}

func (f *fakeStore) Insert(context.Context, *sqlx.Tx, model.Project) error { return nil }

func TestGenerate_UniqueAndURLSafe(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		key, err := Generate()
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(key), 43)
		assert.NotContains(t, key, "+")
		assert.NotContains(t, key, "/")
		assert.NotContains(t, key, "=")
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestHashAndPrefix(t *testing.T) {
	key := "abcdefghijklmnopqrstuvwxyz"
	assert.Len(t, Hash(key), 64)
	assert.Equal(t, Hash(key), Hash(key))
	assert.NotEqual(t, Hash(key), Hash(key+"x"))
	assert.Equal(t, "abcdefgh", Prefix(key))
	assert.Equal(t, "abc", Prefix("abc"))
}

func TestGenerateUniqueKey_RetriesOnCollision(t *testing.T) {
	first := bytes.Repeat([]byte{1}, keyBytes)
	second := bytes.Repeat([]byte{2}, keyBytes)

	taken, err := generate(bytes.NewReader(first))
	require.NoError(t, err)

	store := &fakeStore{taken: map[string]bool{Hash(taken): true}}
	r := NewRegistry(store, 5, nil)
	r.rand = bytes.NewReader(append(append([]byte{}, first...), second...))

	key, err := r.GenerateUniqueKey(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, taken, key)
	assert.Equal(t, 2, store.checks)
}

func TestGenerateUniqueKey_Exhausted(t *testing.T) {
	fixed := bytes.Repeat([]byte{7}, keyBytes)
	taken, err := generate(bytes.NewReader(fixed))
	require.NoError(t, err)

	store := &fakeStore{taken: map[string]bool{Hash(taken): true}}
	r := NewRegistry(store, 3, nil)
	r.rand = bytes.NewReader(bytes.Repeat(fixed, 3))

	_, err = r.GenerateUniqueKey(context.Background())
	assert.ErrorIs(t, err, model.ErrKeyGenerationExhausted)
	assert.Equal(t, 3, store.checks)
}

func TestGenerateUniqueKey_PropagatesStorageError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewRegistry(&fakeStore{failErr: boom}, 5, nil)

	_, err := r.GenerateUniqueKey(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestBindAndResolve(t *testing.T) {
	db := testutil.SQLite(t)
	ctx := context.Background()
	r := NewRegistry(repository.NewProjectsRepository(db), 5, nil)

	key, err := r.GenerateUniqueKey(ctx)
	require.NoError(t, err)

	now := time.Now().UTC()
	p, err := r.Bind(ctx, nil, model.Project{
		ID: "p1", OwnerID: "o1", Name: "shop", Status: model.ProjectActive, CreatedAt: now, UpdatedAt: now,
	}, key)
	require.NoError(t, err)
	assert.Equal(t, Hash(key), p.APIKeyHash)
	assert.Equal(t, Prefix(key), p.APIKeyPrefix)

	got, err := r.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	_, err = r.Resolve(ctx, key[:len(key)-1])
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = r.Resolve(ctx, "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = r.Bind(ctx, nil, model.Project{
		ID: "p2", OwnerID: "o2", Name: "other", Status: model.ProjectActive, CreatedAt: now, UpdatedAt: now,
	}, key)
	assert.ErrorIs(t, err, model.ErrDuplicateKey)
}
