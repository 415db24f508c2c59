package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
)

// CredentialsRepository reads and writes the sealed credential column of
// provider_configs, addressed by (project_id, provider_name).
type CredentialsRepository interface {
	Put(ctx context.Context, tx *sqlx.Tx, projectID, providerName string, sealed []byte) error
	Get(ctx context.Context, projectID, providerName string) ([]byte, error)
}

type CredentialsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCredentialsRepository(db *sqlx.DB) *CredentialsRepositoryImpl {
	return &CredentialsRepositoryImpl{db: db}
}

var _ CredentialsRepository = (*CredentialsRepositoryImpl)(nil)

func (r *CredentialsRepositoryImpl) Put(ctx context.Context, tx *sqlx.Tx, projectID, providerName string, sealed []byte) error {
	res, err := runner(r.db, tx).ExecContext(ctx, `
		UPDATE provider_configs
		   SET credentials = ?, updated_at = ?
		 WHERE project_id = ? AND provider_name = ?
	`, string(sealed), time.Now().UTC(), projectID, providerName)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *CredentialsRepositoryImpl) Get(ctx context.Context, projectID, providerName string) ([]byte, error) {
	var sealed string
	err := r.db.QueryRowxContext(ctx, `
		SELECT credentials
		  FROM provider_configs
		 WHERE project_id = ? AND provider_name = ?
		 LIMIT 1
	`, projectID, providerName).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(sealed), nil
}
