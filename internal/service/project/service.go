// Package project owns the project and provider lifecycle. Every provider
// mutation runs in one transaction holding the project row lock, so the
// single-primary and unique-name rules hold under concurrent writers.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/repository"
	"github.com/jmehdipour/payment-aggregator/internal/service/apikey"
	"github.com/jmehdipour/payment-aggregator/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// KeyInvalidator drops cached authentications for a key hash.
type KeyInvalidator interface {
	Invalidate(ctx context.Context, keyHash string) error
}

// CredentialStore seals blobs for new provider rows and rotates the
// credentials of existing ones.
type CredentialStore interface {
	Seal(ctx context.Context, blob []byte) ([]byte, error)
	Put(ctx context.Context, tx *sqlx.Tx, projectID, providerName string, blob []byte) error
}

type Service struct {
	db        *sqlx.DB
	projects  repository.ProjectsRepository
	providers repository.ProvidersRepository
	keys      *apikey.Registry
	creds     CredentialStore
	required  map[string][]string
	inval     KeyInvalidator
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithInvalidator hooks auth cache invalidation into status changes and deletes.
func WithInvalidator(i KeyInvalidator) Option {
	return func(s *Service) { s.inval = i }
}

// WithRequiredCredentials sets the credential keys each provider name needs.
func WithRequiredCredentials(req map[string][]string) Option {
	return func(s *Service) { s.required = req }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(
	db *sqlx.DB,
	projects repository.ProjectsRepository,
	providers repository.ProvidersRepository,
	keys *apikey.Registry,
	creds CredentialStore,
	log *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		db:        db,
		projects:  projects,
		providers: providers,
		keys:      keys,
		creds:     creds,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateProjectInput struct {
	Name        string
	Description string
}

// CreateProject stores a new project and returns it with its API key. The
// plaintext key exists only in this return value.
func (s *Service) CreateProject(ctx context.Context, ownerID string, in CreateProjectInput) (model.Project, string, error) {
	ownerID = strings.TrimSpace(ownerID)
	name := strings.TrimSpace(in.Name)
	if ownerID == "" {
		return model.Project{}, "", fmt.Errorf("%w: owner is required", model.ErrInvalidInput)
	}
	if name == "" {
		return model.Project{}, "", fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}

	key, err := s.keys.GenerateUniqueKey(ctx)
	if err != nil {
		return model.Project{}, "", err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	p, err := s.keys.Bind(ctx, nil, model.Project{
		ID:          util.NewUUID(),
		OwnerID:     ownerID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Status:      model.ProjectActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, key)
	if err != nil {
		return model.Project{}, "", fmt.Errorf("bind api key: %w", err)
	}

	s.log.Info("project created",
		zap.String("project_id", p.ID),
		zap.String("owner_id", ownerID),
		zap.String("key_prefix", p.APIKeyPrefix),
	)
	return p, key, nil
}

// GetProject returns the project when ownerID owns it. Someone else's
// project is reported as not found.
func (s *Service) GetProject(ctx context.Context, ownerID, id string) (*model.Project, error) {
	p, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	return s.projects.ListByOwner(ctx, ownerID)
}

// SetStatus activates or suspends a project. A suspended project's key
// stops authenticating; the key itself is kept and never reassigned.
func (s *Service) SetStatus(ctx context.Context, ownerID, id string, status model.ProjectStatus) (*model.Project, error) {
	p, err := s.GetProject(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.projects.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	s.invalidate(ctx, p)

	p.Status = status
	s.log.Info("project status changed", zap.String("project_id", id), zap.String("status", status.String()))
	return p, nil
}

// DeleteProject removes the project together with its providers and payments.
func (s *Service) DeleteProject(ctx context.Context, ownerID, id string) error {
	p, err := s.GetProject(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.projects.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.invalidate(ctx, p)
	s.log.Info("project deleted", zap.String("project_id", id))
	return nil
}

func (s *Service) invalidate(ctx context.Context, p *model.Project) {
	if s.inval == nil {
		return
	}
	if err := s.inval.Invalidate(ctx, p.APIKeyHash); err != nil {
		s.log.Warn("auth cache invalidate failed", zap.String("project_id", p.ID), zap.Error(err))
	}
}

type ProviderInput struct {
	ProviderName string
	Credentials  Credentials
	IsPrimary    bool
	Priority     int
}

type ProviderUpdate struct {
	Priority    *int
	IsPrimary   *bool
	Credentials Credentials
}

// inProject loads the aggregate under the project lock and runs fn in the
// same transaction.
func (s *Service) inProject(ctx context.Context, projectID string, fn func(tx *sqlx.Tx, agg *Aggregate) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := s.projects.LockForUpdate(ctx, tx, projectID)
	if err != nil {
		return err
	}
	list, err := s.providers.ListByProject(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if err := fn(tx, NewAggregate(*p, list)); err != nil {
		return err
	}
	return tx.Commit()
}

// encode validates creds for provider name and returns the plaintext blob.
func (s *Service) encode(name string, creds Credentials) ([]byte, error) {
	if err := validateCredentials(name, creds, s.required); err != nil {
		return nil, err
	}
	blob, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	return blob, nil
}

// AddProvider attaches a provider to the project. A primary provider
// demotes the existing primary in the same transaction.
func (s *Service) AddProvider(ctx context.Context, projectID string, in ProviderInput) (model.ProviderConfig, error) {
	name := NormalizeName(in.ProviderName)
	blob, err := s.encode(name, in.Credentials)
	if err != nil {
		return model.ProviderConfig{}, err
	}
	sealed, err := s.creds.Seal(ctx, blob)
	if err != nil {
		return model.ProviderConfig{}, err
	}

	var added model.ProviderConfig
	err = s.inProject(ctx, projectID, func(tx *sqlx.Tx, agg *Aggregate) error {
		cfg, demoted, err := agg.Add(model.ProviderConfig{
			ID:           util.NewUUID(),
			ProviderName: name,
			Credentials:  sealed,
			IsPrimary:    in.IsPrimary,
			Priority:     in.Priority,
		}, s.now())
		if err != nil {
			return err
		}
		if len(demoted) > 0 {
			if _, err := s.providers.DemotePrimary(ctx, tx, projectID, cfg.ID); err != nil {
				return fmt.Errorf("demote primary: %w", err)
			}
		}
		if err := s.providers.Insert(ctx, tx, cfg); err != nil {
			return err
		}
		added = cfg
		return nil
	})
	if err != nil {
		return model.ProviderConfig{}, err
	}

	s.log.Info("provider added",
		zap.String("project_id", projectID),
		zap.String("provider_id", added.ID),
		zap.String("provider", added.ProviderName),
		zap.Bool("primary", added.IsPrimary),
		zap.Int("priority", added.Priority),
	)
	return added, nil
}

// ListProviders returns the project's providers in routing order.
func (s *Service) ListProviders(ctx context.Context, projectID string) ([]model.ProviderConfig, error) {
	list, err := s.providers.ListByProject(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	model.SortProviders(list)
	return list, nil
}

// UpdateProvider changes priority, primary flag or credentials.
func (s *Service) UpdateProvider(ctx context.Context, projectID, providerID string, in ProviderUpdate) (model.ProviderConfig, error) {
	var updated model.ProviderConfig
	err := s.inProject(ctx, projectID, func(tx *sqlx.Tx, agg *Aggregate) error {
		var blob []byte
		if in.Credentials != nil {
			i := agg.index(providerID)
			if i < 0 {
				return fmt.Errorf("provider %s: %w", providerID, model.ErrNotFound)
			}
			var err error
			if blob, err = s.encode(agg.providers[i].ProviderName, in.Credentials); err != nil {
				return err
			}
		}

		p, demoted, err := agg.Update(providerID, Patch{Priority: in.Priority, IsPrimary: in.IsPrimary}, s.now())
		if err != nil {
			return err
		}
		if len(demoted) > 0 {
			if _, err := s.providers.DemotePrimary(ctx, tx, projectID, p.ID); err != nil {
				return fmt.Errorf("demote primary: %w", err)
			}
		}
		if err := s.providers.Update(ctx, tx, p); err != nil {
			return err
		}
		if blob != nil {
			// rotation goes through the credential store, after the row update
			if err := s.creds.Put(ctx, tx, projectID, p.ProviderName, blob); err != nil {
				return err
			}
		}
		updated = p
		return nil
	})
	if err != nil {
		return model.ProviderConfig{}, err
	}

	s.log.Info("provider updated",
		zap.String("project_id", projectID),
		zap.String("provider_id", providerID),
		zap.Bool("primary", updated.IsPrimary),
		zap.Int("priority", updated.Priority),
		zap.Bool("credentials_rotated", in.Credentials != nil),
	)
	return updated, nil
}

// RemoveProvider deletes a provider owned by projectID. A provider of
// another project is reported as not found.
func (s *Service) RemoveProvider(ctx context.Context, projectID, providerID string) error {
	var removed model.ProviderConfig
	err := s.inProject(ctx, projectID, func(tx *sqlx.Tx, agg *Aggregate) error {
		p, err := agg.Remove(providerID)
		if err != nil {
			return err
		}
		removed = p
		return s.providers.Delete(ctx, tx, projectID, providerID)
	})
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("provider %s: %w", providerID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("project_id", projectID),
		zap.String("provider_id", providerID),
		zap.String("provider", removed.ProviderName),
	}
	if removed.IsPrimary {
		s.log.Warn("primary provider removed; project has no primary until one is assigned", fields...)
		return nil
	}
	s.log.Info("provider removed", fields...)
	return nil
}
