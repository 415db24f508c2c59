package project

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
)

// Aggregate is a project with its provider configs, loaded under the
// project row lock. Mutations check the invariants in memory and report
// which rows the caller must write back.
type Aggregate struct {
	Project   model.Project
	providers []model.ProviderConfig
}

func NewAggregate(p model.Project, providers []model.ProviderConfig) *Aggregate {
	list := make([]model.ProviderConfig, len(providers))
	copy(list, providers)
	model.SortProviders(list)
	return &Aggregate{Project: p, providers: list}
}

// Providers returns a copy in routing order.
func (a *Aggregate) Providers() []model.ProviderConfig {
	out := make([]model.ProviderConfig, len(a.providers))
	copy(out, a.providers)
	return out
}

func (a *Aggregate) Primary() (model.ProviderConfig, bool) {
	for _, p := range a.providers {
		if p.IsPrimary {
			return p, true
		}
	}
	return model.ProviderConfig{}, false
}

func (a *Aggregate) index(id string) int {
	for i, p := range a.providers {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// NormalizeName is the canonical form provider names are stored and
// compared in.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// nextCreatedAt returns a timestamp strictly after every existing provider,
// so insertion order survives equal wall-clock readings. Microseconds are
// the finest precision both SQL dialects keep.
func (a *Aggregate) nextCreatedAt(now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	for _, p := range a.providers {
		if !ts.After(p.CreatedAt) {
			ts = p.CreatedAt.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
		}
	}
	return ts
}

// demoteOthers clears is_primary everywhere but keepID and returns the ids it changed.
func (a *Aggregate) demoteOthers(keepID string) []string {
	var demoted []string
	for i := range a.providers {
		if a.providers[i].ID != keepID && a.providers[i].IsPrimary {
			a.providers[i].IsPrimary = false
			demoted = append(demoted, a.providers[i].ID)
		}
	}
	return demoted
}

// Add appends cfg. A primary cfg demotes the current primary.
func (a *Aggregate) Add(cfg model.ProviderConfig, now time.Time) (model.ProviderConfig, []string, error) {
	cfg.ProviderName = NormalizeName(cfg.ProviderName)
	if cfg.ProviderName == "" {
		return model.ProviderConfig{}, nil, fmt.Errorf("%w: provider_name is required", model.ErrInvalidInput)
	}
	if cfg.Priority < 0 {
		return model.ProviderConfig{}, nil, fmt.Errorf("%w: priority must be >= 0", model.ErrInvalidInput)
	}
	for _, p := range a.providers {
		if p.ProviderName == cfg.ProviderName {
			return model.ProviderConfig{}, nil, fmt.Errorf("%w: %s", model.ErrDuplicateProviderName, cfg.ProviderName)
		}
	}

	cfg.ProjectID = a.Project.ID
	cfg.CreatedAt = a.nextCreatedAt(now)
	cfg.UpdatedAt = cfg.CreatedAt

	var demoted []string
	if cfg.IsPrimary {
		demoted = a.demoteOthers(cfg.ID)
	}
	a.providers = append(a.providers, cfg)
	model.SortProviders(a.providers)
	return cfg, demoted, nil
}

// Patch holds the mutable fields of a provider; nil means unchanged.
type Patch struct {
	Priority    *int
	IsPrimary   *bool
	Credentials []byte
}

// Update applies patch to provider id. Promoting it to primary demotes the
// current one.
func (a *Aggregate) Update(id string, patch Patch, now time.Time) (model.ProviderConfig, []string, error) {
	i := a.index(id)
	if i < 0 {
		return model.ProviderConfig{}, nil, fmt.Errorf("provider %s: %w", id, model.ErrNotFound)
	}
	if patch.Priority != nil && *patch.Priority < 0 {
		return model.ProviderConfig{}, nil, fmt.Errorf("%w: priority must be >= 0", model.ErrInvalidInput)
	}

	p := a.providers[i]
	if patch.Priority != nil {
		p.Priority = *patch.Priority
	}
	if patch.Credentials != nil {
		p.Credentials = patch.Credentials
	}
	var demoted []string
	if patch.IsPrimary != nil {
		p.IsPrimary = *patch.IsPrimary
		if p.IsPrimary {
			demoted = a.demoteOthers(id)
		}
	}
	p.UpdatedAt = now.UTC()

	a.providers[i] = p
	model.SortProviders(a.providers)
	return p, demoted, nil
}

// Remove drops provider id. Removing the primary promotes nobody; the
// owner has to pick a new primary explicitly.
func (a *Aggregate) Remove(id string) (model.ProviderConfig, error) {
	i := a.index(id)
	if i < 0 {
		return model.ProviderConfig{}, fmt.Errorf("provider %s: %w", id, model.ErrNotFound)
	}
	removed := a.providers[i]
	a.providers = append(a.providers[:i], a.providers[i+1:]...)
	return removed, nil
}
