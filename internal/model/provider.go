package model

import (
	"sort"
	"time"
)

// ProviderConfig binds one downstream payment provider to a project.
// Credentials hold the sealed blob and are never serialized to callers.
type ProviderConfig struct {
	ID           string    `db:"id"`
	ProjectID    string    `db:"project_id"`
	ProviderName string    `db:"provider_name"`
	Credentials  []byte    `db:"credentials"`
	IsPrimary    bool      `db:"is_primary"`
	Priority     int       `db:"priority"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Candidate is the outbound shape of a provider config.
type Candidate struct {
	ID           string `json:"id"`
	ProviderName string `json:"provider_name"`
	IsPrimary    bool   `json:"is_primary"`
	Priority     int    `json:"priority"`
}

func (p ProviderConfig) Candidate() Candidate {
	return Candidate{
		ID:           p.ID,
		ProviderName: p.ProviderName,
		IsPrimary:    p.IsPrimary,
		Priority:     p.Priority,
	}
}

func Candidates(in []ProviderConfig) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, p := range in {
		out = append(out, p.Candidate())
	}
	return out
}

// Less reports whether a is tried before b:
// primary first, then ascending priority, then insertion order.
func Less(a, b ProviderConfig) bool {
	if a.IsPrimary != b.IsPrimary {
		return a.IsPrimary
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortProviders orders providers in routing order, in place.
func SortProviders(in []ProviderConfig) {
	sort.SliceStable(in, func(i, j int) bool { return Less(in[i], in[j]) })
}
