package model

import (
	"strings"
	"time"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectSuspended ProjectStatus = "suspended"
)

func (s ProjectStatus) String() string { return string(s) }

// ParseProjectStatus returns (status, true) for known values.
func ParseProjectStatus(raw string) (ProjectStatus, bool) {
	switch ProjectStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ProjectActive:
		return ProjectActive, true
	case ProjectSuspended:
		return ProjectSuspended, true
	default:
		return "", false
	}
}

// Project is the tenant row. The plaintext API key is never stored; only its
// sha256 hash and a short display prefix are.
type Project struct {
	ID           string        `db:"id"            json:"id"`
	OwnerID      string        `db:"owner_id"      json:"owner_id"`
	Name         string        `db:"name"          json:"name"`
	Description  string        `db:"description"   json:"description,omitempty"`
	APIKeyHash   string        `db:"api_key_hash"  json:"-"`
	APIKeyPrefix string        `db:"api_key_prefix" json:"api_key_prefix"`
	Status       ProjectStatus `db:"status"        json:"status"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"    json:"updated_at"`
}

func (p Project) Active() bool { return p.Status == ProjectActive }
