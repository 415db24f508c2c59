package model

import "time"

type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptFailed    AttemptOutcome = "failed"
)

func (o AttemptOutcome) String() string { return string(o) }

// Attempt is one provider call made while walking a fallback chain.
type Attempt struct {
	ProjectID    string         `db:"project_id"    json:"project_id"`
	PaymentID    string         `db:"payment_id"    json:"payment_id"`
	ProviderID   string         `db:"provider_id"   json:"provider_id"`
	ProviderName string         `db:"provider_name" json:"provider_name"`
	Position     int            `db:"position"      json:"position"`
	Outcome      AttemptOutcome `db:"outcome"       json:"outcome"`
	Reason       string         `db:"reason"        json:"reason,omitempty"`
	CreatedAt    time.Time      `db:"created_at"    json:"created_at"`
}
