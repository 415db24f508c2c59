package model

import "time"

type PaymentStatus string

// A payment moves queued → routing → succeeded | failed | unknown. Only a
// queued payment may be routed; routing marks a decision in flight.
// unknown means a provider call was cut off and may have charged, so the
// payment is left for reconciliation instead of being routed again.
const (
	PaymentQueued    PaymentStatus = "queued"
	PaymentRouting   PaymentStatus = "routing"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentUnknown   PaymentStatus = "unknown"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentQueued, PaymentRouting, PaymentSucceeded, PaymentFailed, PaymentUnknown:
		return true
	}
	return false
}

// PaymentIntent is what the caller asks to be charged. Amount is in minor
// units; the gateway does not interpret currencies.
type PaymentIntent struct {
	Amount    int64             `json:"amount"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Payment is the DB entity persisted in the payments table.
type Payment struct {
	ID           string        `db:"id"            json:"id"`
	ProjectID    string        `db:"project_id"    json:"project_id"`
	Amount       int64         `db:"amount"        json:"amount"`
	Reference    string        `db:"reference"     json:"reference"`
	Metadata     []byte        `db:"metadata"      json:"-"`
	Status       PaymentStatus `db:"status"        json:"status"`
	ProviderName string        `db:"provider_name" json:"provider_name,omitempty"`
	Attempts     int           `db:"attempts"      json:"attempts"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"    json:"updated_at"`
}
