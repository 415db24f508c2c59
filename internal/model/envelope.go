package model

// Envelope is the payload published to Kafka (via the outbox table).
type Envelope struct {
	PaymentID string        `json:"payment_id"` // ULID
	ProjectID string        `json:"project_id"`
	Intent    PaymentIntent `json:"intent"`
}
