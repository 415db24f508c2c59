package routing

import "errors"

var (
	// ErrAllProvidersExhausted is a legitimate terminal outcome: every
	// candidate was tried once and failed, or there were none.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrCandidateMismatch     = errors.New("candidate is not the cursor's current candidate")
	ErrCursorSettled         = errors.New("cursor already settled")
	ErrSnapshotMismatch      = errors.New("snapshot does not match candidate set")
)
