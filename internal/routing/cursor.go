package routing

import (
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/model"
)

type Phase int

const (
	Pending Phase = iota
	Settled
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Settled:
		return "settled"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Failure is one reported failure. Reason is kept for the caller's trail;
// the cursor never looks at it.
type Failure struct {
	Candidate model.Candidate
	Reason    error
}

// Cursor is the state machine of one routing decision:
//
//	Pending(i) --failure--> Pending(i+1) | Exhausted
//	Pending(i) --success--> Settled
//
// Each candidate is offered exactly once. A Cursor belongs to a single
// in-flight decision and is not safe for concurrent use.
type Cursor struct {
	candidates []model.ProviderConfig
	index      int
	phase      Phase
	failures   []Failure
}

// NewCursor walks candidates in the given order.
func NewCursor(candidates []model.ProviderConfig) *Cursor {
	c := &Cursor{candidates: candidates}
	if len(candidates) == 0 {
		c.phase = Exhausted
	}
	return c
}

// Next returns the candidate to try now. It does not advance: only
// ReportFailure does.
func (c *Cursor) Next() (model.ProviderConfig, error) {
	switch c.phase {
	case Settled:
		return model.ProviderConfig{}, ErrCursorSettled
	case Exhausted:
		return model.ProviderConfig{}, ErrAllProvidersExhausted
	}
	return c.candidates[c.index], nil
}

func (c *Cursor) current(candidate model.ProviderConfig) error {
	if _, err := c.Next(); err != nil {
		return err
	}
	if c.candidates[c.index].ID != candidate.ID {
		return fmt.Errorf("%w: got %s, want %s", ErrCandidateMismatch, candidate.ID, c.candidates[c.index].ID)
	}
	return nil
}

// ReportFailure records that candidate failed and moves to the next one.
// candidate must be the one Next returned.
func (c *Cursor) ReportFailure(candidate model.ProviderConfig, reason error) error {
	if err := c.current(candidate); err != nil {
		return err
	}
	c.failures = append(c.failures, Failure{Candidate: candidate.Candidate(), Reason: reason})
	c.index++
	if c.index >= len(c.candidates) {
		c.phase = Exhausted
	}
	return nil
}

// ReportSuccess settles the decision on candidate.
func (c *Cursor) ReportSuccess(candidate model.ProviderConfig) error {
	if err := c.current(candidate); err != nil {
		return err
	}
	c.phase = Settled
	return nil
}

func (c *Cursor) Phase() Phase { return c.phase }

// Attempts is the number of candidates offered so far, including a settled one.
func (c *Cursor) Attempts() int {
	if c.phase == Settled {
		return c.index + 1
	}
	return c.index
}

// Chosen returns the settled candidate.
func (c *Cursor) Chosen() (model.ProviderConfig, bool) {
	if c.phase != Settled {
		return model.ProviderConfig{}, false
	}
	return c.candidates[c.index], true
}

func (c *Cursor) Failures() []Failure {
	out := make([]Failure, len(c.failures))
	copy(out, c.failures)
	return out
}

// Snapshot is the persistable state of a cursor, for decisions that span an
// async boundary. Candidate ids pin the order the index refers to.
type Snapshot struct {
	Phase        Phase    `json:"phase"`
	Index        int      `json:"index"`
	CandidateIDs []string `json:"candidate_ids"`
}

func (c *Cursor) Snapshot() Snapshot {
	ids := make([]string, 0, len(c.candidates))
	for _, p := range c.candidates {
		ids = append(ids, p.ID)
	}
	return Snapshot{Phase: c.phase, Index: c.index, CandidateIDs: ids}
}

// Resume rebuilds a cursor from snap over a freshly loaded candidate set.
// It fails with ErrSnapshotMismatch when the providers changed meanwhile.
// Failure reasons are not part of a snapshot.
func Resume(candidates []model.ProviderConfig, snap Snapshot) (*Cursor, error) {
	if len(candidates) != len(snap.CandidateIDs) {
		return nil, ErrSnapshotMismatch
	}
	for i, p := range candidates {
		if p.ID != snap.CandidateIDs[i] {
			return nil, ErrSnapshotMismatch
		}
	}
	if snap.Index < 0 || snap.Index > len(candidates) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrSnapshotMismatch, snap.Index)
	}
	switch snap.Phase {
	case Pending:
		if snap.Index == len(candidates) {
			return nil, fmt.Errorf("%w: pending past the last candidate", ErrSnapshotMismatch)
		}
	case Settled:
		if snap.Index == len(candidates) {
			return nil, fmt.Errorf("%w: settled past the last candidate", ErrSnapshotMismatch)
		}
	case Exhausted:
		if snap.Index != len(candidates) {
			return nil, fmt.Errorf("%w: exhausted before the last candidate", ErrSnapshotMismatch)
		}
	default:
		return nil, fmt.Errorf("%w: unknown phase %d", ErrSnapshotMismatch, int(snap.Phase))
	}
	c := &Cursor{candidates: candidates, index: snap.Index, phase: snap.Phase}
	return c, nil
}
