package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/metrics"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/routing"
	"go.uber.org/zap"
)

var (
	ErrNoClient     = errors.New("provider not configured")
	ErrCircuitOpen  = errors.New("provider circuit open")
	ErrNoCredential = errors.New("provider credentials unavailable")
)

// CredentialSource returns a provider's decrypted credential blob.
type CredentialSource interface {
	Get(ctx context.Context, projectID, providerName string) ([]byte, error)
}

// AttemptRecorder persists the attempt trail of a decision.
type AttemptRecorder interface {
	InsertBatch(ctx context.Context, attempts []model.Attempt) error
}

// Decision is the result of a settled routing decision.
type Decision struct {
	Provider    model.Candidate `json:"provider"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	Attempts    []model.Attempt `json:"attempts"`
}

// ExhaustedError carries the attempt trail of a decision in which every
// candidate failed. It matches routing.ErrAllProvidersExhausted.
type ExhaustedError struct {
	Attempts []model.Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts", routing.ErrAllProvidersExhausted, len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() error { return routing.ErrAllProvidersExhausted }

// InterruptedError reports a walk stopped by a context or cursor error
// after at least one provider was tried. A provider may have charged, so
// the decision must not be walked again; Cursor records where it stopped.
type InterruptedError struct {
	Attempts []model.Attempt
	Cursor   routing.Snapshot
	Err      error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("routing interrupted after %d attempts: %v", len(e.Attempts), e.Err)
}

func (e *InterruptedError) Unwrap() error { return e.Err }

// Router walks a project's fallback chain: each candidate is tried once,
// in order, until one charges successfully.
type Router struct {
	selector  *routing.Selector
	providers map[string]Provider
	creds     CredentialSource
	recorder  AttemptRecorder
	log       *zap.Logger
}

// NewRouter wires a router. recorder may be nil.
func NewRouter(selector *routing.Selector, providers map[string]Provider, creds CredentialSource, recorder AttemptRecorder, log *zap.Logger) *Router {
	return &Router{
		selector:  selector,
		providers: providers,
		creds:     creds,
		recorder:  recorder,
		log:       logger.OrNop(log),
	}
}

// Route charges intent through the project's providers. A context error
// stops the walk without trying the remaining candidates. Errors returned
// before the first provider call are plain; later ones are
// *InterruptedError.
func (r *Router) Route(ctx context.Context, projectID, paymentID string, intent model.PaymentIntent) (Decision, error) {
	cur, err := r.selector.Begin(ctx, projectID)
	if err != nil {
		metrics.RoutingDecisionsTotal.WithLabelValues("error").Inc()
		return Decision{}, err
	}

	var trail []model.Attempt
	defer func() { r.record(ctx, trail) }()

	interrupted := func(err error) error {
		metrics.RoutingDecisionsTotal.WithLabelValues("error").Inc()
		if len(trail) == 0 {
			return err
		}
		return &InterruptedError{Attempts: trail, Cursor: cur.Snapshot(), Err: err}
	}

	for {
		cand, err := cur.Next()
		if errors.Is(err, routing.ErrAllProvidersExhausted) {
			outcome := "exhausted"
			if len(trail) == 0 {
				outcome = "empty"
			}
			metrics.RoutingDecisionsTotal.WithLabelValues(outcome).Inc()
			r.log.Warn("routing exhausted",
				zap.String("project_id", projectID),
				zap.String("payment_id", paymentID),
				zap.Int("attempts", len(trail)),
			)
			return Decision{}, &ExhaustedError{Attempts: trail}
		}
		if err != nil {
			return Decision{}, interrupted(err)
		}
		if err := ctx.Err(); err != nil {
			return Decision{}, interrupted(err)
		}

		res, callErr := r.try(ctx, projectID, paymentID, cand, intent)
		att := model.Attempt{
			ProjectID:    projectID,
			PaymentID:    paymentID,
			ProviderID:   cand.ID,
			ProviderName: cand.ProviderName,
			Position:     cur.Attempts(),
			CreatedAt:    time.Now().UTC(),
		}

		if callErr == nil {
			att.Outcome = model.AttemptSucceeded
			trail = append(trail, att)
			metrics.RoutingAttemptsTotal.WithLabelValues(cand.ProviderName, att.Outcome.String()).Inc()
			if err := cur.ReportSuccess(cand); err != nil {
				return Decision{}, interrupted(err)
			}
			metrics.RoutingDecisionsTotal.WithLabelValues("settled").Inc()
			r.log.Info("routing settled",
				zap.String("project_id", projectID),
				zap.String("payment_id", paymentID),
				zap.String("provider", cand.ProviderName),
				zap.Int("attempts", len(trail)),
			)
			return Decision{Provider: cand.Candidate(), ProviderRef: res.ProviderRef, Attempts: trail}, nil
		}

		att.Outcome = model.AttemptFailed
		att.Reason = callErr.Error()
		trail = append(trail, att)
		metrics.RoutingAttemptsTotal.WithLabelValues(cand.ProviderName, att.Outcome.String()).Inc()
		r.log.Info("provider attempt failed",
			zap.String("project_id", projectID),
			zap.String("payment_id", paymentID),
			zap.String("provider", cand.ProviderName),
			zap.Error(callErr),
		)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, interrupted(ctxErr)
		}
		if err := cur.ReportFailure(cand, callErr); err != nil {
			return Decision{}, interrupted(err)
		}
	}
}

func (r *Router) try(ctx context.Context, projectID, paymentID string, cand model.ProviderConfig, intent model.PaymentIntent) (ChargeResult, error) {
	p, ok := r.providers[cand.ProviderName]
	if !ok {
		return ChargeResult{}, ErrNoClient
	}
	if !p.Ready() {
		return ChargeResult{}, ErrCircuitOpen
	}
	blob, err := r.creds.Get(ctx, projectID, cand.ProviderName)
	if err != nil {
		r.log.Warn("credential load failed",
			zap.String("project_id", projectID),
			zap.String("provider", cand.ProviderName),
			zap.Error(err),
		)
		return ChargeResult{}, ErrNoCredential
	}
	if !p.Acquire() {
		return ChargeResult{}, ErrCircuitOpen
	}
	return p.Charge(ctx, ChargeRequest{
		PaymentID:   paymentID,
		ProjectID:   projectID,
		Amount:      intent.Amount,
		Reference:   intent.Reference,
		Metadata:    intent.Metadata,
		Credentials: blob,
	})
}

func (r *Router) record(ctx context.Context, trail []model.Attempt) {
	if r.recorder == nil || len(trail) == 0 {
		return
	}
	// recording outlives a cancelled request
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.recorder.InsertBatch(ctx, trail); err != nil {
		r.log.Warn("record attempts failed", zap.Int("attempts", len(trail)), zap.Error(err))
	}
}
