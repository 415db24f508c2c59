// Package payment accepts payment intents and drives them through the router,
// either inline or through the outbox and the router worker.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/dispatcher"
	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/metrics"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/repository"
	"github.com/jmehdipour/payment-aggregator/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	// IntentsKafkaTopic is the outbox topic the router worker consumes.
	IntentsKafkaTopic = "payments.intents"
	outboxAggregate   = "payment"
	maxReferenceLen   = 255
)

var (
	// ErrOutcomeUnknown: a provider call was cut off; the payment is
	// stored as unknown for reconciliation.
	ErrOutcomeUnknown = errors.New("payment outcome unknown")
	// ErrOutcomeUnrecorded: the decision was made but could not be
	// stored; the payment stays in routing.
	ErrOutcomeUnrecorded = errors.New("payment outcome not recorded")
)

// Router decides which provider charges an intent.
type Router interface {
	Route(ctx context.Context, projectID, paymentID string, intent model.PaymentIntent) (dispatcher.Decision, error)
}

// Result is a payment together with the attempts made for it.
type Result struct {
	Payment  *model.Payment  `json:"payment"`
	Attempts []model.Attempt `json:"attempts"`
}

type Service struct {
	db       *sqlx.DB
	payments repository.PaymentsRepository
	outbox   repository.OutboxRepository
	router   Router
	topic    string
	log      *zap.Logger

	settleRetries int
	settleWait    time.Duration
}

func New(
	db *sqlx.DB,
	paymentsRepo repository.PaymentsRepository,
	outboxRepo repository.OutboxRepository,
	router Router,
	topic string,
	log *zap.Logger,
) *Service {
	if topic == "" {
		topic = IntentsKafkaTopic
	}
	return &Service{
		db:       db,
		payments: paymentsRepo,
		outbox:   outboxRepo,
		router:   router,
		topic:    topic,
		log:      logger.OrNop(log),

		settleRetries: 3,
		settleWait:    200 * time.Millisecond,
	}
}

func validate(in model.PaymentIntent) error {
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", model.ErrInvalidInput)
	}
	if len(in.Reference) > maxReferenceLen {
		return fmt.Errorf("%w: reference longer than %d", model.ErrInvalidInput, maxReferenceLen)
	}
	return nil
}

func newPayment(projectID string, in model.PaymentIntent) (model.Payment, error) {
	p := model.Payment{
		ID:        util.NewULID(),
		ProjectID: projectID,
		Amount:    in.Amount,
		Reference: strings.TrimSpace(in.Reference),
		Status:    model.PaymentQueued,
	}
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return model.Payment{}, fmt.Errorf("marshal metadata: %w", err)
		}
		p.Metadata = raw
	}
	return p, nil
}

// Charge stores the payment, routes it inline and stores the outcome.
// An exhausted chain is a recorded failure, returned together with the
// result so the caller can show the attempt trail. Nothing retries the
// charge later, so a decision that fails before any provider call is
// recorded as failed too.
func (s *Service) Charge(ctx context.Context, projectID string, in model.PaymentIntent) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}
	p, err := newPayment(projectID, in)
	if err != nil {
		return Result{}, err
	}
	if err := s.payments.InsertClaimed(ctx, p); err != nil {
		return Result{}, fmt.Errorf("insert payment: %w", err)
	}
	metrics.PaymentsTotal.WithLabelValues(model.PaymentRouting.String()).Inc()

	return s.decide(ctx, model.Envelope{PaymentID: p.ID, ProjectID: projectID, Intent: in}, model.PaymentFailed)
}

// Enqueue writes the payment row and its outbox event in one transaction
// and returns the payment id. Routing happens in the router worker.
func (s *Service) Enqueue(ctx context.Context, projectID string, in model.PaymentIntent) (string, error) {
	if err := validate(in); err != nil {
		return "", err
	}
	p, err := newPayment(projectID, in)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(model.Envelope{PaymentID: p.ID, ProjectID: projectID, Intent: in})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.payments.InsertQueued(ctx, tx, p); err != nil {
		return "", fmt.Errorf("insert payment queued: %w", err)
	}
	if err := s.outbox.Insert(ctx, tx, outboxAggregate, p.ID, s.topic, payload); err != nil {
		return "", fmt.Errorf("insert outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	metrics.PaymentsTotal.WithLabelValues(model.PaymentQueued.String()).Inc()
	return p.ID, nil
}

// Process routes a queued payment and stores its final status. A payment
// that is no longer queued is returned as it is, without calling a
// provider. Errors wrapping ErrOutcomeUnknown or ErrOutcomeUnrecorded are
// final: the payment left the queue and must not be processed again. Other
// errors leave it queued and are safe to retry.
func (s *Service) Process(ctx context.Context, env model.Envelope) (Result, error) {
	current, err := s.payments.Get(ctx, env.ProjectID, env.PaymentID)
	if err != nil {
		return Result{}, fmt.Errorf("load payment %s: %w", env.PaymentID, err)
	}
	if current.Status != model.PaymentQueued {
		s.log.Info("payment not queued, skipping", zap.String("payment_id", env.PaymentID), zap.String("status", current.Status.String()))
		return Result{Payment: current, Attempts: []model.Attempt{}}, nil
	}
	if err := s.payments.Claim(ctx, env.PaymentID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.log.Info("payment claimed elsewhere", zap.String("payment_id", env.PaymentID))
			return s.result(ctx, env, nil, nil)
		}
		return Result{}, fmt.Errorf("claim payment %s: %w", env.PaymentID, err)
	}
	return s.decide(ctx, env, model.PaymentQueued)
}

// decide routes a claimed payment and settles it. onAbort is the status
// stored when routing fails before any provider was called.
func (s *Service) decide(ctx context.Context, env model.Envelope, onAbort model.PaymentStatus) (Result, error) {
	dec, routeErr := s.router.Route(ctx, env.ProjectID, env.PaymentID, env.Intent)

	// the outcome is written even when the caller gave up
	wctx := context.WithoutCancel(ctx)

	var (
		ex *dispatcher.ExhaustedError
		in *dispatcher.InterruptedError
	)
	switch {
	case routeErr == nil:
		if err := s.settle(wctx, env, model.PaymentSucceeded, dec.Provider.ProviderName, len(dec.Attempts)); err != nil {
			return Result{}, err
		}
		metrics.PaymentsTotal.WithLabelValues(model.PaymentSucceeded.String()).Inc()
		return s.result(wctx, env, dec.Attempts, nil)

	case errors.As(routeErr, &ex):
		if err := s.settle(wctx, env, model.PaymentFailed, "", len(ex.Attempts)); err != nil {
			return Result{}, err
		}
		metrics.PaymentsTotal.WithLabelValues(model.PaymentFailed.String()).Inc()
		return s.result(wctx, env, ex.Attempts, routeErr)

	case errors.As(routeErr, &in):
		s.log.Error("payment outcome unknown",
			zap.String("payment_id", env.PaymentID),
			zap.String("project_id", env.ProjectID),
			zap.Int("attempts", len(in.Attempts)),
			zap.Int("cursor_index", in.Cursor.Index),
			zap.Strings("candidate_ids", in.Cursor.CandidateIDs),
			zap.Error(in.Err),
		)
		if err := s.settle(wctx, env, model.PaymentUnknown, "", len(in.Attempts)); err != nil {
			return Result{}, err
		}
		metrics.PaymentsTotal.WithLabelValues(model.PaymentUnknown.String()).Inc()
		res, err := s.result(wctx, env, in.Attempts, nil)
		if err != nil {
			return Result{}, err
		}
		return res, fmt.Errorf("payment %s: %w: %w", env.PaymentID, ErrOutcomeUnknown, routeErr)

	default:
		// no provider was called
		if err := s.settle(wctx, env, onAbort, "", 0); err != nil {
			return Result{}, err
		}
		routeErr = fmt.Errorf("route payment %s: %w", env.PaymentID, routeErr)
		if onAbort == model.PaymentQueued {
			return Result{}, routeErr
		}
		metrics.PaymentsTotal.WithLabelValues(onAbort.String()).Inc()
		return s.result(wctx, env, nil, routeErr)
	}
}

// settle writes the outcome of a claimed payment. Only the write is
// retried; the decision it records is never walked again.
func (s *Service) settle(ctx context.Context, env model.Envelope, status model.PaymentStatus, providerName string, attempts int) error {
	var err error
	for i := 0; i <= s.settleRetries; i++ {
		if i > 0 {
			time.Sleep(s.settleWait)
		}
		err = s.payments.UpdateResult(ctx, env.PaymentID, status, providerName, attempts)
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrNotFound) {
			s.log.Warn("payment no longer routing", zap.String("payment_id", env.PaymentID), zap.String("status", status.String()))
			return nil
		}
		s.log.Warn("settle payment failed",
			zap.String("payment_id", env.PaymentID),
			zap.String("status", status.String()),
			zap.Int("try", i+1),
			zap.Error(err),
		)
	}
	s.log.Error("payment left routing",
		zap.String("payment_id", env.PaymentID),
		zap.String("status", status.String()),
		zap.String("provider", providerName),
		zap.Error(err),
	)
	return fmt.Errorf("payment %s %s: %w: %w", env.PaymentID, status, ErrOutcomeUnrecorded, err)
}

func (s *Service) result(ctx context.Context, env model.Envelope, attempts []model.Attempt, routeErr error) (Result, error) {
	p, err := s.payments.Get(ctx, env.ProjectID, env.PaymentID)
	if err != nil {
		return Result{}, err
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return Result{Payment: p, Attempts: attempts}, routeErr
}

// Get returns a payment of projectID.
func (s *Service) Get(ctx context.Context, projectID, id string) (*model.Payment, error) {
	return s.payments.Get(ctx, projectID, id)
}
