package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/kafka"
	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/routing"
	"github.com/jmehdipour/payment-aggregator/internal/service/payment"
	"go.uber.org/zap"
)

// Consumer is the part of kafka.Consumer the worker uses.
type Consumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Processor routes one queued payment.
type Processor interface {
	Process(ctx context.Context, env model.Envelope) (payment.Result, error)
}

// RouterKafka:
// - fetches payment envelopes from Kafka,
// - routes each through the project's fallback chain,
// - stores the outcome and commits the offset.
//
// Only errors that left the payment queued are retried, so a provider is
// never charged twice for one payment.
type RouterKafka struct {
	Consumer  Consumer
	Payments  Processor
	Log       *zap.Logger
	Workers   int           // goroutines processing messages
	Timeout   time.Duration // per-envelope routing budget
	Retries   int           // extra tries on storage errors before giving up
	RetryWait time.Duration
}

// NewRouterKafka builds a worker with sane defaults.
func NewRouterKafka(consumer Consumer, payments Processor, workers int, log *zap.Logger) *RouterKafka {
	if workers <= 0 {
		workers = 16
	}
	return &RouterKafka{
		Consumer:  consumer,
		Payments:  payments,
		Log:       logger.OrNop(log),
		Workers:   workers,
		Timeout:   30 * time.Second,
		Retries:   3,
		RetryWait: 500 * time.Millisecond,
	}
}

// Run starts the worker and blocks until ctx is cancelled and in-flight
// envelopes are done.
func (w *RouterKafka) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Payments == nil {
		return errors.New("router-kafka: consumer and processor are required")
	}
	if w.Workers <= 0 {
		w.Workers = 16
	}
	if w.Timeout <= 0 {
		w.Timeout = 30 * time.Second
	}
	w.Log = logger.OrNop(w.Log)

	msgCh := make(chan kafka.Message, w.Workers*2)

	go func() {
		defer close(msgCh)
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				w.processOne(ctx, m)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (w *RouterKafka) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.PaymentID == "" || env.ProjectID == "" {
		if err != nil {
			w.Log.Error("bad envelope json", zap.Int64("offset", m.Offset), zap.Error(err))
		} else {
			w.Log.Error("envelope missing ids", zap.Int64("offset", m.Offset))
		}
		w.commit(ctx, m) // poison → commit, skip
		return
	}

	for attempt := 0; ; attempt++ {
		rctx, cancel := context.WithTimeout(ctx, w.Timeout)
		res, err := w.Payments.Process(rctx, env)
		cancel()

		if err == nil || errors.Is(err, routing.ErrAllProvidersExhausted) {
			status := ""
			if res.Payment != nil {
				status = res.Payment.Status.String()
			}
			w.Log.Info("payment routed",
				zap.String("payment_id", env.PaymentID),
				zap.String("project_id", env.ProjectID),
				zap.String("status", status),
				zap.Int("attempts", len(res.Attempts)),
			)
			break
		}
		if errors.Is(err, model.ErrNotFound) {
			w.Log.Warn("envelope for unknown payment", zap.String("payment_id", env.PaymentID))
			break
		}
		if errors.Is(err, payment.ErrOutcomeUnknown) || errors.Is(err, payment.ErrOutcomeUnrecorded) {
			// a provider may have charged: never route this payment again
			w.Log.Error("payment needs reconciliation", zap.String("payment_id", env.PaymentID), zap.Error(err))
			break
		}
		if ctx.Err() != nil {
			// shutting down: leave the offset uncommitted for redelivery
			return
		}
		if attempt >= w.Retries {
			w.Log.Error("payment left queued", zap.String("payment_id", env.PaymentID), zap.Error(err))
			break
		}
		w.Log.Warn("payment routing failed, retrying", zap.String("payment_id", env.PaymentID), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.RetryWait):
		}
	}

	// at-least-once; a redelivered envelope is a no-op once the payment settled
	w.commit(ctx, m)
}

func (w *RouterKafka) commit(ctx context.Context, m kafka.Message) {
	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
