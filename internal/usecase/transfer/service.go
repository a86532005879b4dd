// Package transfer is the submission serializer: the single-writer gate in
// front of the wallet session. All transfer requests funnel through one
// bounded FIFO queue consumed by one worker goroutine, so at most one
// build/prove/submit cycle ever runs at a time.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dtutila/midnight-dega-sub002/internal/audit"
	"github.com/dtutila/midnight-dega-sub002/internal/domain"
	"github.com/dtutila/midnight-dega-sub002/internal/repository"
	"github.com/dtutila/midnight-dega-sub002/internal/wallet"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	transfersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_submissions_total",
			Help: "Transfer submissions by terminal serializer outcome",
		},
		[]string{"outcome"},
	)

	submissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_submission_duration_seconds",
			Help:    "Wall time of one build/prove/submit cycle including retries",
			Buckets: []float64{.05, .25, 1, 5, 15, 30, 60, 120},
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfer_queue_depth",
			Help: "Transfers admitted and not yet processed",
		},
	)
)

// IdempotencyCache is an optional fast path in front of the ledger's unique
// idempotency key. The ledger stays authoritative; a cache miss just costs a
// query.
type IdempotencyCache interface {
	GetTransactionID(ctx context.Context, key string) (string, error)
	SetTransactionID(ctx context.Context, key, transactionID string) error
}

type Config struct {
	QueueDepth int
	Retry      RetryPolicy
}

// Service owns admission, deduplication and the worker loop.
type Service struct {
	ledger  repository.TransactionRepository
	tokens  repository.TokenRepository
	session wallet.Session
	audit   audit.Recorder
	cache   IdempotencyCache
	retry   RetryPolicy
	logger  *zap.Logger

	// sem bounds admitted-but-unprocessed work; jobs carries it to the
	// worker. Same capacity, so a held slot guarantees a queue spot.
	sem  chan struct{}
	jobs chan *domain.TransactionRecord

	// admitMu fences admission against shutdown: writers hold the read
	// side while enqueueing, Close takes the write side before closing
	// the queue.
	admitMu   sync.RWMutex
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}
}

func NewService(
	ledger repository.TransactionRepository,
	tokens repository.TokenRepository,
	session wallet.Session,
	recorder audit.Recorder,
	cache IdempotencyCache,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Service{
		ledger:  ledger,
		tokens:  tokens,
		session: session,
		audit:   recorder,
		cache:   cache,
		retry:   cfg.Retry,
		logger:  logger,
		sem:     make(chan struct{}, cfg.QueueDepth),
		jobs:    make(chan *domain.TransactionRecord, cfg.QueueDepth),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		go s.worker()
	})
}

// Close stops admitting work and waits for the worker to drain what was
// already queued. In-flight wallet calls are never cancelled: they may
// already be irrevocable.
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		s.admitMu.Lock()
		close(s.stopped)
		close(s.jobs)
		s.admitMu.Unlock()
	})
	<-s.done
}

// CreateTransfer admits one transfer request. A request whose idempotency
// key was seen before returns the existing record in whatever state it is
// in — it is never re-submitted. New requests are persisted as CREATED and
// queued; the caller polls the ledger for the outcome. A caller-side timeout
// does not cancel the underlying submission.
func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransactionRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if existing, ok := s.findExisting(ctx, req.IdempotencyKey); ok {
		s.logger.Info("duplicate transfer request, returning existing record",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("transaction_id", existing.ID),
			zap.String("state", string(existing.State)))
		return existing, nil
	}

	if !strings.EqualFold(req.TokenName, domain.NativeTokenName) {
		if _, err := s.tokens.GetByName(ctx, req.TokenName); err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				return nil, &domain.ValidationError{Field: "token", Message: fmt.Sprintf("token %q is not registered", req.TokenName)}
			}
			return nil, err
		}
	}

	s.admitMu.RLock()
	defer s.admitMu.RUnlock()

	select {
	case <-s.stopped:
		return nil, domain.ErrBusy
	default:
	}

	// Backpressure before any durable write: a full queue rejects the
	// request outright instead of burning the idempotency key.
	select {
	case s.sem <- struct{}{}:
	default:
		transfersProcessed.WithLabelValues("rejected_busy").Inc()
		return nil, domain.ErrBusy
	}

	record := &domain.TransactionRecord{
		ID:             ulid.Make().String(),
		Direction:      domain.DirectionOutgoing,
		TokenName:      req.TokenName,
		Destination:    req.Destination,
		Amount:         req.Amount,
		State:          domain.TxStateCreated,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := s.ledger.Create(ctx, record); err != nil {
		<-s.sem
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			// Lost a race with a concurrent identical request.
			if existing, ok := s.findExisting(ctx, req.IdempotencyKey); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to persist transfer record: %w", err)
	}

	s.cacheIdempotencyKey(ctx, req.IdempotencyKey, record.ID)
	s.audit.Record(ctx, audit.Event{
		Kind:           audit.KindTransferAccepted,
		TransactionID:  record.ID,
		IdempotencyKey: record.IdempotencyKey,
		Token:          record.TokenName,
		Amount:         record.Amount,
		State:          string(record.State),
	})
	queueDepth.Inc()

	s.logger.Info("transfer admitted",
		zap.String("transaction_id", record.ID),
		zap.String("token", record.TokenName),
		zap.String("destination", record.Destination),
		zap.Int64("amount", record.Amount))

	// Guaranteed room: the semaphore slot was acquired above.
	s.jobs <- record

	copied := *record
	return &copied, nil
}

func (s *Service) findExisting(ctx context.Context, key string) (*domain.TransactionRecord, bool) {
	if s.cache != nil {
		if id, err := s.cache.GetTransactionID(ctx, key); err != nil {
			s.logger.Warn("idempotency cache lookup failed", zap.Error(err))
		} else if id != "" {
			if record, err := s.ledger.GetByID(ctx, id); err == nil {
				return record, true
			}
		}
	}

	record, err := s.ledger.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false
	}
	s.cacheIdempotencyKey(ctx, key, record.ID)
	return record, true
}

func (s *Service) cacheIdempotencyKey(ctx context.Context, key, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetTransactionID(ctx, key, id); err != nil {
		s.logger.Warn("failed to cache idempotency key", zap.Error(err))
	}
}

func (s *Service) worker() {
	defer close(s.done)
	for record := range s.jobs {
		s.process(record)
		queueDepth.Dec()
		<-s.sem
	}
}

// process drives one record through SUBMITTING and into SENT or FAILED,
// holding the wallet exclusively for the whole cycle.
func (s *Service) process(record *domain.TransactionRecord) {
	ctx := context.Background()
	start := time.Now()
	defer func() {
		submissionDuration.Observe(time.Since(start).Seconds())
	}()

	if _, err := s.ledger.Transition(ctx, record.ID, domain.TxStateSubmitting, domain.TransitionUpdate{}); err != nil {
		s.logger.Error("failed to mark transfer submitting",
			zap.String("transaction_id", record.ID),
			zap.Error(err))
		return
	}

	spec, err := s.buildSpec(ctx, record)
	if err != nil {
		s.fail(ctx, record, 0, err)
		return
	}

	for attempt := 1; ; attempt++ {
		if delay := s.retry.Delay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-s.stopped:
				// Shutdown during backoff: keep going, the record was
				// admitted and the queue is drained before exit.
			}
		}

		externalTxID, err := s.session.BuildAndSubmit(ctx, spec)
		if err == nil {
			s.sent(ctx, record, attempt, externalTxID)
			return
		}

		if wallet.IsRetryable(err) && !s.retry.Exhausted(attempt) {
			if repoErr := s.ledger.IncrementRetry(ctx, record.ID, err.Error()); repoErr != nil {
				s.logger.Error("failed to record retry",
					zap.String("transaction_id", record.ID),
					zap.Error(repoErr))
			}
			s.audit.Record(ctx, audit.Event{
				Kind:          audit.KindAttemptFailed,
				TransactionID: record.ID,
				Token:         record.TokenName,
				Attempt:       attempt,
				Error:         err.Error(),
			})
			s.logger.Warn("transfer attempt failed, will retry",
				zap.String("transaction_id", record.ID),
				zap.Int("attempt", attempt),
				zap.Duration("next_delay", s.retry.Delay(attempt+1)),
				zap.Error(err))
			continue
		}

		s.fail(ctx, record, attempt, err)
		return
	}
}

func (s *Service) buildSpec(ctx context.Context, record *domain.TransactionRecord) (wallet.TransferSpec, error) {
	spec := wallet.TransferSpec{
		Destination: record.Destination,
		Amount:      record.Amount,
	}
	if strings.EqualFold(record.TokenName, domain.NativeTokenName) {
		return spec, nil
	}

	descriptor, err := s.tokens.GetByName(ctx, record.TokenName)
	if err != nil {
		return spec, fmt.Errorf("token %q disappeared from registry: %w", record.TokenName, err)
	}
	spec.TokenTypeHex = descriptor.TokenTypeHex
	return spec, nil
}

func (s *Service) sent(ctx context.Context, record *domain.TransactionRecord, attempt int, externalTxID string) {
	updated, err := s.ledger.Transition(ctx, record.ID, domain.TxStateSent, domain.TransitionUpdate{
		ExternalTxID: externalTxID,
	})
	if err != nil {
		s.logger.Error("submitted transfer could not be marked sent",
			zap.String("transaction_id", record.ID),
			zap.String("external_tx_id", externalTxID),
			zap.Error(err))
		return
	}

	transfersProcessed.WithLabelValues("sent").Inc()
	s.audit.Record(ctx, audit.Event{
		Kind:          audit.KindTransferSent,
		TransactionID: updated.ID,
		ExternalTxID:  externalTxID,
		Token:         updated.TokenName,
		Amount:        updated.Amount,
		State:         string(updated.State),
		Attempt:       attempt,
	})
	s.logger.Info("transfer submitted",
		zap.String("transaction_id", updated.ID),
		zap.String("external_tx_id", externalTxID),
		zap.Int("attempt", attempt))
}

func (s *Service) fail(ctx context.Context, record *domain.TransactionRecord, attempt int, cause error) {
	updated, err := s.ledger.Transition(ctx, record.ID, domain.TxStateFailed, domain.TransitionUpdate{
		Reason: cause.Error(),
	})
	if err != nil {
		s.logger.Error("failed transfer could not be marked failed",
			zap.String("transaction_id", record.ID),
			zap.Error(err))
		return
	}

	transfersProcessed.WithLabelValues("failed").Inc()
	s.audit.Record(ctx, audit.Event{
		Kind:          audit.KindTransferFailed,
		TransactionID: updated.ID,
		Token:         updated.TokenName,
		Amount:        updated.Amount,
		State:         string(updated.State),
		Attempt:       attempt,
		Error:         cause.Error(),
	})
	s.logger.Warn("transfer failed",
		zap.String("transaction_id", updated.ID),
		zap.Int("attempts", attempt),
		zap.Error(cause))
}

// GetTransaction resolves a record by internal id first, then by the id the
// network assigned.
func (s *Service) GetTransaction(ctx context.Context, idOrExternal string) (*domain.TransactionRecord, error) {
	record, err := s.ledger.GetByID(ctx, idOrExternal)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}
	return s.ledger.GetByExternalTxID(ctx, idOrExternal)
}

// ListTransactions returns records, optionally filtered by state.
func (s *Service) ListTransactions(ctx context.Context, stateFilter domain.TransactionState) ([]*domain.TransactionRecord, error) {
	return s.ledger.List(ctx, stateFilter)
}

// History returns the append-only transition history of one record.
func (s *Service) History(ctx context.Context, id string) ([]domain.Transition, error) {
	return s.ledger.History(ctx, id)
}
