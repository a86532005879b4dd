// Package reconcile advances SENT transfers to a terminal outcome: network
// confirmations promote them to COMPLETED, and a periodic sweep flags the
// ones the network never acknowledged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dtutila/midnight-dega-sub002/internal/audit"
	"github.com/dtutila/midnight-dega-sub002/internal/domain"
	"github.com/dtutila/midnight-dega-sub002/internal/repository"
	"github.com/dtutila/midnight-dega-sub002/internal/wallet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	confirmationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_confirmations_total",
			Help: "Confirmations consumed, by disposition",
		},
		[]string{"disposition"},
	)

	sweepTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_sweep_timeouts_total",
			Help: "SENT transfers flagged FAILED_UNCONFIRMED by the sweep",
		},
	)
)

type Config struct {
	SweepInterval       time.Duration
	ConfirmationTimeout time.Duration
}

// Reconciler is a single-goroutine consumer of the wallet confirmation
// stream plus a timeout sweep. Each ledger update is one short operation;
// no lock spans confirmation events.
type Reconciler struct {
	ledger repository.TransactionRepository
	stream <-chan wallet.Confirmation
	audit  audit.Recorder
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	// unresolved parks confirmations whose external id has no ledger
	// record yet. The worker assigns the external id on the SENT
	// transition, so a fast confirmation can beat that commit; parked
	// entries are retried on every sweep and expire with the
	// confirmation timeout. Only touched from the Run goroutine.
	unresolved map[string]wallet.Confirmation
}

func New(
	ledger repository.TransactionRepository,
	stream <-chan wallet.Confirmation,
	recorder audit.Recorder,
	cfg Config,
	logger *zap.Logger,
) *Reconciler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 10 * time.Minute
	}
	return &Reconciler{
		ledger:     ledger,
		stream:     stream,
		audit:      recorder,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		unresolved: make(map[string]wallet.Confirmation),
	}
}

// Run blocks until ctx is cancelled or the confirmation stream closes.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	r.logger.Info("reconciliation loop started",
		zap.Duration("sweep_interval", r.cfg.SweepInterval),
		zap.Duration("confirmation_timeout", r.cfg.ConfirmationTimeout))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciliation loop stopped")
			return
		case conf, ok := <-r.stream:
			if !ok {
				r.logger.Warn("confirmation stream closed, reconciliation loop exiting")
				return
			}
			r.handleConfirmation(ctx, conf)
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Reconciler) handleConfirmation(ctx context.Context, conf wallet.Confirmation) {
	record, err := r.ledger.GetByExternalTxID(ctx, conf.ExternalTxID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		confirmationsProcessed.WithLabelValues("unknown").Inc()
		if conf.ObservedAt.IsZero() {
			conf.ObservedAt = r.now()
		}
		r.unresolved[conf.ExternalTxID] = conf
		r.logger.Warn("confirmation for unknown transfer, parking for retry",
			zap.String("external_tx_id", conf.ExternalTxID))
		return
	}
	if err != nil {
		confirmationsProcessed.WithLabelValues("error").Inc()
		r.logger.Error("failed to look up confirmed transfer",
			zap.String("external_tx_id", conf.ExternalTxID),
			zap.Error(err))
		return
	}

	switch record.State {
	case domain.TxStateSent:
		updated, err := r.ledger.Transition(ctx, record.ID, domain.TxStateCompleted, domain.TransitionUpdate{
			Reason: "network confirmation observed",
		})
		if err != nil {
			confirmationsProcessed.WithLabelValues("error").Inc()
			r.logger.Error("failed to complete confirmed transfer",
				zap.String("transaction_id", record.ID),
				zap.Error(err))
			return
		}
		confirmationsProcessed.WithLabelValues("completed").Inc()
		r.audit.Record(ctx, audit.Event{
			Kind:          audit.KindTransferCompleted,
			TransactionID: updated.ID,
			ExternalTxID:  updated.ExternalTxID,
			Token:         updated.TokenName,
			Amount:        updated.Amount,
			State:         string(updated.State),
		})
		r.logger.Info("transfer confirmed",
			zap.String("transaction_id", updated.ID),
			zap.String("external_tx_id", updated.ExternalTxID))

	case domain.TxStateCompleted:
		confirmationsProcessed.WithLabelValues("duplicate").Inc()

	case domain.TxStateFailedUnconfirmed:
		// The submission did land after all. State stays terminal
		// (monotonicity); the operator resolves it from the audit trail.
		confirmationsProcessed.WithLabelValues("late").Inc()
		r.audit.Record(ctx, audit.Event{
			Kind:          audit.KindLateConfirmation,
			TransactionID: record.ID,
			ExternalTxID:  record.ExternalTxID,
			State:         string(record.State),
		})
		r.logger.Warn("confirmation arrived after timeout flag, manual reconciliation required",
			zap.String("transaction_id", record.ID),
			zap.String("external_tx_id", record.ExternalTxID))

	default:
		confirmationsProcessed.WithLabelValues("unexpected_state").Inc()
		r.logger.Warn("confirmation for transfer in unexpected state",
			zap.String("transaction_id", record.ID),
			zap.String("state", string(record.State)))
	}
}

// retryUnresolved replays parked confirmations. A confirmation that raced
// the worker's SENT transition resolves here once the transition has
// committed, before the stale scan below can flag the record.
func (r *Reconciler) retryUnresolved(ctx context.Context) {
	for externalTxID, conf := range r.unresolved {
		if _, err := r.ledger.GetByExternalTxID(ctx, externalTxID); err != nil {
			if r.now().Sub(conf.ObservedAt) > r.cfg.ConfirmationTimeout {
				delete(r.unresolved, externalTxID)
				r.logger.Warn("dropping parked confirmation, no matching transfer appeared",
					zap.String("external_tx_id", externalTxID))
			}
			continue
		}
		delete(r.unresolved, externalTxID)
		r.handleConfirmation(ctx, conf)
	}
}

// Sweep flags SENT records older than the confirmation timeout as
// FAILED_UNCONFIRMED: an ambiguous terminal outcome, distinct from FAILED.
// Nothing is ever auto-resubmitted from here — the original submission may
// have succeeded, and resubmission would risk a double spend.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.retryUnresolved(ctx)

	cutoff := r.now().Add(-r.cfg.ConfirmationTimeout)
	stale, err := r.ledger.ListSentBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("reconciliation sweep failed", zap.Error(err))
		return
	}

	for _, record := range stale {
		reason := fmt.Sprintf("no confirmation within %s", r.cfg.ConfirmationTimeout)
		updated, err := r.ledger.Transition(ctx, record.ID, domain.TxStateFailedUnconfirmed, domain.TransitionUpdate{
			Reason: reason,
		})
		if err != nil {
			// Likely confirmed between the list and the update.
			r.logger.Warn("could not flag stale transfer",
				zap.String("transaction_id", record.ID),
				zap.Error(err))
			continue
		}

		sweepTimeouts.Inc()
		r.audit.Record(ctx, audit.Event{
			Kind:          audit.KindTransferTimedOut,
			TransactionID: updated.ID,
			ExternalTxID:  updated.ExternalTxID,
			Token:         updated.TokenName,
			Amount:        updated.Amount,
			State:         string(updated.State),
			Error:         reason,
		})
		r.logger.Warn("transfer unconfirmed past timeout",
			zap.String("transaction_id", updated.ID),
			zap.String("external_tx_id", updated.ExternalTxID),
			zap.Time("sent_at", record.UpdatedAt))
	}
}
