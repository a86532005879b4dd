package wallet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MemorySession is an in-process Session used by tests and local
// development. It keeps a per-token balance, applies the provisional-spend
// side effect on successful submission, and counts concurrent BuildAndSubmit
// entries so callers can assert the serializer really serializes.
type MemorySession struct {
	mu       sync.Mutex
	balances map[string]int64
	nextSeq  int64

	// SubmitHook, when set, runs instead of the default accounting and
	// decides the outcome of one submission attempt.
	SubmitHook func(spec TransferSpec) (string, error)

	inFlight            int32
	maxObservedInFlight int32
	submitCalls         int32

	confirmations chan Confirmation
	logger        *zap.Logger
	closeOnce     sync.Once
}

func NewMemorySession(balances map[string]int64, buffer int, logger *zap.Logger) *MemorySession {
	if buffer <= 0 {
		buffer = 16
	}
	owned := make(map[string]int64, len(balances))
	for token, amount := range balances {
		owned[token] = amount
	}
	return &MemorySession{
		balances:      owned,
		confirmations: make(chan Confirmation, buffer),
		logger:        logger,
	}
}

func (s *MemorySession) BuildAndSubmit(ctx context.Context, spec TransferSpec) (string, error) {
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		observed := atomic.LoadInt32(&s.maxObservedInFlight)
		if current <= observed || atomic.CompareAndSwapInt32(&s.maxObservedInFlight, observed, current) {
			break
		}
	}
	atomic.AddInt32(&s.submitCalls, 1)

	if err := ctx.Err(); err != nil {
		return "", &SubmissionError{Retryable: true, Err: err}
	}

	if s.SubmitHook != nil {
		return s.SubmitHook(spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := spec.TokenTypeHex
	if token == "" {
		token = "native"
	}
	available := s.balances[token]
	if available < spec.Amount {
		return "", &CoinSelectionError{Token: token, Requested: spec.Amount, Available: available}
	}

	// Provisional spend: the coin set shrinks before the network confirms.
	s.balances[token] = available - spec.Amount
	s.nextSeq++
	return fmt.Sprintf("mem-tx-%06d", s.nextSeq), nil
}

func (s *MemorySession) Confirmations() <-chan Confirmation {
	return s.confirmations
}

func (s *MemorySession) Status(ctx context.Context) (SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := make(map[string]int64, len(s.balances))
	for token, amount := range s.balances {
		balances[token] = amount
	}
	return SessionStatus{
		Synced:         true,
		Balances:       balances,
		SpendableCoins: len(balances),
	}, nil
}

func (s *MemorySession) Close() error {
	s.closeOnce.Do(func() {
		close(s.confirmations)
	})
	return nil
}

// Confirm pushes a confirmation for a previously submitted transfer, the way
// the daemon's indexer feed would. Non-blocking: overflow drops the oldest.
func (s *MemorySession) Confirm(externalTxID string) {
	logger := s.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pushConfirmation(s.confirmations, Confirmation{
		ExternalTxID: externalTxID,
		ObservedAt:   time.Now().UTC(),
	}, logger)
}

// SubmitCalls reports how many BuildAndSubmit attempts were made.
func (s *MemorySession) SubmitCalls() int {
	return int(atomic.LoadInt32(&s.submitCalls))
}

// MaxConcurrentSubmits reports the highest number of BuildAndSubmit calls
// observed in flight at once. Anything above 1 is a serialization bug.
func (s *MemorySession) MaxConcurrentSubmits() int {
	return int(atomic.LoadInt32(&s.maxObservedInFlight))
}

// Balance reports the remaining spendable amount for a token type.
func (s *MemorySession) Balance(token string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[token]
}
