// Package wallet adapts the external shielded-ledger wallet daemon behind a
// narrow interface. The daemon owns seed material, coin management and proof
// generation; this package only shuttles transfer specs in and confirmations
// out.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TransferSpec describes one outgoing transfer for the wallet to build,
// prove and submit. TokenTypeHex is empty for native value.
type TransferSpec struct {
	TokenTypeHex string `json:"token_type,omitempty"`
	Destination  string `json:"destination"`
	Amount       int64  `json:"amount"`
}

// Confirmation is the indexer's acknowledgment that a submitted transfer was
// durably accepted by the network.
type Confirmation struct {
	ExternalTxID string    `json:"tx_id"`
	ObservedAt   time.Time `json:"observed_at"`
}

// SessionStatus is a point-in-time snapshot of the wallet's sync and balance
// state. Coin data itself never leaves the wallet.
type SessionStatus struct {
	Synced         bool             `json:"synced"`
	SyncedHeight   uint64           `json:"synced_height"`
	TargetHeight   uint64           `json:"target_height"`
	Balances       map[string]int64 `json:"balances"`
	PendingCoins   int              `json:"pending_coins"`
	SpendableCoins int              `json:"spendable_coins"`
}

// Session is the single handle on the external wallet.
//
// BuildAndSubmit is NOT safe to call concurrently: it reads and provisionally
// marks the shared unspent-coin set, so overlapping calls can select the same
// coins and produce mutually exclusive submissions. The submission serializer
// guarantees at most one in-flight call.
type Session interface {
	BuildAndSubmit(ctx context.Context, spec TransferSpec) (externalTxID string, err error)
	Confirmations() <-chan Confirmation
	Status(ctx context.Context) (SessionStatus, error)
	Close() error
}

// CoinSelectionError reports insufficient spendable funds. Terminal: waiting
// and resubmitting is an operator decision, never automatic.
type CoinSelectionError struct {
	Token     string
	Requested int64
	Available int64
}

func (e *CoinSelectionError) Error() string {
	return fmt.Sprintf("coin selection failed for %s: requested %d, available %d",
		e.Token, e.Requested, e.Available)
}

// ProofGenerationError reports a transient failure while building the zero
// knowledge proof. Always retryable.
type ProofGenerationError struct {
	Err error
}

func (e *ProofGenerationError) Error() string {
	return fmt.Sprintf("proof generation failed: %v", e.Err)
}

func (e *ProofGenerationError) Unwrap() error { return e.Err }

// SubmissionError reports a network or indexer rejection. Some instances
// (gateway trouble, timeouts) are retryable, others (malformed or conflicting
// transaction) are terminal.
type SubmissionError struct {
	Retryable bool
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsRetryable classifies a BuildAndSubmit error per the retry policy:
// proof generation always retries, submissions retry when flagged, coin
// selection and anything else is terminal.
func IsRetryable(err error) bool {
	var proofErr *ProofGenerationError
	if errors.As(err, &proofErr) {
		return true
	}
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Retryable
	}
	return false
}
