package domain

import (
	"errors"
	"fmt"
	"time"
)

type TransactionDirection string

type TransactionState string

const (
	DirectionOutgoing TransactionDirection = "outgoing"
)

const (
	TxStateCreated           TransactionState = "CREATED"
	TxStateSubmitting        TransactionState = "SUBMITTING"
	TxStateSent              TransactionState = "SENT"
	TxStateCompleted         TransactionState = "COMPLETED"
	TxStateFailed            TransactionState = "FAILED"
	TxStateFailedUnconfirmed TransactionState = "FAILED_UNCONFIRMED"
)

// NativeTokenName is the reserved token name for transfers of the ledger's
// native value. It never appears in the token registry.
const NativeTokenName = "NATIVE"

// allowedTransitions is the complete state machine. A transition absent from
// this map is rejected; records only ever move forward.
var allowedTransitions = map[TransactionState][]TransactionState{
	TxStateCreated:    {TxStateSubmitting},
	TxStateSubmitting: {TxStateSent, TxStateFailed},
	TxStateSent:       {TxStateCompleted, TxStateFailedUnconfirmed},
}

// CanTransition reports whether moving a record from one state to another is
// permitted by the state machine.
func CanTransition(from, to TransactionState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(state TransactionState) bool {
	return len(allowedTransitions[state]) == 0
}

// TransactionRecord is the durable lifecycle record of a single transfer
// request. Records are never deleted; state changes are appended to a
// transition history for replay.
type TransactionRecord struct {
	ID             string               `json:"id" db:"id"`
	ExternalTxID   string               `json:"external_tx_id,omitempty" db:"external_tx_id"`
	Direction      TransactionDirection `json:"direction" db:"direction"`
	TokenName      string               `json:"token" db:"token_name"`
	Destination    string               `json:"destination" db:"destination"`
	Amount         int64                `json:"amount" db:"amount"`
	State          TransactionState     `json:"state" db:"state"`
	IdempotencyKey string               `json:"idempotency_key" db:"idempotency_key"`
	RetryCount     int                  `json:"retry_count" db:"retry_count"`
	LastError      string               `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" db:"updated_at"`
}

// Transition is a single entry in a record's append-only state history.
type Transition struct {
	TransactionID string           `json:"transaction_id" db:"transaction_id"`
	FromState     TransactionState `json:"from_state" db:"from_state"`
	ToState       TransactionState `json:"to_state" db:"to_state"`
	Reason        string           `json:"reason,omitempty" db:"reason"`
	OccurredAt    time.Time        `json:"occurred_at" db:"occurred_at"`
}

// TransitionUpdate carries the fields that may change alongside a state
// transition. ExternalTxID is only honored on the transition to SENT;
// Reason lands in the history entry and, for failure states, in LastError.
type TransitionUpdate struct {
	ExternalTxID string
	Reason       string
}

// TransferRequest is a validated inbound request to move value.
type TransferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	TokenName      string `json:"token"`
	Destination    string `json:"destination"`
	Amount         int64  `json:"amount"`
}

func (r *TransferRequest) Validate() error {
	if r.IdempotencyKey == "" {
		return &ValidationError{Field: "idempotency_key", Message: "idempotency key is required"}
	}
	if r.TokenName == "" {
		return &ValidationError{Field: "token", Message: "token is required"}
	}
	if r.Destination == "" {
		return &ValidationError{Field: "destination", Message: "destination is required"}
	}
	if r.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "amount must be greater than 0"}
	}
	return nil
}

// ErrInvalidTransition is wrapped with the offending states by Transition
// implementations.
var ErrInvalidTransition = errors.New("invalid state transition")

// InvalidTransitionError builds the canonical wrapped transition error.
func InvalidTransitionError(from, to TransactionState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
