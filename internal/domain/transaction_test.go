package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to TransactionState
	}{
		{TxStateCreated, TxStateSubmitting},
		{TxStateSubmitting, TxStateSent},
		{TxStateSubmitting, TxStateFailed},
		{TxStateSent, TxStateCompleted},
		{TxStateSent, TxStateFailedUnconfirmed},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct {
		from, to TransactionState
	}{
		{TxStateCreated, TxStateSent},
		{TxStateCreated, TxStateCompleted},
		{TxStateCreated, TxStateFailed},
		{TxStateSubmitting, TxStateCompleted},
		{TxStateSubmitting, TxStateCreated},
		{TxStateSent, TxStateFailed},
		{TxStateSent, TxStateSubmitting},
		{TxStateCompleted, TxStateFailedUnconfirmed},
		{TxStateCompleted, TxStateSent},
		{TxStateFailed, TxStateSubmitting},
		{TxStateFailedUnconfirmed, TxStateCompleted},
		{TxStateFailedUnconfirmed, TxStateSent},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, state := range []TransactionState{TxStateCompleted, TxStateFailed, TxStateFailedUnconfirmed} {
		if !IsTerminal(state) {
			t.Errorf("expected %s to be terminal", state)
		}
	}
	for _, state := range []TransactionState{TxStateCreated, TxStateSubmitting, TxStateSent} {
		if IsTerminal(state) {
			t.Errorf("expected %s not to be terminal", state)
		}
	}
}

func TestTransferRequestValidate(t *testing.T) {
	valid := TransferRequest{
		IdempotencyKey: "k1",
		TokenName:      "NATIVE",
		Destination:    "addrX",
		Amount:         1000,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	cases := []struct {
		name string
		req  TransferRequest
	}{
		{"missing key", TransferRequest{TokenName: "NATIVE", Destination: "addrX", Amount: 1}},
		{"missing token", TransferRequest{IdempotencyKey: "k1", Destination: "addrX", Amount: 1}},
		{"missing destination", TransferRequest{IdempotencyKey: "k1", TokenName: "NATIVE", Amount: 1}},
		{"zero amount", TransferRequest{IdempotencyKey: "k1", TokenName: "NATIVE", Destination: "addrX"}},
		{"negative amount", TransferRequest{IdempotencyKey: "k1", TokenName: "NATIVE", Destination: "addrX", Amount: -5}},
	}
	for _, tc := range cases {
		err := tc.req.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", tc.name)
			continue
		}
		if !IsValidation(err) {
			t.Errorf("%s: expected ValidationError, got %T", tc.name, err)
		}
	}
}
