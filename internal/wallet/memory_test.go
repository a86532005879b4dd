package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMemorySession_SpendsProvisionally(t *testing.T) {
	session := NewMemorySession(map[string]int64{"native": 500}, 4, zap.NewNop())
	ctx := context.Background()

	txID, err := session.BuildAndSubmit(ctx, TransferSpec{Destination: "addr", Amount: 200})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if txID == "" {
		t.Fatal("expected an external tx id")
	}
	if balance := session.Balance("native"); balance != 300 {
		t.Fatalf("expected 300 remaining, got %d", balance)
	}

	// Spending again from the reduced balance fails coin selection even
	// though the first transfer was never confirmed.
	_, err = session.BuildAndSubmit(ctx, TransferSpec{Destination: "addr", Amount: 400})
	var coinErr *CoinSelectionError
	if !errors.As(err, &coinErr) {
		t.Fatalf("expected CoinSelectionError, got %v", err)
	}
	if coinErr.Available != 300 {
		t.Fatalf("expected 300 available in error, got %d", coinErr.Available)
	}
}

func TestMemorySession_TokenBalancesAreIndependent(t *testing.T) {
	session := NewMemorySession(map[string]int64{"native": 100, "tok-a": 50}, 4, zap.NewNop())
	ctx := context.Background()

	if _, err := session.BuildAndSubmit(ctx, TransferSpec{Destination: "addr", Amount: 50, TokenTypeHex: "tok-a"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if balance := session.Balance("tok-a"); balance != 0 {
		t.Fatalf("expected tok-a spent, got %d", balance)
	}
	if balance := session.Balance("native"); balance != 100 {
		t.Fatalf("expected native untouched, got %d", balance)
	}
}

func TestMemorySession_ConfirmDeliversOnStream(t *testing.T) {
	session := NewMemorySession(nil, 4, zap.NewNop())
	session.Confirm("E1")

	conf := <-session.Confirmations()
	if conf.ExternalTxID != "E1" {
		t.Fatalf("expected E1, got %q", conf.ExternalTxID)
	}
	if conf.ObservedAt.IsZero() {
		t.Fatal("expected an observation timestamp")
	}
}

func TestPushConfirmation_DropsOldestOnOverflow(t *testing.T) {
	ch := make(chan Confirmation, 2)
	logger := zap.NewNop()

	for i := 1; i <= 5; i++ {
		pushConfirmation(ch, Confirmation{ExternalTxID: fmt.Sprintf("E%d", i)}, logger)
	}

	// Buffer holds the newest two; E1 through E3 were dropped and the
	// producer never blocked.
	first := <-ch
	second := <-ch
	if first.ExternalTxID != "E4" || second.ExternalTxID != "E5" {
		t.Fatalf("expected E4 and E5 retained, got %s and %s", first.ExternalTxID, second.ExternalTxID)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra confirmation %s", extra.ExternalTxID)
	default:
	}
}

func TestMemorySession_StatusSnapshot(t *testing.T) {
	session := NewMemorySession(map[string]int64{"native": 100, "tok-a": 50}, 4, zap.NewNop())

	status, err := session.Status(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !status.Synced {
		t.Fatal("expected synced")
	}
	if status.Balances["native"] != 100 || status.Balances["tok-a"] != 50 {
		t.Fatalf("unexpected balances: %+v", status.Balances)
	}
}

func TestMemorySession_TracksConcurrency(t *testing.T) {
	session := NewMemorySession(nil, 4, zap.NewNop())
	release := make(chan struct{})
	session.SubmitHook = func(spec TransferSpec) (string, error) {
		<-release
		return "tx", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := session.BuildAndSubmit(context.Background(), TransferSpec{Destination: "addr", Amount: 1}); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}

	// All three enter before any is released.
	deadline := make(chan struct{})
	go func() {
		wg.Wait()
		close(deadline)
	}()
	for session.SubmitCalls() < 3 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	<-deadline

	if max := session.MaxConcurrentSubmits(); max != 3 {
		t.Fatalf("expected 3 concurrent submits observed, got %d", max)
	}
	if calls := session.SubmitCalls(); calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}
