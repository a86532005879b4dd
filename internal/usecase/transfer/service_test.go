package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dtutila/midnight-dega-sub002/internal/audit"
	"github.com/dtutila/midnight-dega-sub002/internal/domain"
	"github.com/dtutila/midnight-dega-sub002/internal/repository"
	"github.com/dtutila/midnight-dega-sub002/internal/wallet"

	"go.uber.org/zap"
)

type testEnv struct {
	svc      *Service
	ledger   *repository.MemoryTransactionRepository
	session  *wallet.MemorySession
	recorder *audit.MemoryRecorder
}

func newTestEnv(t *testing.T, balances map[string]int64, cfg Config) *testEnv {
	t.Helper()

	ledger := repository.NewMemoryTransactionRepository()
	tokens := repository.NewMemoryTokenRepository()
	session := wallet.NewMemorySession(balances, 16, zap.NewNop())
	recorder := audit.NewMemoryRecorder()

	svc := NewService(ledger, tokens, session, recorder, nil, cfg, zap.NewNop())
	svc.Start()
	t.Cleanup(svc.Close)

	return &testEnv{svc: svc, ledger: ledger, session: session, recorder: recorder}
}

func waitForState(t *testing.T, ledger repository.TransactionRepository, id string, want domain.TransactionState) *domain.TransactionRecord {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		record, err := ledger.GetByID(context.Background(), id)
		if err == nil && record.State == want {
			return record
		}
		if time.Now().After(deadline) {
			state := domain.TransactionState("<missing>")
			if err == nil {
				state = record.State
			}
			t.Fatalf("transaction %s never reached %s, last state %s", id, want, state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForTerminal(t *testing.T, ledger repository.TransactionRepository, id string) *domain.TransactionRecord {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		record, err := ledger.GetByID(context.Background(), id)
		if err == nil && (record.State == domain.TxStateSent || domain.IsTerminal(record.State)) {
			return record
		}
		if time.Now().After(deadline) {
			t.Fatalf("transaction %s never settled", id)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func nativeRequest(key string, amount int64) domain.TransferRequest {
	return domain.TransferRequest{
		TokenName:      domain.NativeTokenName,
		Destination:    "addr-dest",
		Amount:         amount,
		IdempotencyKey: key,
	}
}

func TestCreateTransfer_SubmitsAndDebits(t *testing.T) {
	env := newTestEnv(t, map[string]int64{"native": 1000}, Config{})

	record, err := env.svc.CreateTransfer(context.Background(), nativeRequest("k1", 400))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if record.State != domain.TxStateCreated {
		t.Fatalf("expected CREATED on admission, got %s", record.State)
	}

	sent := waitForState(t, env.ledger, record.ID, domain.TxStateSent)
	if sent.ExternalTxID == "" {
		t.Fatal("expected an external transaction id after submission")
	}
	if balance := env.session.Balance("native"); balance != 600 {
		t.Fatalf("expected provisional spend to leave 600, got %d", balance)
	}

	history, err := env.svc.History(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(history) != 2 ||
		history[0].ToState != domain.TxStateSubmitting ||
		history[1].ToState != domain.TxStateSent {
		t.Fatalf("unexpected history: %+v", history)
	}

	if events := env.recorder.EventsOfKind(audit.KindTransferSent); len(events) != 1 {
		t.Fatalf("expected one transfer-sent audit event, got %d", len(events))
	}
}

func TestCreateTransfer_RejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, map[string]int64{"native": 1000}, Config{})
	ctx := context.Background()

	cases := []domain.TransferRequest{
		{TokenName: domain.NativeTokenName, Destination: "addr", Amount: 0, IdempotencyKey: "k"},
		{TokenName: domain.NativeTokenName, Destination: "addr", Amount: -5, IdempotencyKey: "k"},
		{TokenName: domain.NativeTokenName, Destination: "", Amount: 10, IdempotencyKey: "k"},
		{TokenName: domain.NativeTokenName, Destination: "addr", Amount: 10, IdempotencyKey: ""},
		{TokenName: "", Destination: "addr", Amount: 10, IdempotencyKey: "k"},
	}
	for i, req := range cases {
		if _, err := env.svc.CreateTransfer(ctx, req); !domain.IsValidation(err) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCreateTransfer_UnregisteredToken(t *testing.T) {
	env := newTestEnv(t, map[string]int64{"native": 1000}, Config{})

	req := domain.TransferRequest{
		TokenName:      "UNKNOWN",
		Destination:    "addr",
		Amount:         10,
		IdempotencyKey: "k1",
	}
	if _, err := env.svc.CreateTransfer(context.Background(), req); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unregistered token, got %v", err)
	}
}

func TestCreateTransfer_IdempotencyReturnsExistingRecord(t *testing.T) {
	env := newTestEnv(t, map[string]int64{"native": 1000}, Config{})
	ctx := context.Background()

	first, err := env.svc.CreateTransfer(ctx, nativeRequest("k1", 100))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	waitForState(t, env.ledger, first.ID, domain.TxStateSent)

	second, err := env.svc.CreateTransfer(ctx, nativeRequest("k1", 100))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the existing record back, got %s vs %s", second.ID, first.ID)
	}
	if second.State != domain.TxStateSent {
		t.Fatalf("expected the record in its current state, got %s", second.State)
	}

	// The duplicate never reached the wallet.
	if calls := env.session.SubmitCalls(); calls != 1 {
		t.Fatalf("expected 1 submission, got %d", calls)
	}
	if balance := env.session.Balance("native"); balance != 900 {
		t.Fatalf("expected a single debit, got balance %d", balance)
	}
}

func TestCreateTransfer_ContentionSerializesAndDebitsOnce(t *testing.T) {
	const workers = 5
	// Funds for exactly one of the competing transfers.
	env := newTestEnv(t, map[string]int64{"native": 100}, Config{QueueDepth: workers})
	ctx := context.Background()

	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := env.svc.CreateTransfer(ctx, nativeRequest(fmt.Sprintf("k-%d", i), 100))
			if err != nil {
				t.Errorf("worker %d: expected admission, got %v", i, err)
				return
			}
			ids[i] = record.ID
		}(i)
	}
	wg.Wait()

	var sentCount, failedCount int
	for _, id := range ids {
		if id == "" {
			continue
		}
		record := waitForTerminal(t, env.ledger, id)
		switch record.State {
		case domain.TxStateSent:
			sentCount++
		case domain.TxStateFailed:
			failedCount++
			if record.LastError == "" {
				t.Errorf("expected a coin selection reason on %s", id)
			}
		default:
			t.Errorf("unexpected terminal state %s for %s", record.State, id)
		}
	}

	if sentCount != 1 || failedCount != workers-1 {
		t.Fatalf("expected 1 sent and %d failed, got %d sent %d failed", workers-1, sentCount, failedCount)
	}
	if balance := env.session.Balance("native"); balance != 0 {
		t.Fatalf("expected the balance spent exactly once, got %d", balance)
	}
	if max := env.session.MaxConcurrentSubmits(); max != 1 {
		t.Fatalf("expected serialized submissions, observed %d in flight", max)
	}
}

func TestCreateTransfer_BusyWhenQueueFull(t *testing.T) {
	env := newTestEnv(t, map[string]int64{"native": 1000}, Config{QueueDepth: 1})
	ctx := context.Background()

	release := make(chan struct{})
	env.session.SubmitHook = func(spec wallet.TransferSpec) (string, error) {
		<-release
		return "mem-tx-blocked", nil
	}

	first, err := env.svc.CreateTransfer(ctx, nativeRequest("k1", 10))
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}

	// The single queue slot stays held until the worker finishes.
	if _, err := env.svc.CreateTransfer(ctx, nativeRequest("k2", 10)); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(release)
	waitForState(t, env.ledger, first.ID, domain.TxStateSent)

	// The rejected request left no durable trace.
	if _, err := env.ledger.GetByIdempotencyKey(ctx, "k2"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected no record for the rejected request, got %v", err)
	}
}

func TestProcess_RetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t, nil, Config{
		Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	})

	var calls int32
	var mu sync.Mutex
	env.session.SubmitHook = func(spec wallet.TransferSpec) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return "", &wallet.SubmissionError{Retryable: true, Err: errors.New("indexer unavailable")}
		}
		return "mem-tx-retried", nil
	}

	record, err := env.svc.CreateTransfer(context.Background(), nativeRequest("k1", 10))
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}

	sent := waitForState(t, env.ledger, record.ID, domain.TxStateSent)
	if sent.RetryCount != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", sent.RetryCount)
	}
	if sent.ExternalTxID != "mem-tx-retried" {
		t.Fatalf("unexpected external id %q", sent.ExternalTxID)
	}
	if events := env.recorder.EventsOfKind(audit.KindAttemptFailed); len(events) != 2 {
		t.Fatalf("expected 2 attempt-failed audit events, got %d", len(events))
	}
}

func TestProcess_ExhaustsRetriesAndFails(t *testing.T) {
	env := newTestEnv(t, nil, Config{
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	})

	env.session.SubmitHook = func(spec wallet.TransferSpec) (string, error) {
		return "", &wallet.SubmissionError{Retryable: true, Err: errors.New("node down")}
	}

	record, err := env.svc.CreateTransfer(context.Background(), nativeRequest("k1", 10))
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}

	failed := waitForState(t, env.ledger, record.ID, domain.TxStateFailed)
	if failed.LastError == "" {
		t.Fatal("expected the failure reason preserved")
	}
	if calls := env.session.SubmitCalls(); calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if events := env.recorder.EventsOfKind(audit.KindTransferFailed); len(events) != 1 {
		t.Fatalf("expected one transfer-failed audit event, got %d", len(events))
	}
}

func TestProcess_TerminalFailureDoesNotRetry(t *testing.T) {
	env := newTestEnv(t, nil, Config{
		Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	})

	env.session.SubmitHook = func(spec wallet.TransferSpec) (string, error) {
		return "", &wallet.CoinSelectionError{Token: "native", Requested: 10, Available: 0}
	}

	record, err := env.svc.CreateTransfer(context.Background(), nativeRequest("k1", 10))
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}

	waitForState(t, env.ledger, record.ID, domain.TxStateFailed)
	if calls := env.session.SubmitCalls(); calls != 1 {
		t.Fatalf("expected a single attempt for a terminal failure, got %d", calls)
	}
}

func TestGetTransaction_ByInternalAndExternalID(t *testing.T) {
	env := newTestEnv(t, map[string]int64{"native": 1000}, Config{})
	ctx := context.Background()

	record, err := env.svc.CreateTransfer(ctx, nativeRequest("k1", 10))
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
	sent := waitForState(t, env.ledger, record.ID, domain.TxStateSent)

	byInternal, err := env.svc.GetTransaction(ctx, record.ID)
	if err != nil {
		t.Fatalf("expected lookup by internal id, got %v", err)
	}
	if byInternal.ID != record.ID {
		t.Fatalf("unexpected record: %+v", byInternal)
	}

	byExternal, err := env.svc.GetTransaction(ctx, sent.ExternalTxID)
	if err != nil {
		t.Fatalf("expected lookup by external id, got %v", err)
	}
	if byExternal.ID != record.ID {
		t.Fatalf("unexpected record: %+v", byExternal)
	}

	if _, err := env.svc.GetTransaction(ctx, "nope"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestClose_StopsAdmission(t *testing.T) {
	ledger := repository.NewMemoryTransactionRepository()
	tokens := repository.NewMemoryTokenRepository()
	session := wallet.NewMemorySession(map[string]int64{"native": 1000}, 16, zap.NewNop())
	svc := NewService(ledger, tokens, session, audit.NopRecorder{}, nil, Config{}, zap.NewNop())
	svc.Start()

	record, err := svc.CreateTransfer(context.Background(), nativeRequest("k1", 10))
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}

	svc.Close()

	// Close drains already-admitted work before returning.
	got, err := ledger.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if got.State != domain.TxStateSent {
		t.Fatalf("expected queued work drained to SENT, got %s", got.State)
	}

	if _, err := svc.CreateTransfer(context.Background(), nativeRequest("k2", 10)); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy after shutdown, got %v", err)
	}
}
