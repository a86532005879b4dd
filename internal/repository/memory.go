package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dtutila/midnight-dega-sub002/internal/domain"
)

// MemoryTransactionRepository is the in-memory TransactionRepository used by
// tests and local development. Same contract as the pgx implementation,
// including transition validation and history.
type MemoryTransactionRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.TransactionRecord
	byKey   map[string]string
	history map[string][]domain.Transition
}

func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{
		byID:    make(map[string]*domain.TransactionRecord),
		byKey:   make(map[string]string),
		history: make(map[string][]domain.Transition),
	}
}

func (r *MemoryTransactionRepository) Create(ctx context.Context, record *domain.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[record.ID]; exists {
		return domain.ErrDuplicateIdempotencyKey
	}
	if _, exists := r.byKey[record.IdempotencyKey]; exists {
		return domain.ErrDuplicateIdempotencyKey
	}

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	stored := *record
	r.byID[record.ID] = &stored
	r.byKey[record.IdempotencyKey] = record.ID
	return nil
}

func (r *MemoryTransactionRepository) GetByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *MemoryTransactionRepository) GetByExternalTxID(ctx context.Context, externalTxID string) (*domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if externalTxID == "" {
		return nil, domain.ErrTransactionNotFound
	}
	for _, record := range r.byID {
		if record.ExternalTxID == externalTxID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (r *MemoryTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *r.byID[id]
	return &copied, nil
}

func (r *MemoryTransactionRepository) List(ctx context.Context, stateFilter domain.TransactionState) ([]*domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*domain.TransactionRecord
	for _, record := range r.byID {
		if stateFilter != "" && record.State != stateFilter {
			continue
		}
		copied := *record
		records = append(records, &copied)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return strings.Compare(records[i].ID, records[j].ID) > 0
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (r *MemoryTransactionRepository) ListSentBefore(ctx context.Context, cutoff time.Time) ([]*domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*domain.TransactionRecord
	for _, record := range r.byID {
		if record.State == domain.TxStateSent && record.UpdatedAt.Before(cutoff) {
			copied := *record
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}

func (r *MemoryTransactionRepository) Transition(ctx context.Context, id string, to domain.TransactionState, update domain.TransitionUpdate) (*domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	if !domain.CanTransition(record.State, to) {
		return nil, domain.InvalidTransitionError(record.State, to)
	}

	from := record.State
	record.State = to
	if update.ExternalTxID != "" {
		record.ExternalTxID = update.ExternalTxID
	}
	if to == domain.TxStateFailed || to == domain.TxStateFailedUnconfirmed {
		record.LastError = update.Reason
	}
	record.UpdatedAt = time.Now().UTC()

	r.history[id] = append(r.history[id], domain.Transition{
		TransactionID: id,
		FromState:     from,
		ToState:       to,
		Reason:        update.Reason,
		OccurredAt:    record.UpdatedAt,
	})

	copied := *record
	return &copied, nil
}

func (r *MemoryTransactionRepository) IncrementRetry(ctx context.Context, id string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byID[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	record.RetryCount++
	record.LastError = lastError
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryTransactionRepository) History(ctx context.Context, id string) ([]domain.Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := make([]domain.Transition, len(r.history[id]))
	copy(history, r.history[id])
	return history, nil
}

// MemoryTokenRepository is the in-memory TokenRepository counterpart.
type MemoryTokenRepository struct {
	mu     sync.RWMutex
	byName map[string]*domain.TokenDescriptor
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{
		byName: make(map[string]*domain.TokenDescriptor),
	}
}

func (r *MemoryTokenRepository) Create(ctx context.Context, descriptor *domain.TokenDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[descriptor.Name]; exists {
		return domain.ErrDuplicateToken
	}

	now := time.Now().UTC()
	descriptor.CreatedAt = now
	descriptor.UpdatedAt = now

	stored := *descriptor
	r.byName[descriptor.Name] = &stored
	return nil
}

func (r *MemoryTokenRepository) GetByName(ctx context.Context, name string) (*domain.TokenDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptor, ok := r.byName[name]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	copied := *descriptor
	return &copied, nil
}

func (r *MemoryTokenRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.TokenDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *domain.TokenDescriptor
	for _, descriptor := range r.byName {
		if descriptor.Symbol != symbol {
			continue
		}
		if match == nil || descriptor.CreatedAt.Before(match.CreatedAt) {
			match = descriptor
		}
	}
	if match == nil {
		return nil, domain.ErrTokenNotFound
	}
	copied := *match
	return &copied, nil
}

func (r *MemoryTokenRepository) List(ctx context.Context) ([]*domain.TokenDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]*domain.TokenDescriptor, 0, len(r.byName))
	for _, descriptor := range r.byName {
		copied := *descriptor
		descriptors = append(descriptors, &copied)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors, nil
}

func (r *MemoryTokenRepository) UpdateMetadata(ctx context.Context, name, description string, decimals int) (*domain.TokenDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	descriptor, ok := r.byName[name]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	descriptor.Description = description
	descriptor.Decimals = decimals
	descriptor.UpdatedAt = time.Now().UTC()

	copied := *descriptor
	return &copied, nil
}
