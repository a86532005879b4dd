package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dtutila/midnight-dega-sub002/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionRepository is the durable ledger of transfer records. Records
// are append-only in spirit: rows are created and transitioned, never
// deleted, and every transition lands in the history table.
type TransactionRepository interface {
	Create(ctx context.Context, record *domain.TransactionRecord) error
	GetByID(ctx context.Context, id string) (*domain.TransactionRecord, error)
	GetByExternalTxID(ctx context.Context, externalTxID string) (*domain.TransactionRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransactionRecord, error)
	List(ctx context.Context, stateFilter domain.TransactionState) ([]*domain.TransactionRecord, error)
	ListSentBefore(ctx context.Context, cutoff time.Time) ([]*domain.TransactionRecord, error)
	Transition(ctx context.Context, id string, to domain.TransactionState, update domain.TransitionUpdate) (*domain.TransactionRecord, error)
	IncrementRetry(ctx context.Context, id string, lastError string) error
	History(ctx context.Context, id string) ([]domain.Transition, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, external_tx_id, direction, token_name, destination, amount,
	state, idempotency_key, retry_count, last_error, created_at, updated_at`

func (r *transactionRepo) Create(ctx context.Context, record *domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (
			id, external_tx_id, direction, token_name, destination,
			amount, state, idempotency_key, retry_count, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		record.ID,
		record.ExternalTxID,
		record.Direction,
		record.TokenName,
		record.Destination,
		record.Amount,
		record.State,
		record.IdempotencyKey,
		record.RetryCount,
		record.LastError,
	).Scan(&record.CreatedAt, &record.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrDuplicateIdempotencyKey
	}
	return err
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *transactionRepo) GetByExternalTxID(ctx context.Context, externalTxID string) (*domain.TransactionRecord, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE external_tx_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, externalTxID))
}

func (r *transactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransactionRecord, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, key))
}

func (r *transactionRepo) List(ctx context.Context, stateFilter domain.TransactionState) ([]*domain.TransactionRecord, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions`
	args := []any{}
	if stateFilter != "" {
		query += ` WHERE state = $1`
		args = append(args, stateFilter)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *transactionRepo) ListSentBefore(ctx context.Context, cutoff time.Time) ([]*domain.TransactionRecord, error) {
	query := `SELECT` + transactionColumns + `
		FROM transactions
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC`

	rows, err := r.db.Query(ctx, query, domain.TxStateSent, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// Transition moves a record to a new state inside one short transaction:
// validate against the state machine, update the row, append the history
// entry. The row lock on the SELECT keeps concurrent transitions monotonic.
func (r *transactionRepo) Transition(ctx context.Context, id string, to domain.TransactionState, update domain.TransitionUpdate) (*domain.TransactionRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var from domain.TransactionState
	err = tx.QueryRow(ctx, `SELECT state FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(from, to) {
		return nil, domain.InvalidTransitionError(from, to)
	}

	query := `
		UPDATE transactions
		SET
			state = $1,
			external_tx_id = CASE WHEN $2 <> '' THEN $2 ELSE external_tx_id END,
			last_error = CASE WHEN $1 IN ('FAILED', 'FAILED_UNCONFIRMED') THEN $3 ELSE last_error END,
			updated_at = NOW()
		WHERE id = $4
		RETURNING` + transactionColumns

	record, err := r.scanOne(tx.QueryRow(ctx, query, to, update.ExternalTxID, update.Reason, id))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transaction_transitions (transaction_id, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4)`,
		id, from, to, update.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to append transition history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *transactionRepo) IncrementRetry(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE transactions
		SET
			retry_count = retry_count + 1,
			last_error = $1,
			updated_at = NOW()
		WHERE id = $2
	`

	tag, err := r.db.Exec(ctx, query, lastError, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *transactionRepo) History(ctx context.Context, id string) ([]domain.Transition, error) {
	query := `
		SELECT transaction_id, from_state, to_state, reason, occurred_at
		FROM transaction_transitions
		WHERE transaction_id = $1
		ORDER BY occurred_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.Transition
	for rows.Next() {
		var t domain.Transition
		if err := rows.Scan(&t.TransactionID, &t.FromState, &t.ToState, &t.Reason, &t.OccurredAt); err != nil {
			return nil, err
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

func (r *transactionRepo) scanOne(row pgx.Row) (*domain.TransactionRecord, error) {
	var record domain.TransactionRecord
	err := row.Scan(
		&record.ID,
		&record.ExternalTxID,
		&record.Direction,
		&record.TokenName,
		&record.Destination,
		&record.Amount,
		&record.State,
		&record.IdempotencyKey,
		&record.RetryCount,
		&record.LastError,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *transactionRepo) scanMany(rows pgx.Rows) ([]*domain.TransactionRecord, error) {
	var records []*domain.TransactionRecord
	for rows.Next() {
		var record domain.TransactionRecord
		if err := rows.Scan(
			&record.ID,
			&record.ExternalTxID,
			&record.Direction,
			&record.TokenName,
			&record.Destination,
			&record.Amount,
			&record.State,
			&record.IdempotencyKey,
			&record.RetryCount,
			&record.LastError,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
