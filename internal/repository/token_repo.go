package repository

import (
	"context"
	"errors"

	"github.com/dtutila/midnight-dega-sub002/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRepository persists the token registry. Descriptors are keyed by name
// and never deleted; only description and decimals may change after
// registration.
type TokenRepository interface {
	Create(ctx context.Context, descriptor *domain.TokenDescriptor) error
	GetByName(ctx context.Context, name string) (*domain.TokenDescriptor, error)
	GetBySymbol(ctx context.Context, symbol string) (*domain.TokenDescriptor, error)
	List(ctx context.Context) ([]*domain.TokenDescriptor, error)
	UpdateMetadata(ctx context.Context, name, description string, decimals int) (*domain.TokenDescriptor, error)
}

type tokenRepo struct {
	db *pgxpool.Pool
}

func NewTokenRepository(db *pgxpool.Pool) TokenRepository {
	return &tokenRepo{db: db}
}

const tokenColumns = `
	name, symbol, contract_address, domain_separator, token_type_hex,
	description, decimals, created_at, updated_at`

func (r *tokenRepo) Create(ctx context.Context, descriptor *domain.TokenDescriptor) error {
	query := `
		INSERT INTO token_registry (
			name, symbol, contract_address, domain_separator,
			token_type_hex, description, decimals
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		descriptor.Name,
		descriptor.Symbol,
		descriptor.ContractAddress,
		descriptor.DomainSeparator,
		descriptor.TokenTypeHex,
		descriptor.Description,
		descriptor.Decimals,
	).Scan(&descriptor.CreatedAt, &descriptor.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrDuplicateToken
	}
	return err
}

func (r *tokenRepo) GetByName(ctx context.Context, name string) (*domain.TokenDescriptor, error) {
	query := `SELECT` + tokenColumns + ` FROM token_registry WHERE name = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, name))
}

func (r *tokenRepo) GetBySymbol(ctx context.Context, symbol string) (*domain.TokenDescriptor, error) {
	query := `SELECT` + tokenColumns + ` FROM token_registry WHERE symbol = $1 ORDER BY created_at ASC LIMIT 1`
	return r.scanOne(r.db.QueryRow(ctx, query, symbol))
}

func (r *tokenRepo) List(ctx context.Context) ([]*domain.TokenDescriptor, error) {
	query := `SELECT` + tokenColumns + ` FROM token_registry ORDER BY name ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var descriptors []*domain.TokenDescriptor
	for rows.Next() {
		var d domain.TokenDescriptor
		if err := rows.Scan(
			&d.Name, &d.Symbol, &d.ContractAddress, &d.DomainSeparator,
			&d.TokenTypeHex, &d.Description, &d.Decimals, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, &d)
	}
	return descriptors, rows.Err()
}

func (r *tokenRepo) UpdateMetadata(ctx context.Context, name, description string, decimals int) (*domain.TokenDescriptor, error) {
	query := `
		UPDATE token_registry
		SET description = $1, decimals = $2, updated_at = NOW()
		WHERE name = $3
		RETURNING` + tokenColumns

	return r.scanOne(r.db.QueryRow(ctx, query, description, decimals, name))
}

func (r *tokenRepo) scanOne(row pgx.Row) (*domain.TokenDescriptor, error) {
	var d domain.TokenDescriptor
	err := row.Scan(
		&d.Name, &d.Symbol, &d.ContractAddress, &d.DomainSeparator,
		&d.TokenTypeHex, &d.Description, &d.Decimals, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
