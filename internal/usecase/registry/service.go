// Package registry owns the token catalog: registration with deterministic
// type derivation, batch loading and lookup.
package registry

import (
	"context"
	"errors"

	"github.com/dtutila/midnight-dega-sub002/internal/audit"
	"github.com/dtutila/midnight-dega-sub002/internal/domain"
	"github.com/dtutila/midnight-dega-sub002/internal/repository"

	"go.uber.org/zap"
)

// Result reports the outcome of registering one descriptor. Batch
// operations return one Result per entry, in input order.
type Result struct {
	Name         string `json:"name,omitempty"`
	TokenTypeHex string `json:"token_type,omitempty"`
	Registered   bool   `json:"registered"`
	Error        string `json:"error,omitempty"`
}

type Service struct {
	tokens repository.TokenRepository
	audit  audit.Recorder
	logger *zap.Logger
}

func NewService(tokens repository.TokenRepository, recorder audit.Recorder, logger *zap.Logger) *Service {
	return &Service{tokens: tokens, audit: recorder, logger: logger}
}

// Register validates one descriptor, derives its token type and persists it.
func (s *Service) Register(ctx context.Context, descriptor domain.TokenDescriptor) (*domain.TokenDescriptor, error) {
	if descriptor.DomainSeparator == "" {
		descriptor.DomainSeparator = domain.DefaultDomainSeparator
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}

	normalized, err := domain.NormalizeContractAddress(descriptor.ContractAddress)
	if err != nil {
		return nil, err
	}
	descriptor.ContractAddress = normalized

	tokenType, err := domain.DeriveTokenType(descriptor.DomainSeparator, descriptor.ContractAddress)
	if err != nil {
		return nil, err
	}
	descriptor.TokenTypeHex = tokenType

	if err := s.tokens.Create(ctx, &descriptor); err != nil {
		if errors.Is(err, domain.ErrDuplicateToken) {
			s.audit.Record(ctx, audit.Event{
				Kind:  audit.KindTokenRegisterError,
				Token: descriptor.Name,
				Error: err.Error(),
			})
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Kind:  audit.KindTokenRegistered,
		Token: descriptor.Name,
	})
	s.logger.Info("token registered",
		zap.String("name", descriptor.Name),
		zap.String("symbol", descriptor.Symbol),
		zap.String("token_type", descriptor.TokenTypeHex))

	return &descriptor, nil
}

// BatchRegister registers each descriptor independently. One entry failing
// neither blocks nor rolls back the others; the caller gets a per-entry
// report in input order.
func (s *Service) BatchRegister(ctx context.Context, descriptors []domain.TokenDescriptor) []Result {
	results := make([]Result, 0, len(descriptors))
	for _, descriptor := range descriptors {
		registered, err := s.Register(ctx, descriptor)
		if err != nil {
			results = append(results, Result{
				Name:  descriptor.Name,
				Error: err.Error(),
			})
			continue
		}
		results = append(results, Result{
			Name:         registered.Name,
			TokenTypeHex: registered.TokenTypeHex,
			Registered:   true,
		})
	}
	return results
}

// RegisterFromConfigString parses a delimiter-separated token list and
// batch-registers the entries that parse. A malformed entry surfaces as a
// per-entry parse failure.
func (s *Service) RegisterFromConfigString(ctx context.Context, raw string) []Result {
	var results []Result
	for _, entry := range ParseConfigString(raw) {
		if entry.Err != nil {
			s.logger.Warn("skipping malformed token config entry",
				zap.String("entry", entry.Raw),
				zap.Error(entry.Err))
			results = append(results, Result{
				Name:  entry.Raw,
				Error: "parse error: " + entry.Err.Error(),
			})
			continue
		}
		results = append(results, s.BatchRegister(ctx, []domain.TokenDescriptor{*entry.Descriptor})...)
	}
	return results
}

// Lookup resolves a descriptor by name first, then by symbol.
func (s *Service) Lookup(ctx context.Context, nameOrSymbol string) (*domain.TokenDescriptor, error) {
	descriptor, err := s.tokens.GetByName(ctx, nameOrSymbol)
	if err == nil {
		return descriptor, nil
	}
	if !errors.Is(err, domain.ErrTokenNotFound) {
		return nil, err
	}
	return s.tokens.GetBySymbol(ctx, nameOrSymbol)
}

// List returns all registered descriptors.
func (s *Service) List(ctx context.Context) ([]*domain.TokenDescriptor, error) {
	return s.tokens.List(ctx)
}

// UpdateMetadata corrects description and decimals, the only descriptor
// fields allowed to change after registration.
func (s *Service) UpdateMetadata(ctx context.Context, name, description string, decimals int) (*domain.TokenDescriptor, error) {
	if decimals < 0 {
		return nil, &domain.ValidationError{Field: "decimals", Message: "decimals must not be negative"}
	}
	return s.tokens.UpdateMetadata(ctx, name, description, decimals)
}
