package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

const (
	// DefaultDomainSeparator is mixed into token type derivation when a
	// descriptor does not carry its own separator.
	DefaultDomainSeparator = "custom_token"

	// ContractAddressHexLen is the expected length of a contract address
	// once the optional 0x prefix is stripped: 32 bytes, hex encoded.
	ContractAddressHexLen = 64
)

// TokenDescriptor is a registered non-native value type. Name is the human
// key; TokenTypeHex is derived, never supplied.
type TokenDescriptor struct {
	Name            string    `json:"name" db:"name"`
	Symbol          string    `json:"symbol" db:"symbol"`
	ContractAddress string    `json:"contract_address" db:"contract_address"`
	DomainSeparator string    `json:"domain_separator" db:"domain_separator"`
	TokenTypeHex    string    `json:"token_type" db:"token_type_hex"`
	Description     string    `json:"description,omitempty" db:"description"`
	Decimals        int       `json:"decimals" db:"decimals"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

func (d *TokenDescriptor) Validate() error {
	if d.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if strings.EqualFold(d.Name, NativeTokenName) {
		return &ValidationError{Field: "name", Message: "name is reserved for the native token"}
	}
	if d.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if _, err := NormalizeContractAddress(d.ContractAddress); err != nil {
		return err
	}
	if d.Decimals < 0 {
		return &ValidationError{Field: "decimals", Message: "decimals must not be negative"}
	}
	return nil
}

// NormalizeContractAddress strips an optional 0x prefix, lowercases the
// address and verifies it is exactly ContractAddressHexLen hex characters.
func NormalizeContractAddress(addr string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	trimmed = strings.ToLower(trimmed)
	if len(trimmed) != ContractAddressHexLen {
		return "", ErrInvalidAddress
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", ErrInvalidAddress
	}
	return trimmed, nil
}

// DeriveTokenType computes the token type for a (domainSeparator,
// contractAddress) pair. The derivation is a pure function: identical inputs
// always yield the identical hex digest, across processes and restarts.
// The separator is length-prefixed so distinct (separator, address) splits
// can never collide on the same byte stream.
func DeriveTokenType(domainSeparator, contractAddress string) (string, error) {
	if domainSeparator == "" {
		domainSeparator = DefaultDomainSeparator
	}
	normalized, err := NormalizeContractAddress(contractAddress)
	if err != nil {
		return "", err
	}
	addrBytes, err := hex.DecodeString(normalized)
	if err != nil {
		return "", ErrInvalidAddress
	}

	h := sha256.New()
	var sepLen [4]byte
	binary.BigEndian.PutUint32(sepLen[:], uint32(len(domainSeparator)))
	h.Write(sepLen[:])
	h.Write([]byte(domainSeparator))
	h.Write(addrBytes)
	return hex.EncodeToString(h.Sum(nil)), nil
}
