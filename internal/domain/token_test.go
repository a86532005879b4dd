package domain

import (
	"strings"
	"testing"
)

const testContract = "00d702ab2a0d02bb29b9c57bd0afa8b2cfbd9e6b0bba1c21c41d2da20547436c"

func TestDeriveTokenTypeDeterministic(t *testing.T) {
	first, err := DeriveTokenType("custom_token", testContract)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d (%q)", len(first), first)
	}

	for i := 0; i < 10; i++ {
		again, err := DeriveTokenType("custom_token", testContract)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if again != first {
			t.Fatalf("derivation not deterministic: %q vs %q", first, again)
		}
	}
}

func TestDeriveTokenTypeDefaultSeparator(t *testing.T) {
	explicit, err := DeriveTokenType(DefaultDomainSeparator, testContract)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	implicit, err := DeriveTokenType("", testContract)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if explicit != implicit {
		t.Fatalf("empty separator should use the default: %q vs %q", implicit, explicit)
	}
}

func TestDeriveTokenTypeSeparatorMatters(t *testing.T) {
	a, err := DeriveTokenType("namespace_a", testContract)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	b, err := DeriveTokenType("namespace_b", testContract)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if a == b {
		t.Fatal("different separators must derive different token types")
	}
}

func TestDeriveTokenTypePrefixInsensitive(t *testing.T) {
	bare, err := DeriveTokenType("", testContract)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	prefixed, err := DeriveTokenType("", "0x"+testContract)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	upper, err := DeriveTokenType("", strings.ToUpper(testContract))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if bare != prefixed || bare != upper {
		t.Fatal("address normalization must not change the derivation")
	}
}

func TestNormalizeContractAddress(t *testing.T) {
	normalized, err := NormalizeContractAddress("0x" + strings.ToUpper(testContract))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if normalized != testContract {
		t.Fatalf("expected %q, got %q", testContract, normalized)
	}

	bad := []string{
		"",
		"abc123",
		testContract + "00",
		testContract[:62],
		strings.Repeat("zz", 32),
	}
	for _, addr := range bad {
		if _, err := NormalizeContractAddress(addr); err != ErrInvalidAddress {
			t.Errorf("address %q: expected ErrInvalidAddress, got %v", addr, err)
		}
	}
}

func TestTokenDescriptorValidate(t *testing.T) {
	valid := TokenDescriptor{
		Name:            "FUND",
		Symbol:          "FND",
		ContractAddress: testContract,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid descriptor, got %v", err)
	}

	reserved := valid
	reserved.Name = "native"
	if err := reserved.Validate(); err == nil {
		t.Error("expected reserved name to be rejected")
	}

	badAddr := valid
	badAddr.ContractAddress = "nothex"
	if err := badAddr.Validate(); err == nil {
		t.Error("expected invalid address to be rejected")
	}

	negDecimals := valid
	negDecimals.Decimals = -1
	if err := negDecimals.Validate(); err == nil {
		t.Error("expected negative decimals to be rejected")
	}
}
