package registry

import (
	"fmt"
	"strings"

	"github.com/dtutila/midnight-dega-sub002/internal/domain"
)

const (
	entrySeparator = "|"
	fieldSeparator = ":"
)

// ParsedEntry is the tagged result of parsing one config-string entry.
// Exactly one of Descriptor and Err is set.
type ParsedEntry struct {
	Raw        string
	Descriptor *domain.TokenDescriptor
	Err        error
}

// ParseConfigString splits a NAME:SYMBOL:CONTRACT:DOMAIN_SEPARATOR:DESCRIPTION
// list (entries separated by |, the last two fields optional) into
// descriptors. A malformed entry yields a per-entry error and never aborts
// parsing of its siblings. Blank entries are skipped.
func ParseConfigString(raw string) []ParsedEntry {
	var entries []ParsedEntry
	for _, part := range strings.Split(raw, entrySeparator) {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		entries = append(entries, parseEntry(trimmed))
	}
	return entries
}

func parseEntry(raw string) ParsedEntry {
	fields := strings.SplitN(raw, fieldSeparator, 5)
	if len(fields) < 3 {
		return ParsedEntry{
			Raw: raw,
			Err: fmt.Errorf("expected at least NAME:SYMBOL:CONTRACT, got %d field(s)", len(fields)),
		}
	}

	name := strings.TrimSpace(fields[0])
	symbol := strings.TrimSpace(fields[1])
	contract := strings.TrimSpace(fields[2])
	if name == "" || symbol == "" || contract == "" {
		return ParsedEntry{Raw: raw, Err: fmt.Errorf("NAME, SYMBOL and CONTRACT are mandatory")}
	}

	descriptor := &domain.TokenDescriptor{
		Name:            name,
		Symbol:          symbol,
		ContractAddress: contract,
		DomainSeparator: domain.DefaultDomainSeparator,
	}
	if len(fields) >= 4 {
		if sep := strings.TrimSpace(fields[3]); sep != "" {
			descriptor.DomainSeparator = sep
		}
	}
	if len(fields) == 5 {
		descriptor.Description = strings.TrimSpace(fields[4])
	}
	return ParsedEntry{Raw: raw, Descriptor: descriptor}
}
