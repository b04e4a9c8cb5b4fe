package ledger

import (
	"unicode/utf8"

	"github.com/roach88/attest/internal/ir"
)

const (
	// MaxIdentifierLength bounds identifiers in bytes. It caps storage key size.
	MaxIdentifierLength = 100

	// ClockSkewBudget is how far (in seconds) an asserted timestamp may run
	// ahead of the ledger clock. The bound is inclusive.
	ClockSkewBudget = 300
)

// ValidateIdentifier rejects empty identifiers, identifiers longer than
// MaxIdentifierLength bytes, and identifiers that are not valid UTF-8.
func ValidateIdentifier(id string) error {
	if id == "" {
		return newError(CodeInvalidIdentifier, "", "identifier is empty")
	}
	if len(id) > MaxIdentifierLength {
		return newError(CodeInvalidIdentifier, "",
			"identifier is %d bytes, max %d", len(id), MaxIdentifierLength)
	}
	if !utf8.ValidString(id) {
		return newError(CodeInvalidIdentifier, "", "identifier is not valid UTF-8")
	}
	return nil
}

// ValidateTimestamp rejects timestamps more than ClockSkewBudget seconds
// after now. There is no lower bound: old events may be backfilled.
func ValidateTimestamp(ts, now int64) error {
	if ts > now+ClockSkewBudget {
		return newError(CodeInvalidTimestamp, "",
			"timestamp %d is more than %ds after ledger time %d", ts, ClockSkewBudget, now)
	}
	return nil
}

// Validate checks an identifier and an asserted timestamp against now.
// It has no side effects.
func Validate(id string, ts, now int64) error {
	if err := ValidateIdentifier(id); err != nil {
		return err
	}
	return ValidateTimestamp(ts, now)
}

func validateRole(role string, id Identity) error {
	if err := ValidateIdentifier(string(id)); err != nil {
		le := err.(*Error)
		return newError(CodeInvalidIdentifier, "", "party %q: %s", role, le.Message)
	}
	return nil
}

func fieldTypeError(name string, want FieldKind, got ir.IRValue) error {
	return newError(CodeInvalidPayload, "", "field %q must be %s, got %s", name, want, kindOf(got))
}
