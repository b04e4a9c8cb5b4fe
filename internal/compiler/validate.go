package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/attest/internal/ledger"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidName        = "E101" // ledger, role or index name malformed
	ErrInvalidKeyStrategy = "E102" // key is neither caller nor sequence
	ErrNoRoles            = "E103" // at least one role required
	ErrInvalidFieldType   = "E104" // invalid field kind
	ErrDuplicateName      = "E105" // duplicate role/index/field name
	ErrUnknownRole        = "E106" // index refers to undeclared role
	ErrInvalidSubject     = "E107" // subject field missing, optional or not a string
	ErrSubjectNotAllowed  = "E108" // subject set on a caller-keyed ledger
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled schema.
// Returns all errors found (does not fail-fast).
func Validate(s ledger.Schema) []ValidationError {
	var errs []ValidationError

	// E101: ledger name
	if !namePattern.MatchString(s.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("ledger name %q must match %s", s.Name, namePattern),
			Code:    ErrInvalidName,
		})
	}

	// E102: key strategy
	switch s.KeyStrategy {
	case ledger.CallerKey, ledger.SequenceKey:
	default:
		errs = append(errs, ValidationError{
			Field:   "key",
			Message: fmt.Sprintf("invalid key %q, must be \"caller\" or \"sequence\"", s.KeyStrategy),
			Code:    ErrInvalidKeyStrategy,
		})
	}

	// E103: roles
	if len(s.Roles) == 0 {
		errs = append(errs, ValidationError{
			Field:   "roles",
			Message: "at least one role is required",
			Code:    ErrNoRoles,
		})
	}
	roles := make(map[string]bool, len(s.Roles))
	for i, r := range s.Roles {
		field := fmt.Sprintf("roles[%d]", i)
		if !namePattern.MatchString(r) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("role name %q must match %s", r, namePattern),
				Code:    ErrInvalidName,
			})
		}
		if roles[r] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate role: %q", r),
				Code:    ErrDuplicateName,
			})
		}
		roles[r] = true
	}

	// Indexes
	dims := make(map[string]bool, len(s.Indexes))
	for i, idx := range s.Indexes {
		field := fmt.Sprintf("index[%d]", i)
		if !namePattern.MatchString(idx.Name) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("index name %q must match %s", idx.Name, namePattern),
				Code:    ErrInvalidName,
			})
		}
		if dims[idx.Name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate index: %q", idx.Name),
				Code:    ErrDuplicateName,
			})
		}
		dims[idx.Name] = true
		if !roles[idx.Role] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("index %q refers to undeclared role %q", idx.Name, idx.Role),
				Code:    ErrUnknownRole,
			})
		}
	}

	// Fields
	fields := make(map[string]ledger.FieldSpec, len(s.Fields))
	for _, f := range s.Fields {
		field := "fields." + f.Name
		if _, dup := fields[f.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate field: %q", f.Name),
				Code:    ErrDuplicateName,
			})
		}
		fields[f.Name] = f
		if !isValidKind(f.Kind) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid type %q for field %q", f.Kind, f.Name),
				Code:    ErrInvalidFieldType,
			})
		}
	}

	// E107/E108: subject field
	switch s.KeyStrategy {
	case ledger.SequenceKey:
		f, ok := fields[s.SubjectField]
		switch {
		case s.SubjectField == "":
			errs = append(errs, ValidationError{
				Field:   "subject",
				Message: "sequence-keyed ledgers need a subject field",
				Code:    ErrInvalidSubject,
			})
		case !ok:
			errs = append(errs, ValidationError{
				Field:   "subject",
				Message: fmt.Sprintf("subject %q is not a declared field", s.SubjectField),
				Code:    ErrInvalidSubject,
			})
		case f.Kind != ledger.KindString || !f.Required:
			errs = append(errs, ValidationError{
				Field:   "subject",
				Message: fmt.Sprintf("subject %q must be a required string field", s.SubjectField),
				Code:    ErrInvalidSubject,
			})
		}
	case ledger.CallerKey:
		if s.SubjectField != "" {
			errs = append(errs, ValidationError{
				Field:   "subject",
				Message: "caller-keyed ledgers validate the key; subject is not allowed",
				Code:    ErrSubjectNotAllowed,
			})
		}
	}

	return errs
}

func isValidKind(k ledger.FieldKind) bool {
	switch k {
	case ledger.KindString, ledger.KindInt, ledger.KindBool, ledger.KindList, ledger.KindObject:
		return true
	}
	return false
}
