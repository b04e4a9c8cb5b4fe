// Package compiler turns CUE ledger declarations into ledger.Schema values.
//
// A declaration lives under the top-level "ledger" struct:
//
//	ledger: "invoice-approval": {
//		key:     "sequence" // or "caller"
//		subject: "invoice_id"
//		roles: ["approver", "vendor"]
//		index: ["approver", "vendor"] // or {by_approver: "approver"}
//		fields: {
//			invoice_id: string
//			approved:   bool
//			note?:      string
//		}
//	}
//
// Fields marked optional with "?" are not required on write.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/attest/internal/ledger"
)

// CompileSchema parses a CUE value into a ledger.Schema.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the declaration struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`ledger: votes: { ... }`)
//	schema, err := CompileSchema(v.LookupPath(cue.ParsePath("ledger.votes")))
func CompileSchema(v cue.Value) (ledger.Schema, error) {
	if err := v.Err(); err != nil {
		return ledger.Schema{}, formatCUEError(err)
	}

	var s ledger.Schema

	// Name comes from the struct label.
	selectors := v.Path().Selectors()
	if len(selectors) > 0 {
		s.Name = selectorName(selectors[len(selectors)-1])
	}

	// key (required)
	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return ledger.Schema{}, &CompileError{
			Field:   "key",
			Message: `key is required ("caller" or "sequence")`,
			Pos:     v.Pos(),
		}
	}
	key, err := keyVal.String()
	if err != nil {
		return ledger.Schema{}, formatCUEError(err)
	}
	s.KeyStrategy = ledger.KeyStrategy(key)

	// subject (optional)
	if subjVal := v.LookupPath(cue.ParsePath("subject")); subjVal.Exists() {
		subject, err := subjVal.String()
		if err != nil {
			return ledger.Schema{}, formatCUEError(err)
		}
		s.SubjectField = subject
	}

	s.Roles, err = parseRoles(v)
	if err != nil {
		return ledger.Schema{}, err
	}

	s.Indexes, err = parseIndexes(v)
	if err != nil {
		return ledger.Schema{}, err
	}

	s.Fields, err = parseFields(v)
	if err != nil {
		return ledger.Schema{}, err
	}

	return s, nil
}

// parseRoles reads the roles list (required, at least one).
func parseRoles(v cue.Value) ([]string, error) {
	rolesVal := v.LookupPath(cue.ParsePath("roles"))
	if !rolesVal.Exists() {
		return nil, &CompileError{
			Field:   "roles",
			Message: "at least one role is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := rolesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var roles []string
	for iter.Next() {
		role, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return nil, &CompileError{
			Field:   "roles",
			Message: "at least one role is required",
			Pos:     rolesVal.Pos(),
		}
	}
	return roles, nil
}

// parseIndexes reads the index declaration. A list indexes each named role
// under a dimension of the same name; a struct maps dimension to role.
// Without an index declaration every role is indexed.
func parseIndexes(v cue.Value) ([]ledger.IndexDimension, error) {
	indexVal := v.LookupPath(cue.ParsePath("index"))
	if !indexVal.Exists() {
		roles, err := parseRoles(v)
		if err != nil {
			return nil, err
		}
		dims := make([]ledger.IndexDimension, 0, len(roles))
		for _, r := range roles {
			dims = append(dims, ledger.IndexDimension{Name: r, Role: r})
		}
		return dims, nil
	}

	var dims []ledger.IndexDimension
	switch indexVal.IncompleteKind() {
	case cue.ListKind:
		iter, err := indexVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			role, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			dims = append(dims, ledger.IndexDimension{Name: role, Role: role})
		}
	case cue.StructKind:
		iter, err := indexVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			role, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			dims = append(dims, ledger.IndexDimension{Name: selectorName(iter.Selector()), Role: role})
		}
	default:
		return nil, &CompileError{
			Field:   "index",
			Message: "index must be a list of roles or a struct of dimension: role",
			Pos:     indexVal.Pos(),
		}
	}
	return dims, nil
}

// parseFields reads content field declarations (optional).
func parseFields(v cue.Value) ([]ledger.FieldSpec, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, nil
	}

	iter, err := fieldsVal.Fields(cue.Optional(true))
	if err != nil {
		return nil, formatCUEError(err)
	}
	var fields []ledger.FieldSpec
	for iter.Next() {
		name := selectorName(iter.Selector())
		kind, err := extractKind(iter.Value())
		if err != nil {
			var ce *CompileError
			if errors.As(err, &ce) {
				ce.Field = "fields." + name
			}
			return nil, err
		}
		fields = append(fields, ledger.FieldSpec{
			Name:     name,
			Kind:     kind,
			Required: !iter.IsOptional(),
		})
	}
	return fields, nil
}

// extractKind converts a CUE type to a field kind.
// Floats are forbidden: record fields carry IR values only.
func extractKind(v cue.Value) (ledger.FieldKind, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return ledger.KindString, nil
	case cue.IntKind:
		return ledger.KindInt, nil
	case cue.BoolKind:
		return ledger.KindBool, nil
	case cue.ListKind:
		return ledger.KindList, nil
	case cue.StructKind:
		return ledger.KindObject, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func selectorName(sel cue.Selector) string {
	if sel.IsString() {
		return sel.Unquoted()
	}
	return sel.String()
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
