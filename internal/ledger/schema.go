package ledger

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/roach88/attest/internal/ir"
)

// KeyStrategy decides where a record's primary key comes from.
type KeyStrategy string

const (
	// CallerKey uses the caller-supplied Request.Key.
	CallerKey KeyStrategy = "caller"

	// SequenceKey assigns the decimal commit sequence (1, 2, 3, ...).
	SequenceKey KeyStrategy = "sequence"
)

// FieldKind is the type a content field must carry.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindBool   FieldKind = "bool"
	KindList   FieldKind = "list"
	KindObject FieldKind = "object"
)

// FieldSpec declares one content field of a record.
type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Kind     FieldKind `json:"kind" yaml:"kind"`
	Required bool      `json:"required" yaml:"required"`
}

// IndexDimension is one secondary index: records are listed under the
// identity that fills Role.
type IndexDimension struct {
	Name string `json:"name" yaml:"name"`
	Role string `json:"role" yaml:"role"`
}

// Schema parameterizes the write path: how keys are assigned, which parties
// a record names, which of them are indexed, and which fields it carries.
type Schema struct {
	Name        string           `json:"name" yaml:"name"`
	KeyStrategy KeyStrategy      `json:"key_strategy" yaml:"key_strategy"`
	Roles       []string         `json:"roles" yaml:"roles"`
	Indexes     []IndexDimension `json:"indexes" yaml:"indexes"`
	Fields      []FieldSpec      `json:"fields,omitempty" yaml:"fields,omitempty"`

	// SubjectField names the string field validated as the record's
	// identifier when keys are sequence-assigned.
	SubjectField string `json:"subject_field,omitempty" yaml:"subject_field,omitempty"`
}

// ProjectPublications records that a client published a project, keyed by
// the project id.
var ProjectPublications = Schema{
	Name:        "project-publication",
	KeyStrategy: CallerKey,
	Roles:       []string{"client"},
	Indexes:     []IndexDimension{{Name: "client", Role: "client"}},
}

// TaskOutcomes records completed (or abandoned) tasks under an
// auto-assigned task id, indexed by both freelancer and client.
var TaskOutcomes = Schema{
	Name:         "task-record",
	KeyStrategy:  SequenceKey,
	SubjectField: "project_id",
	Roles:        []string{"freelancer", "client"},
	Indexes: []IndexDimension{
		{Name: "freelancer", Role: "freelancer"},
		{Name: "client", Role: "client"},
	},
	Fields: []FieldSpec{
		{Name: "project_id", Kind: KindString, Required: true},
		{Name: "completed", Kind: KindBool, Required: true},
	},
}

// Builtins returns the schemas that ship with the binary.
func Builtins() []Schema {
	return []Schema{ProjectPublications, TaskOutcomes}
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

// Validate checks the schema is internally consistent.
func (s Schema) Validate() error {
	if !namePattern.MatchString(s.Name) {
		return fmt.Errorf("schema name %q must match %s", s.Name, namePattern)
	}

	switch s.KeyStrategy {
	case CallerKey, SequenceKey:
	default:
		return fmt.Errorf("schema %s: unknown key strategy %q", s.Name, s.KeyStrategy)
	}

	roles := make(map[string]bool, len(s.Roles))
	for _, r := range s.Roles {
		if !namePattern.MatchString(r) {
			return fmt.Errorf("schema %s: role name %q must match %s", s.Name, r, namePattern)
		}
		if roles[r] {
			return fmt.Errorf("schema %s: duplicate role %q", s.Name, r)
		}
		roles[r] = true
	}

	dims := make(map[string]bool, len(s.Indexes))
	for _, idx := range s.Indexes {
		if !namePattern.MatchString(idx.Name) {
			return fmt.Errorf("schema %s: index name %q must match %s", s.Name, idx.Name, namePattern)
		}
		if dims[idx.Name] {
			return fmt.Errorf("schema %s: duplicate index %q", s.Name, idx.Name)
		}
		if !roles[idx.Role] {
			return fmt.Errorf("schema %s: index %q refers to unknown role %q", s.Name, idx.Name, idx.Role)
		}
		dims[idx.Name] = true
	}

	fields := make(map[string]FieldSpec, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s: field with empty name", s.Name)
		}
		if _, dup := fields[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate field %q", s.Name, f.Name)
		}
		switch f.Kind {
		case KindString, KindInt, KindBool, KindList, KindObject:
		default:
			return fmt.Errorf("schema %s: field %q has unknown kind %q", s.Name, f.Name, f.Kind)
		}
		fields[f.Name] = f
	}

	if s.KeyStrategy == SequenceKey {
		subject, ok := fields[s.SubjectField]
		if !ok {
			return fmt.Errorf("schema %s: sequence keys need a subject field declared in fields", s.Name)
		}
		if subject.Kind != KindString || !subject.Required {
			return fmt.Errorf("schema %s: subject field %q must be a required string", s.Name, s.SubjectField)
		}
	} else if s.SubjectField != "" {
		return fmt.Errorf("schema %s: subject_field only applies to sequence keys", s.Name)
	}
	return nil
}

// Index returns the dimension with the given name.
func (s Schema) Index(name string) (IndexDimension, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDimension{}, false
}

// identifier returns the value the Validator checks for req: the caller key,
// or the subject field for sequence-keyed ledgers.
func (s Schema) identifier(req Request) (string, error) {
	if s.KeyStrategy == CallerKey {
		return req.Key, nil
	}
	v, ok := req.Fields[s.SubjectField]
	if !ok {
		return "", nil
	}
	str, ok := v.(ir.IRString)
	if !ok {
		return "", fieldTypeError(s.SubjectField, KindString, v)
	}
	return string(str), nil
}

// checkShape validates parties and fields against the schema.
func (s Schema) checkShape(req Request) error {
	if s.KeyStrategy == SequenceKey && req.Key != "" {
		return newError(CodeInvalidPayload, req.Key, "ledger %s assigns keys; request must not carry one", s.Name)
	}

	for _, role := range s.Roles {
		id, ok := req.Parties[role]
		if !ok {
			return newError(CodeInvalidIdentifier, "", "party %q is missing", role)
		}
		if err := validateRole(role, id); err != nil {
			return err
		}
	}
	if len(req.Parties) > len(s.Roles) {
		for role := range req.Parties {
			if !slices.Contains(s.Roles, role) {
				return newError(CodeInvalidPayload, "", "unknown party role %q", role)
			}
		}
	}

	declared := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		declared[f.Name] = true
		v, ok := req.Fields[f.Name]
		if !ok {
			if f.Required {
				return newError(CodeInvalidPayload, "", "field %q is required", f.Name)
			}
			continue
		}
		if !f.Kind.matches(v) {
			return fieldTypeError(f.Name, f.Kind, v)
		}
	}
	for _, name := range req.Fields.SortedKeys() {
		if !declared[name] {
			return newError(CodeInvalidPayload, "", "unknown field %q", name)
		}
	}
	return nil
}

func (k FieldKind) matches(v ir.IRValue) bool {
	return kindOf(v) == string(k)
}

func kindOf(v ir.IRValue) string {
	switch v.(type) {
	case ir.IRString:
		return string(KindString)
	case ir.IRInt:
		return string(KindInt)
	case ir.IRBool:
		return string(KindBool)
	case ir.IRArray:
		return string(KindList)
	case ir.IRObject:
		return string(KindObject)
	default:
		return "nothing"
	}
}
