package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins_Valid(t *testing.T) {
	for _, s := range Builtins() {
		assert.NoError(t, s.Validate(), s.Name)
	}
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Schema)
		errMsg string
	}{
		{"bad name", func(s *Schema) { s.Name = "Task Record" }, "schema name"},
		{"unknown strategy", func(s *Schema) { s.KeyStrategy = "uuid" }, "unknown key strategy"},
		{"duplicate role", func(s *Schema) { s.Roles = append(s.Roles, "client") }, "duplicate role"},
		{"index on unknown role", func(s *Schema) {
			s.Indexes = append(s.Indexes, IndexDimension{Name: "auditor", Role: "auditor"})
		}, "unknown role"},
		{"duplicate index", func(s *Schema) {
			s.Indexes = append(s.Indexes, IndexDimension{Name: "client", Role: "freelancer"})
		}, "duplicate index"},
		{"unknown kind", func(s *Schema) { s.Fields[1].Kind = "float" }, "unknown kind"},
		{"duplicate field", func(s *Schema) { s.Fields = append(s.Fields, FieldSpec{Name: "completed", Kind: KindBool}) }, "duplicate field"},
		{"missing subject", func(s *Schema) { s.SubjectField = "task_name" }, "subject field"},
		{"optional subject", func(s *Schema) { s.Fields[0].Required = false }, "required string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := cloneSchema(TaskOutcomes)
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSchema_SubjectOnlyForSequenceKeys(t *testing.T) {
	s := cloneSchema(ProjectPublications)
	s.SubjectField = "project_id"
	assert.ErrorContains(t, s.Validate(), "subject_field only applies")
}

func TestSchema_Index(t *testing.T) {
	idx, ok := TaskOutcomes.Index("freelancer")
	assert.True(t, ok)
	assert.Equal(t, "freelancer", idx.Role)

	_, ok = TaskOutcomes.Index("nope")
	assert.False(t, ok)
}

func cloneSchema(s Schema) Schema {
	out := s
	out.Roles = append([]string(nil), s.Roles...)
	out.Indexes = append([]IndexDimension(nil), s.Indexes...)
	out.Fields = append([]FieldSpec(nil), s.Fields...)
	return out
}
