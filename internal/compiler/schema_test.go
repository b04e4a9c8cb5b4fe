package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/ledger"
)

func compileLedger(t *testing.T, src, path string) (ledger.Schema, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileSchema(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileSchemaBasic(t *testing.T) {
	s, err := compileLedger(t, `
		ledger: "invoice-approval": {
			key:     "sequence"
			subject: "invoice_id"
			roles: ["approver", "vendor"]
			index: ["approver", "vendor"]
			fields: {
				invoice_id: string
				amount:     int
				approved:   bool
				note?:      string
				tags?:      [...string]
				meta?:      {...}
			}
		}
	`, `ledger."invoice-approval"`)
	require.NoError(t, err)

	assert.Equal(t, "invoice-approval", s.Name)
	assert.Equal(t, ledger.SequenceKey, s.KeyStrategy)
	assert.Equal(t, "invoice_id", s.SubjectField)
	assert.Equal(t, []string{"approver", "vendor"}, s.Roles)
	assert.Equal(t, []ledger.IndexDimension{
		{Name: "approver", Role: "approver"},
		{Name: "vendor", Role: "vendor"},
	}, s.Indexes)
	assert.Equal(t, []ledger.FieldSpec{
		{Name: "invoice_id", Kind: ledger.KindString, Required: true},
		{Name: "amount", Kind: ledger.KindInt, Required: true},
		{Name: "approved", Kind: ledger.KindBool, Required: true},
		{Name: "note", Kind: ledger.KindString, Required: false},
		{Name: "tags", Kind: ledger.KindList, Required: false},
		{Name: "meta", Kind: ledger.KindObject, Required: false},
	}, s.Fields)

	assert.NoError(t, s.Validate())
}

func TestCompileSchemaMatchesBuiltins(t *testing.T) {
	src := `
		ledger: "project-publication": {
			key: "caller"
			roles: ["client"]
		}
		ledger: "task-record": {
			key:     "sequence"
			subject: "project_id"
			roles: ["freelancer", "client"]
			fields: {
				project_id: string
				completed:  bool
			}
		}
	`
	pub, err := compileLedger(t, src, `ledger."project-publication"`)
	require.NoError(t, err)
	assert.Equal(t, ledger.ProjectPublications.KeyStrategy, pub.KeyStrategy)
	assert.Equal(t, ledger.ProjectPublications.Roles, pub.Roles)
	assert.Equal(t, ledger.ProjectPublications.Indexes, pub.Indexes)
	assert.Empty(t, pub.Fields)

	task, err := compileLedger(t, src, `ledger."task-record"`)
	require.NoError(t, err)
	assert.Equal(t, ledger.TaskOutcomes, task)
}

func TestCompileSchemaIndexStruct(t *testing.T) {
	s, err := compileLedger(t, `
		ledger: reviews: {
			key: "caller"
			roles: ["author", "reviewer"]
			index: { by_reviewer: "reviewer" }
		}
	`, "ledger.reviews")
	require.NoError(t, err)
	assert.Equal(t, []ledger.IndexDimension{{Name: "by_reviewer", Role: "reviewer"}}, s.Indexes)
}

func TestCompileSchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "missing key",
			src:   `ledger: bad: { roles: ["a"] }`,
			field: "key",
		},
		{
			name:  "missing roles",
			src:   `ledger: bad: { key: "caller" }`,
			field: "roles",
		},
		{
			name:  "empty roles",
			src:   `ledger: bad: { key: "caller", roles: [] }`,
			field: "roles",
		},
		{
			name:  "float field",
			src:   `ledger: bad: { key: "caller", roles: ["a"], fields: { price: float } }`,
			field: "fields.price",
		},
		{
			name:  "number field",
			src:   `ledger: bad: { key: "caller", roles: ["a"], fields: { price: number } }`,
			field: "fields.price",
		},
		{
			name:  "mixed kinds",
			src:   `ledger: bad: { key: "caller", roles: ["a"], fields: { v: string | int } }`,
			field: "fields.v",
		},
		{
			name:  "index scalar",
			src:   `ledger: bad: { key: "caller", roles: ["a"], index: "a" }`,
			field: "index",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileLedger(t, tt.src, "ledger.bad")
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileSchemaNonConcreteKey(t *testing.T) {
	_, err := compileLedger(t, `ledger: bad: { key: "caller" | "sequence", roles: ["a"] }`, "ledger.bad")
	assert.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "key", Message: "key is required"}
	assert.Equal(t, "key: key is required", err.Error())
}
