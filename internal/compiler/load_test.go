package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/ledger"
)

func writeCUE(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSchemas(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "votes.cue", `package schemas

ledger: votes: {
	key: "caller"
	roles: ["voter"]
	fields: choice: string
}
`)
	writeCUE(t, dir, "grants.cue", `package schemas

ledger: grants: {
	key:     "sequence"
	subject: "grant_id"
	roles: ["grantor", "grantee"]
	index: ["grantee"]
	fields: {
		grant_id: string
		amount:   int
	}
}
`)

	result, errs := LoadSchemas(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Schemas, 2)

	byName := map[string]ledger.Schema{}
	for _, s := range result.Schemas {
		byName[s.Name] = s
	}
	assert.Equal(t, ledger.CallerKey, byName["votes"].KeyStrategy)
	assert.Equal(t, []ledger.IndexDimension{{Name: "grantee", Role: "grantee"}}, byName["grants"].Indexes)
}

func TestLoadSchemasCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "mixed.cue", `package schemas

ledger: good: {
	key: "caller"
	roles: ["a"]
}
ledger: nokey: {
	roles: ["a"]
}
ledger: badindex: {
	key: "caller"
	roles: ["a"]
	index: { x: "ghost" }
}
`)

	result, errs := LoadSchemas(dir, LoadModeCollectAll)
	require.Len(t, errs, 2)
	require.Len(t, result.Schemas, 1)
	assert.Equal(t, "good", result.Schemas[0].Name)

	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeCompile, le.Code)
	assert.Equal(t, "nokey", le.Ledger)

	require.ErrorAs(t, errs[1], &le)
	assert.Equal(t, ErrUnknownRole, le.Code)
	assert.Equal(t, "badindex", le.Ledger)
}

func TestLoadSchemasFailFast(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", `package schemas

ledger: one: { roles: ["a"] }
ledger: two: { roles: ["a"] }
`)
	_, errs := LoadSchemas(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadSchemasDirectoryErrors(t *testing.T) {
	_, errs := LoadSchemas(filepath.Join(t.TempDir(), "missing"), LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeNotFound)

	empty := t.TempDir()
	writeCUE(t, empty, "readme.txt", "not cue")
	_, errs = LoadSchemas(empty, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeNoFiles)

	syntax := t.TempDir()
	writeCUE(t, syntax, "broken.cue", "package schemas\n\nledger: {")
	_, errs = LoadSchemas(syntax, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Regexp(t, "E00[46]", errs[0].Error())

	nothing := t.TempDir()
	writeCUE(t, nothing, "other.cue", "package schemas\n\nfoo: 1\n")
	_, errs = LoadSchemas(nothing, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no ledger declarations")
}

func TestFindCUEFilesNested(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeCUE(t, dir, "root.cue", "package schemas")
	writeCUE(t, dir, "notcue.txt", "x")
	writeCUE(t, sub, "nested.cue", "package schemas")

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMerge(t *testing.T) {
	custom := ledger.Schema{Name: "votes", KeyStrategy: ledger.CallerKey, Roles: []string{"voter"}}

	all, err := Merge(ledger.Builtins(), []ledger.Schema{custom})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = Merge(ledger.Builtins(), []ledger.Schema{ledger.TaskOutcomes})
	assert.ErrorContains(t, err, "task-record")
}

func TestLoadWithBuiltins(t *testing.T) {
	schemas, err := LoadWithBuiltins("")
	require.NoError(t, err)
	assert.Equal(t, ledger.Builtins(), schemas)

	dir := t.TempDir()
	writeCUE(t, dir, "votes.cue", `package schemas

ledger: votes: {
	key: "caller"
	roles: ["voter"]
}
`)
	schemas, err = LoadWithBuiltins(dir)
	require.NoError(t, err)
	require.Len(t, schemas, len(ledger.Builtins())+1)
	assert.Equal(t, "votes", schemas[len(schemas)-1].Name)

	clash := t.TempDir()
	writeCUE(t, clash, "clash.cue", `package schemas

ledger: "task-record": {
	key: "caller"
	roles: ["voter"]
}
`)
	_, err = LoadWithBuiltins(clash)
	assert.ErrorContains(t, err, "duplicate ledger name")

	_, err = LoadWithBuiltins(filepath.Join(dir, "missing"))
	assert.ErrorContains(t, err, ErrCodeNotFound)
}
