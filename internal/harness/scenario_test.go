package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/publish_once.yaml")
	require.NoError(t, err)

	assert.Equal(t, "publish_once", s.Name)
	assert.Equal(t, int64(1_700_000_000), s.Now)
	require.Len(t, s.Setup, 1)
	assert.Equal(t, "admin", s.Setup[0].As)
	require.Len(t, s.Flow, 5)
	assert.Equal(t, int64(10), s.Flow[1].Advance)
	assert.Equal(t, "ALREADY_RECORDED", s.Flow[1].Expect.Case)
	assert.Equal(t, map[string]any{"client": "client-1"}, s.Flow[0].Args["parties"])
	require.Len(t, s.Assertions, 4)
	assert.Equal(t, []string{"p1"}, s.Assertions[3].Keys)
}

func TestLoadScenario_ResolvesSchemasDir(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/custom_schema.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "schemas"), s.Schemas)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "bad.yaml", "name: [unclosed\n")
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "typo.yaml", `name: typo
description: "typo"
flow:
  - invoke: task-record.get
    args: { key: "1" }
assertion:
  - type: trace_count
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "missing name",
			content: `description: "x"
flow:
  - invoke: task-record.get
    args: {}
`,
			want: "name is required",
		},
		{
			name: "missing description",
			content: `name: x
flow:
  - invoke: task-record.get
    args: {}
`,
			want: "description is required",
		},
		{
			name: "missing flow",
			content: `name: x
description: "x"
`,
			want: "flow list is required",
		},
		{
			name: "flow missing invoke",
			content: `name: x
description: "x"
flow:
  - args: {}
`,
			want: "flow[0]: action is required",
		},
		{
			name: "flow missing args",
			content: `name: x
description: "x"
flow:
  - invoke: task-record.get
`,
			want: "flow[0]: args is required",
		},
		{
			name: "malformed action",
			content: `name: x
description: "x"
flow:
  - invoke: get
    args: {}
`,
			want: "must be <ledger>.<op>",
		},
		{
			name: "unknown operation",
			content: `name: x
description: "x"
flow:
  - invoke: task-record.delete
    args: {}
`,
			want: `unknown operation "delete"`,
		},
		{
			name: "negative advance",
			content: `name: x
description: "x"
flow:
  - invoke: task-record.get
    advance: -1
    args: {}
`,
			want: "advance must be non-negative",
		},
		{
			name: "expect missing case",
			content: `name: x
description: "x"
flow:
  - invoke: task-record.get
    args: {}
    expect:
      result: { key: "1" }
`,
			want: "flow[0].expect: case is required",
		},
		{
			name: "setup missing args",
			content: `name: x
description: "x"
setup:
  - action: task-record.initialize
    as: admin
flow:
  - invoke: task-record.get
    args: {}
`,
			want: "setup[0]: args is required",
		},
		{
			name: "missing schemas dir",
			content: `name: x
description: "x"
schemas: nowhere
flow:
  - invoke: task-record.get
    args: {}
`,
			want: "schemas directory not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), "s.yaml", tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_AssertionTypes(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		want      string
	}{
		{"missing type", "- action: x.get", "type is required"},
		{"unknown type", "- type: bogus", `unknown assertion type "bogus"`},
		{"trace_contains without action", "- type: trace_contains", "action is required for trace_contains"},
		{"trace_order without actions", "- type: trace_order", "actions list is required"},
		{"trace_count without action", "- type: trace_count", "action is required for trace_count"},
		{"trace_count negative", "- { type: trace_count, action: a.get, count: -1 }", "count must be non-negative"},
		{"final_state without key", "- { type: final_state, ledger: l, expect: { seq: 1 } }", "ledger and key are required"},
		{"final_state without expect", "- { type: final_state, ledger: l, key: k }", "expect is required"},
		{"index_order without party", "- { type: index_order, ledger: l }", "ledger and party are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `name: x
description: "x"
flow:
  - invoke: task-record.get
    args: {}
assertions:
  ` + tt.assertion + "\n"
			path := writeScenario(t, t.TempDir(), "s.yaml", content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_EmptyArgsAllowed(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "s.yaml", `name: audit_only
description: "audit takes no args"
flow:
  - invoke: task-record.audit
    args: {}
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.NotNil(t, s.Flow[0].Args)
	assert.Empty(t, s.Flow[0].Args)
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"b.yaml", "a.yml", "nested/c.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	files, err = FindScenarios(dir, "[ab]")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = FindScenarios(dir, "[")
	assert.Error(t, err)
}

func TestSplitAction(t *testing.T) {
	l, op, ok := splitAction("task-record.record")
	assert.True(t, ok)
	assert.Equal(t, "task-record", l)
	assert.Equal(t, "record", op)

	l, op, ok = splitAction("a.b.get")
	assert.True(t, ok)
	assert.Equal(t, "a.b", l)
	assert.Equal(t, "get", op)

	for _, bad := range []string{"", "get", ".get", "ledger."} {
		_, _, ok := splitAction(bad)
		assert.False(t, ok, bad)
	}
}
