package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	got, err := MarshalCanonical(IRObject{
		"zebra": IRString("z"),
		"apple": IRString("a"),
		"mango": IRString("m"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":"a","mango":"m","zebra":"z"}`, string(got))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(IRObject{"html": IRString("<a&b>")})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<a&b>"}`, string(got))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "é" as e + combining acute (NFD) must serialize like the precomposed form.
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	a, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalNFCKeyCollision(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{
		"cafe\u0301": "x",
		"caf\u00e9":  "y",
	})
	assert.ErrorContains(t, err, "collide")
}

func TestMarshalCanonicalMixedGoValues(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"ledger":  "task-record",
		"seq":     uint64(2),
		"ts":      int64(1700000000),
		"parties": map[string]string{"client": "c", "freelancer": "f"},
		"fields":  IRObject{"completed": IRBool(true)},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"fields":{"completed":true},"ledger":"task-record","parties":{"client":"c","freelancer":"f"},"seq":2,"ts":1700000000}`,
		string(got))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"nil", nil},
		{"float", 1.5},
		{"unsafe int", int64(MaxSafeInt + 1)},
		{"nested float", map[string]any{"a": []any{2.5}}},
		{"unsupported", struct{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.value)
			assert.Error(t, err)
		})
	}
}

func TestCanonicalizeJSON(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{ "b": 1,
		"a": "x" }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1}`, string(got))

	_, err = CanonicalizeJSON([]byte(`{not json`))
	assert.Error(t, err)
}
