package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestDeterminism(t *testing.T) {
	obj := IRObject{
		"project_id": IRString("p-1"),
		"completed":  IRBool(true),
	}

	d1, err := Digest(DomainRecord, obj)
	require.NoError(t, err)
	d2, err := Digest(DomainRecord, obj.Clone())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestDigestDomainSeparation(t *testing.T) {
	obj := IRObject{"k": IRString("v")}
	assert.NotEqual(t, MustDigest(DomainRecord, obj), MustDigest(DomainRequest, obj))
}

func TestDigestChangesWithContent(t *testing.T) {
	a := MustDigest(DomainRecord, IRObject{"k": IRString("v1")})
	b := MustDigest(DomainRecord, IRObject{"k": IRString("v2")})
	assert.NotEqual(t, a, b)
}

func TestDigestJSONIgnoresFormatting(t *testing.T) {
	a, err := DigestJSON(DomainRequest, []byte(`{"key":"p1","timestamp":10}`))
	require.NoError(t, err)
	b, err := DigestJSON(DomainRequest, []byte("{\n  \"timestamp\": 10,\n  \"key\": \"p1\"\n}"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMustDigestPanics(t *testing.T) {
	assert.Panics(t, func() { MustDigest(DomainRecord, 1.5) })
}

func TestDigestBytes(t *testing.T) {
	a := DigestBytes(DomainRequest, []byte("not json"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, DigestBytes(DomainRequest, []byte("not json")))
	assert.NotEqual(t, a, DigestBytes(DomainOutbox, []byte("not json")))
}
