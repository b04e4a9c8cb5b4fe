package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"empty", "", true},
		{"one byte", "p", false},
		{"exactly max", strings.Repeat("a", MaxIdentifierLength), false},
		{"one over max", strings.Repeat("a", MaxIdentifierLength+1), true},
		{"multibyte within max", strings.Repeat("\u00e9", 50), false},
		{"multibyte over max", strings.Repeat("\u00e9", 51), true},
		{"invalid utf8", "\xff\xfe", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTimestamp(t *testing.T) {
	const now = int64(1_700_000_000)

	tests := []struct {
		name    string
		ts      int64
		wantErr bool
	}{
		{"now", now, false},
		{"at skew budget", now + ClockSkewBudget, false},
		{"one past skew budget", now + ClockSkewBudget + 1, true},
		{"far future", now + 86_400, true},
		{"past", now - 86_400, false},
		{"epoch", 0, false},
		{"before epoch", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimestamp(tt.ts, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTimestamp)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_IdentifierFirst(t *testing.T) {
	err := Validate("", 1<<40, 0)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	err = Validate("ok", 1<<40, 0)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	assert.NoError(t, Validate("ok", 0, 0))
}
