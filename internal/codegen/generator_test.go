package codegen_test

import (
	"testing"

	"github.com/serroba/shortlink/internal/codegen"
	"github.com/serroba/shortlink/internal/shortlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("creates generator with valid length", func(t *testing.T) {
		gen, err := codegen.New(1, 7)

		require.NoError(t, err)
		assert.Equal(t, 7, gen.Length())
	})

	t.Run("rejects length below minimum", func(t *testing.T) {
		_, err := codegen.New(1, 5)

		assert.Error(t, err)
	})

	t.Run("rejects length above maximum", func(t *testing.T) {
		_, err := codegen.New(1, 11)

		assert.Error(t, err)
	})
}

func TestGenerator_NewCode(t *testing.T) {
	gen, err := codegen.New(1, 7)
	require.NoError(t, err)

	t.Run("produces codes of the configured length", func(t *testing.T) {
		for range 100 {
			code := gen.NewCode()

			assert.Len(t, code, 7)
		}
	})

	t.Run("produces codes from the base62 alphabet", func(t *testing.T) {
		code := gen.NewCode()

		for _, r := range code {
			isDigit := r >= '0' && r <= '9'
			isLower := r >= 'a' && r <= 'z'
			isUpper := r >= 'A' && r <= 'Z'

			assert.True(t, isDigit || isLower || isUpper, "unexpected character %q in code %q", r, code)
		}
	})

	t.Run("consecutive codes are distinct", func(t *testing.T) {
		seen := make(map[string]struct{})

		for range 1000 {
			code := gen.NewCode()

			_, dup := seen[code]
			require.False(t, dup, "duplicate code %q", code)

			seen[code] = struct{}{}
		}
	})

	t.Run("codes decode back to a non-negative integer", func(t *testing.T) {
		code := gen.NewCode()

		n, err := codegen.DecodeCode(code)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(0))
	})
}

func TestDecodeCode(t *testing.T) {
	t.Run("left padding does not change the decoded value", func(t *testing.T) {
		n1, err1 := codegen.DecodeCode("1z")
		n2, err2 := codegen.DecodeCode("00001z")

		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, n1, n2)
	})

	t.Run("rejects characters outside the alphabet", func(t *testing.T) {
		_, err := codegen.DecodeCode("abc-123")

		assert.Error(t, err)
	})
}

func TestValidateCustomCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{name: "valid custom code", code: "promo1"},
		{name: "valid mixed case code", code: "SpringSale"},
		{name: "too short", code: "promo", wantErr: true},
		{name: "too long", code: "promotional", wantErr: true},
		{name: "contains dash", code: "promo-1", wantErr: true},
		{name: "contains space", code: "promo 1", wantErr: true},
		{name: "reserved word", code: "health", wantErr: true},
		{name: "reserved prefix", code: "adminXY", wantErr: true},
		{name: "reserved prefix case-insensitive", code: "Metrics9", wantErr: true},
		{name: "reserved openapi route", code: "openapi", wantErr: true},
		{name: "reserved docs route", code: "docs123", wantErr: true},
		{name: "reserved schemas route", code: "schemas", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := codegen.ValidateCustomCode(tt.code)

			if tt.wantErr {
				assert.ErrorIs(t, err, shortlink.ErrInvalidCode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
