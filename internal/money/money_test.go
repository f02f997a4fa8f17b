package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/errs"
)

func TestNormalizeCurrency(t *testing.T) {
	c, err := NormalizeCurrency(" eur ")
	require.NoError(t, err)
	assert.Equal(t, "EUR", c)

	for _, bad := range []string{"", "EURO", "E1R"} {
		_, err := NormalizeCurrency(bad)
		assert.ErrorIs(t, err, errs.ErrValidation, bad)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "12.34 USD", Format(1234, "USD"))
	assert.Equal(t, "-0.05 EUR", Format(-5, "EUR"))
	assert.Equal(t, "500 JPY", Format(500, "JPY"))
	assert.Equal(t, "1.250 KWD", Format(1250, "KWD"))
}

func TestParseMajor(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     int64
		wantErr  bool
	}{
		{"12.34", "USD", 1234, false},
		{"100", "EUR", 10000, false},
		{"0.5", "USD", 50, false},
		{"1.005", "USD", 0, true},
		{"750", "JPY", 750, false},
		{"abc", "USD", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in+" "+tt.currency, func(t *testing.T) {
			got, err := ParseMajor(tt.in, tt.currency)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
