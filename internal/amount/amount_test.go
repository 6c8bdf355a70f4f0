package amount

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

func TestFromBaseUnits(t *testing.T) {
	c := NewConverter(DefaultDecimals)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"one ether", "1000000000000000000", "1"},
		{"one wei", "1", "0.000000000000000001"},
		{"zero", "0", "0"},
		{"fractional", "1500000000000000000", "1.5"},
		{"beyond int64", "123456789012345678901234567890", "123456789012.34567890123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := new(big.Int).SetString(tt.in, 10)
			require.True(t, ok)

			got, err := c.FromBaseUnits(in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestFromBaseUnitsRejectsInvalid(t *testing.T) {
	c := NewConverter(0)
	assert.Equal(t, DefaultDecimals, c.Decimals())

	_, err := c.FromBaseUnits(nil)
	assert.True(t, utils.HasCode(err, utils.ErrCodeConversion))

	_, err = c.FromBaseUnits(big.NewInt(-1))
	assert.True(t, utils.HasCode(err, utils.ErrCodeConversion))
}

func TestToBaseUnitsIsExactInverse(t *testing.T) {
	c := NewConverter(6)

	base, err := c.ToBaseUnits(decimal.RequireFromString("12.345678"))
	require.NoError(t, err)
	assert.Equal(t, "12345678", base.String())

	back, err := c.FromBaseUnits(base)
	require.NoError(t, err)
	assert.Equal(t, "12.345678", back.String())

	_, err = c.ToBaseUnits(decimal.RequireFromString("0.0000001"))
	assert.Error(t, err)

	_, err = c.ToBaseUnits(decimal.RequireFromString("-1"))
	assert.Error(t, err)
}

func TestParseBaseUnits(t *testing.T) {
	big1 := big.NewInt(42)

	tests := []struct {
		name    string
		raw     interface{}
		want    string
		wantErr bool
	}{
		{"big pointer", big1, "42", false},
		{"big value", *big1, "42", false},
		{"decimal string", " 1000 ", "1000", false},
		{"hex string", "0xff", "255", false},
		{"int", 7, "7", false},
		{"uint64", uint64(9), "9", false},
		{"negative int", -3, "", true},
		{"garbage", "ten", "", true},
		{"float", 1.5, "", true},
		{"nil big", (*big.Int)(nil), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBaseUnits(tt.raw)
			if tt.wantErr {
				assert.True(t, utils.HasCode(err, utils.ErrCodeConversion))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseBaseUnitsCopiesInput(t *testing.T) {
	in := big.NewInt(5)
	got, err := ParseBaseUnits(in)
	require.NoError(t, err)
	got.SetInt64(6)
	assert.Equal(t, int64(5), in.Int64())
}
