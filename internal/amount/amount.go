// Package amount converts between integer base units and decimal display
// amounts using fixed-point arithmetic.
package amount

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// DefaultDecimals is the number of decimal places of the native value type.
const DefaultDecimals int32 = 18

// Converter converts base-unit integers with a fixed number of decimals.
type Converter struct {
	decimals int32
}

// NewConverter creates a converter. Non-positive decimals fall back to DefaultDecimals.
func NewConverter(decimals int32) *Converter {
	if decimals <= 0 {
		decimals = DefaultDecimals
	}
	return &Converter{decimals: decimals}
}

// Decimals returns the configured number of decimal places.
func (c *Converter) Decimals() int32 {
	return c.decimals
}

// FromBaseUnits returns baseUnits / 10^decimals exactly.
func (c *Converter) FromBaseUnits(baseUnits *big.Int) (decimal.Decimal, error) {
	if baseUnits == nil {
		return decimal.Zero, utils.NewAppError(utils.ErrCodeConversion, "Amount is nil", "")
	}
	if baseUnits.Sign() < 0 {
		return decimal.Zero, utils.NewAppError(utils.ErrCodeConversion, "Amount is negative", baseUnits.String())
	}
	return decimal.NewFromBigInt(baseUnits, -c.decimals), nil
}

// ToBaseUnits is the inverse of FromBaseUnits. Amounts with more precision
// than the converter supports are rejected rather than rounded.
func (c *Converter) ToBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, utils.NewAppError(utils.ErrCodeConversion, "Amount is negative", amount.String())
	}
	scaled := amount.Shift(c.decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, utils.NewAppError(utils.ErrCodeConversion,
			"Amount has more precision than base units allow", amount.String())
	}
	return scaled.BigInt(), nil
}

// ParseBaseUnits accepts the shapes a decoded uint256 event argument can take.
func ParseBaseUnits(raw interface{}) (*big.Int, error) {
	var v *big.Int
	switch x := raw.(type) {
	case *big.Int:
		if x == nil {
			return nil, utils.NewAppError(utils.ErrCodeConversion, "Amount is nil", "")
		}
		v = new(big.Int).Set(x)
	case big.Int:
		v = new(big.Int).Set(&x)
	case string:
		s := strings.TrimSpace(x)
		var ok bool
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			v, ok = new(big.Int).SetString(s[2:], 16)
		} else {
			v, ok = new(big.Int).SetString(s, 10)
		}
		if !ok {
			return nil, utils.NewAppError(utils.ErrCodeConversion, "Malformed integer amount", x)
		}
	case int:
		v = big.NewInt(int64(x))
	case int64:
		v = big.NewInt(x)
	case uint64:
		v = new(big.Int).SetUint64(x)
	case uint:
		v = new(big.Int).SetUint64(uint64(x))
	default:
		return nil, utils.NewAppError(utils.ErrCodeConversion,
			"Unsupported amount type", fmt.Sprintf("%T", raw))
	}
	if v.Sign() < 0 {
		return nil, utils.NewAppError(utils.ErrCodeConversion, "Amount is negative", v.String())
	}
	return v, nil
}
