package payment

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// unitScale is 10^USDCDecimals, the number of base units per whole USDC.
var unitScale = big.NewInt(1_000_000)

// ParseAmount converts a decimal USDC string into token base units. The
// format is strict: an unsigned decimal with at most six fractional digits.
// Amounts cross the wire as strings precisely so no float arithmetic touches
// on-chain values.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && frac == "") {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if len(frac) > USDCDecimals {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", s, USDCDecimals)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("malformed amount %q", s)
		}
	}

	// Pad the fraction out to exactly six digits so the concatenation is the
	// base-unit value.
	padded := frac + strings.Repeat("0", USDCDecimals-len(frac))
	units, ok := new(big.Int).SetString(whole+padded, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return units, nil
}

// FormatAmount renders base units as a decimal string with exactly six
// fractional digits, the form used in directives and proofs.
func FormatAmount(units *big.Int) string {
	q, r := new(big.Int).QuoRem(units, unitScale, new(big.Int))
	return fmt.Sprintf("%s.%06s", q.String(), r.String())
}

// ToBaseUnits converts a catalog cost in USDC to base units, rounding to the
// nearest unit. Catalog costs have at most six decimal places so the rounding
// never loses value in practice.
func ToBaseUnits(usdc float64) *big.Int {
	return big.NewInt(int64(math.Round(usdc * 1e6)))
}

// FromBaseUnits converts base units back to a float USDC amount for ledger
// entries and spend aggregation.
func FromBaseUnits(units *big.Int) float64 {
	return float64(units.Int64()) / 1e6
}
