// Package settlement computes escrow fund splits in fixed-point arithmetic.
// All amounts are integers scaled by 10^6 (micro-units); no floating point
// ever touches money.
package settlement

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Decimals is the implied decimal scale for all monetary amounts.
const Decimals = 6

// unitScale = 10^Decimals.
const unitScale = 1_000_000

var (
	// ErrAmountNegative signals a negative amount was passed to Split.
	ErrAmountNegative = errors.New("settlement: amount must not be negative")
	// ErrArithmeticOverflow signals the fee multiplication would overflow int64.
	ErrArithmeticOverflow = errors.New("settlement: arithmetic overflow")
	// ErrInvalidFeeRate signals a malformed fee rate.
	ErrInvalidFeeRate = errors.New("settlement: invalid fee rate")
)

// FeeRate is an exact rational platform fee, numerator/denominator.
type FeeRate struct {
	Num int64
	Den int64
}

// DefaultFeeRate is the 5% platform fee applied on release.
var DefaultFeeRate = FeeRate{Num: 5, Den: 100}

// Settlement is the result of splitting an escrowed amount.
type Settlement struct {
	PlatformFee   int64
	ProviderShare int64
}

// Split divides amount between provider and platform.
//
// platformFee = floor(amount * rate.Num / rate.Den); the remainder goes to
// the provider, so PlatformFee + ProviderShare == amount holds exactly for
// every amount >= 0.
func Split(amount int64, rate FeeRate) (Settlement, error) {
	if amount < 0 {
		return Settlement{}, ErrAmountNegative
	}
	if rate.Den <= 0 || rate.Num < 0 || rate.Num > rate.Den {
		return Settlement{}, fmt.Errorf("%w: %d/%d", ErrInvalidFeeRate, rate.Num, rate.Den)
	}

	fee, err := mulDiv(amount, rate.Num, rate.Den)
	if err != nil {
		return Settlement{}, err
	}

	return Settlement{
		PlatformFee:   fee,
		ProviderShare: amount - fee,
	}, nil
}

// mulDiv computes floor(a*b/den) with an explicit overflow check on a*b.
func mulDiv(a, b, den int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, fmt.Errorf("%w: %d * %d", ErrArithmeticOverflow, a, b)
	}
	return product / den, nil
}

// FormatAmount renders a micro-unit amount as a decimal string with trailing
// zeros trimmed ("500000" -> "0.5", "100000000" -> "100").
func FormatAmount(micro int64) string {
	neg := micro < 0
	if neg {
		micro = -micro
	}
	whole := micro / unitScale
	frac := micro % unitScale
	var s string
	if frac == 0 {
		s = strconv.FormatInt(whole, 10)
	} else {
		s = strconv.FormatInt(whole, 10) + "." + strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

// ParseAmount converts a decimal string into micro-units. It rejects more
// than six fractional digits rather than rounding silently.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("settlement: empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	if len(fracStr) > Decimals {
		return 0, fmt.Errorf("settlement: amount %q exceeds %d decimals", s, Decimals)
	}
	whole, err := strconv.ParseInt(wholeStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("settlement: parse amount %q: %w", s, err)
	}
	var frac int64
	if fracStr != "" {
		padded := fracStr + strings.Repeat("0", Decimals-len(fracStr))
		frac, err = strconv.ParseInt(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("settlement: parse amount %q: %w", s, err)
		}
	}
	if whole > (1<<63-1)/unitScale {
		return 0, ErrArithmeticOverflow
	}
	micro := whole*unitScale + frac
	if neg {
		micro = -micro
	}
	return micro, nil
}
