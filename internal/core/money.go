package core

// Fees are whole currency units; there is no fractional part and no
// currency symbol attached to the stored value.

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseFee converts a user supplied fee string to whole units.
//
// Surrounding whitespace and thousands separators (",", "_", " ") are ignored.
// Zero is accepted; signs, fractions and anything non-numeric are rejected.
//
// Examples:
//   ParseFee("50")     -> 50, nil
//   ParseFee("1,200")  -> 1200, nil
//   ParseFee("-5")     -> 0, ErrNegativeFee
//   ParseFee("12.5")   -> 0, ErrInvalidFee
func ParseFee(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidFee
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeFee
	}
	s = strings.TrimPrefix(s, "+")
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	if s == "" {
		return 0, ErrInvalidFee
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidFee
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidFee
	}
	return v, nil
}

// FormatAmount renders whole units with thousands separators ("1,200").
func FormatAmount(units int64) string {
	neg := units < 0
	if neg {
		units = -units
	}
	digits := strconv.FormatInt(units, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
