// Package money converts between decimal major-unit amounts as clients send
// them and the integer minor units (cents) kept in storage.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// MaxMinor is the largest amount accepted, in minor units. Values above it
// would no longer survive a round trip through a JSON number client-side.
const MaxMinor = 1<<53 - 1

// ErrInvalid is returned for amounts that are not a positive decimal.
var ErrInvalid = errors.New("invalid money amount")

// decimalPattern accepts plain decimals only: no sign, exponent or radix prefix.
var decimalPattern = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)$`)

const maxInputLen = 32

var (
	hundred = big.NewRat(100, 1)
	half    = big.NewRat(1, 2)
	maxRat  = new(big.Rat).SetInt64(MaxMinor)
)

// ParseMajor parses a decimal major-unit value such as "12.50" and returns it
// in minor units, rounding half away from zero. The conversion is exact.
func ParseMajor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxInputLen || !decimalPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if s[0] == '.' {
		s = "0" + s
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if r.Sign() <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalid)
	}

	r.Mul(r, hundred)
	r.Add(r, half)
	minor := new(big.Int).Quo(r.Num(), r.Denom())
	if minor.Sign() <= 0 {
		return 0, fmt.Errorf("%w: rounds to zero", ErrInvalid)
	}
	if new(big.Rat).SetInt(minor).Cmp(maxRat) > 0 {
		return 0, fmt.Errorf("%w: too large", ErrInvalid)
	}
	return minor.Int64(), nil
}

// FormatMajor renders minor units as a major-unit decimal with two fraction
// digits, e.g. 1250 -> "12.50".
func FormatMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// Major is an amount held in minor units that encodes to JSON as a
// major-unit number.
type Major int64

func (m Major) MarshalJSON() ([]byte, error) {
	return []byte(FormatMajor(int64(m))), nil
}

// Input captures an amount from a request body. Clients send either a JSON
// number (9.99) or a string ("9.99").
type Input string

func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*in = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Input(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*in = Input(n.String())
	return nil
}

// String returns the raw amount text.
func (in Input) String() string {
	return string(in)
}
