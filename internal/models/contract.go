// Package models defines the option contract and order types shared across
// the desk: OCC symbol handling, positions, transactions, and order receipts.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SharesPerContract is the standard equity-option multiplier.
const SharesPerContract = 100.0

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants
func (t OptionType) Valid() bool {
	switch t {
	case OptionTypeCall, OptionTypePut:
		return true
	default:
		return false
	}
}

// ParseOptionType normalizes a user-supplied option type string.
func ParseOptionType(s string) (OptionType, error) {
	t := OptionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid option type %q: must be 'call' or 'put'", s)
	}
	return t, nil
}

// Contract identifies a single option contract by underlying, expiration,
// strike, and type. It is the composite key for positions in the ledger.
type Contract struct {
	Underlying string     `json:"underlying"`
	Expiration time.Time  `json:"expiration"`
	Strike     float64    `json:"strike"`
	Type       OptionType `json:"type"`
}

// NewContract builds a Contract, normalizing the underlying to upper case.
// expiration must be in YYYY-MM-DD format.
func NewContract(underlying, expiration string, strike float64, optType OptionType) (Contract, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" {
		return Contract{}, fmt.Errorf("underlying symbol is required")
	}
	if len(underlying) > 6 {
		return Contract{}, fmt.Errorf("underlying symbol %q too long for OCC format", underlying)
	}
	exp, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return Contract{}, fmt.Errorf("invalid expiration %q: %w", expiration, err)
	}
	if strike <= 0 {
		return Contract{}, fmt.Errorf("strike must be positive, got %.2f", strike)
	}
	if !optType.Valid() {
		return Contract{}, fmt.Errorf("invalid option type %q", optType)
	}
	return Contract{
		Underlying: underlying,
		Expiration: exp,
		Strike:     strike,
		Type:       optType,
	}, nil
}

// OCCSymbol returns the contract identifier in OCC/OSI format:
// underlying + YYMMDD + C/P + strike*1000 zero-padded to 8 digits.
// Example: AAPL 2026-03-21 call 220.00 -> AAPL260321C00220000
func (c Contract) OCCSymbol() string {
	cp := "C"
	if c.Type == OptionTypePut {
		cp = "P"
	}
	// Round rather than truncate so e.g. 150.10 (stored as 150.09999...)
	// still encodes as 00150100.
	milli := int64(c.Strike*1000 + 0.5)
	return fmt.Sprintf("%s%s%s%08d", c.Underlying, c.Expiration.Format("060102"), cp, milli)
}

// ParseOCCSymbol decodes an OCC/OSI option symbol back into a Contract.
func ParseOCCSymbol(symbol string) (Contract, error) {
	// The tail is fixed-width: YYMMDD (6) + C/P (1) + strike (8).
	const tail = 15
	if len(symbol) <= tail {
		return Contract{}, fmt.Errorf("option symbol %q too short for OCC format", symbol)
	}
	underlying := symbol[:len(symbol)-tail]
	rest := symbol[len(symbol)-tail:]

	exp, err := time.Parse("060102", rest[:6])
	if err != nil {
		return Contract{}, fmt.Errorf("invalid expiration in option symbol %q: %w", symbol, err)
	}

	var optType OptionType
	switch rest[6] {
	case 'C':
		optType = OptionTypeCall
	case 'P':
		optType = OptionTypePut
	default:
		return Contract{}, fmt.Errorf("invalid option type indicator %q in symbol %q", rest[6], symbol)
	}

	milli, err := strconv.ParseInt(rest[7:], 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("invalid strike in option symbol %q: %w", symbol, err)
	}

	return Contract{
		Underlying: underlying,
		Expiration: exp,
		Strike:     float64(milli) / 1000,
		Type:       optType,
	}, nil
}

// DTE returns the number of whole days from now until expiration,
// clamped at zero for expired contracts.
func (c Contract) DTE(now time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	e := c.Expiration.UTC().Truncate(24 * time.Hour)
	days := int(e.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// String returns a human-readable contract description.
func (c Contract) String() string {
	return fmt.Sprintf("%s %s %.2f %s", c.Underlying, c.Expiration.Format("2006-01-02"), c.Strike, c.Type)
}
