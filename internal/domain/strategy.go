package domain

import (
	"fmt"
	"math/big"
	"time"
)

// Frequency is how often a strategy is evaluated.
type Frequency string

const (
	FrequencyFiveMinute Frequency = "5m"
	FrequencyHourly     Frequency = "hourly"
	FrequencyDaily      Frequency = "daily"
	FrequencyWeekly     Frequency = "weekly"
)

// Interval returns the wall-clock duration between two scheduled evaluations.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyFiveMinute:
		return 5 * time.Minute
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyFiveMinute, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// Pair identifies the trading pair of a strategy. Token addresses are
// hex-encoded; InputToken is what the strategy spends, OutputToken what it
// accumulates.
type Pair struct {
	BaseSymbol     string `json:"base_symbol"`
	QuoteSymbol    string `json:"quote_symbol"`
	InputToken     string `json:"input_token"`
	OutputToken    string `json:"output_token"`
	InputDecimals  int    `json:"input_decimals"`
	OutputDecimals int    `json:"output_decimals"`
}

// Symbol returns the conventional "BASE/QUOTE" representation.
func (p Pair) Symbol() string {
	return p.BaseSymbol + "/" + p.QuoteSymbol
}

// Strategy is a user-owned DCA configuration. BaseAmount is denominated in
// the smallest unit of the input token. NextCheckTime strictly increases
// after every evaluation, whether or not a trade was executed.
type Strategy struct {
	ID               string
	UserID           string
	Pair             Pair
	Frequency        Frequency
	BaseAmount       *big.Int
	SlippageBps      int
	SmartSizing      bool
	VolatilityAdjust bool
	LiquidityCheck   bool
	IsActive         bool
	NextCheckTime    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks the invariants a strategy must satisfy before it can be
// scheduled.
func (s Strategy) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidStrategy)
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidStrategy, s.Frequency)
	}
	if s.BaseAmount == nil || s.BaseAmount.Sign() <= 0 {
		return fmt.Errorf("%w: base amount must be positive", ErrInvalidStrategy)
	}
	if s.SlippageBps < 0 || s.SlippageBps > 10_000 {
		return fmt.Errorf("%w: slippage bps out of range", ErrInvalidStrategy)
	}
	if s.Pair.InputToken == "" || s.Pair.OutputToken == "" {
		return fmt.Errorf("%w: pair token addresses required", ErrInvalidStrategy)
	}
	return nil
}
