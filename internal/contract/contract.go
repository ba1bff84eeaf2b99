// Package contract handles market ticker parsing and validation for
// binary-outcome prediction markets.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Supported market categories.
const (
	CategorySports   = "SPORTS"
	CategoryCrypto   = "CRYPTO"
	CategoryPolitics = "POLITICS"
	CategoryWeather  = "WEATHER"
	CategoryOther    = "OTHER"
)

var validCategories = map[string]bool{
	CategorySports:   true,
	CategoryCrypto:   true,
	CategoryPolitics: true,
	CategoryWeather:  true,
	CategoryOther:    true,
}

// tickerRegex matches: STX-{category}-{slug}-{YYYYMMDD}
// Example: STX-CRYPTO-BTC100K-20261231
var tickerRegex = regexp.MustCompile(
	`^STX-([A-Z]+)-([A-Z0-9]+)-(\d{8})$`,
)

var (
	ErrInvalidTicker   = errors.New("contract: invalid ticker format")
	ErrInvalidCategory = errors.New("contract: unsupported market category")
)

// Contract is a parsed market ticker. The embedded date is the day the
// market becomes eligible for settlement.
type Contract struct {
	Ticker             string    `json:"ticker"`
	Category           string    `json:"category"`
	Slug               string    `json:"slug"`
	SettlementDeadline time.Time `json:"settlement_deadline"`
}

// ParseTicker parses and validates a market ticker string.
// Format: STX-{category}-{slug}-{YYYYMMDD}
func ParseTicker(ticker string) (*Contract, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected STX-{category}-{slug}-{YYYYMMDD})",
			ErrInvalidTicker, ticker)
	}

	category := matches[1]
	slug := matches[2]
	dateStr := matches[3]

	if !validCategories[category] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}

	deadline, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, dateStr)
	}

	return &Contract{
		Ticker:             ticker,
		Category:           category,
		Slug:               slug,
		SettlementDeadline: deadline.UTC(),
	}, nil
}

// CorrelationKey groups tickers whose outcomes tend to move together.
// Markets in the same category about the same subject (e.g. several
// BTC price thresholds) share a key and count against one exposure pool.
func (c *Contract) CorrelationKey() string {
	return c.Category + "-" + c.Slug
}
