// Package model defines the core domain types shared across the market engine.
// All quantities and collateral amounts are uint64 base units — never float64
// for money. Prices are collateral units per outcome token.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome identifies one leg of a binary market.
type Outcome uint8

const (
	OutcomeYes Outcome = iota
	OutcomeNo
)

func (o Outcome) String() string {
	if o == OutcomeYes {
		return "YES"
	}
	return "NO"
}

// ParseOutcome converts the wire form ("YES"/"NO") to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "YES":
		return OutcomeYes, nil
	case "NO":
		return OutcomeNo, nil
	}
	return 0, fmt.Errorf("model: invalid outcome %q", s)
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOutcome(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Side is the direction of an order.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// ParseSide converts the wire form ("BUY"/"SELL") to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return 0, fmt.Errorf("model: invalid side %q", s)
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSide(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Asset names one of the three balances a user can hold in a market.
type Asset uint8

const (
	AssetCollateral Asset = iota
	AssetYes
	AssetNo
)

func (a Asset) String() string {
	switch a {
	case AssetCollateral:
		return "COLLATERAL"
	case AssetYes:
		return "YES"
	}
	return "NO"
}

// OutcomeAsset maps an outcome token to its Asset.
func OutcomeAsset(o Outcome) Asset {
	if o == OutcomeYes {
		return AssetYes
	}
	return AssetNo
}

// WinningOutcome is the settlement authority's resolution of a market.
type WinningOutcome uint8

const (
	WinnerNone WinningOutcome = iota // not yet resolved
	WinnerYes
	WinnerNo
	WinnerNeither // voided market, no side pays out
)

func (w WinningOutcome) String() string {
	switch w {
	case WinnerYes:
		return "YES"
	case WinnerNo:
		return "NO"
	case WinnerNeither:
		return "NEITHER"
	}
	return "NONE"
}

// ParseWinningOutcome converts the wire form to a WinningOutcome.
func ParseWinningOutcome(s string) (WinningOutcome, error) {
	switch s {
	case "YES":
		return WinnerYes, nil
	case "NO":
		return WinnerNo, nil
	case "NEITHER":
		return WinnerNeither, nil
	}
	return 0, fmt.Errorf("model: invalid winning outcome %q", s)
}

func (w WinningOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

func (w *WinningOutcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "NONE" {
		*w = WinnerNone
		return nil
	}
	parsed, err := ParseWinningOutcome(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Order is a resting trading intent. Price and Quantity are immutable after
// placement; only Filled advances, and never past Quantity.
type Order struct {
	ID       uint64    `json:"id"`
	MarketID string    `json:"market_id"`
	User     string    `json:"user"`
	Side     Side      `json:"side"`
	Outcome  Outcome   `json:"outcome"`
	Price    uint64    `json:"price"`    // collateral units per token
	Quantity uint64    `json:"quantity"` // token units
	Filled   uint64    `json:"filled"`
	PlacedAt time.Time `json:"placed_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() uint64 {
	return o.Quantity - o.Filled
}

// LedgerEntry tracks one user's locked and claimable balances in one market.
// Locked balances back open orders; claimable balances are owed to the user
// and only leave through an explicit claim.
type LedgerEntry struct {
	User                string `json:"user"`
	MarketID            string `json:"market_id"`
	LockedCollateral    uint64 `json:"locked_collateral"`
	ClaimableCollateral uint64 `json:"claimable_collateral"`
	LockedYes           uint64 `json:"locked_yes"`
	ClaimableYes        uint64 `json:"claimable_yes"`
	LockedNo            uint64 `json:"locked_no"`
	ClaimableNo         uint64 `json:"claimable_no"`
	RewardClaimed       bool   `json:"reward_claimed"`
}

// Market is the per-market configuration and running totals the engine
// consults on every operation.
type Market struct {
	ID                 string         `json:"id"`
	Ticker             string         `json:"ticker"` // STX-{category}-{slug}-{YYYYMMDD}
	SettlementDeadline time.Time      `json:"settlement_deadline"`
	Settled            bool           `json:"settled"`
	Winner             WinningOutcome `json:"winner"`
	// TotalCollateralLocked is the collateral escrowed for open buy
	// orders plus split deposits, updated in the same step as every
	// locked-collateral mutation.
	TotalCollateralLocked uint64    `json:"total_collateral_locked"`
	Authority             string    `json:"authority"`
	MetadataURL           string    `json:"metadata_url"`
	CreatedAt             time.Time `json:"created_at"`
}

// Trade is an immutable record of one fill between a taker and a maker.
// Once created, these are never modified or deleted.
type Trade struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	OrderID   uint64    `json:"order_id"` // resting (maker) order
	Taker     string    `json:"taker"`
	Maker     string    `json:"maker"`
	TakerSide Side      `json:"taker_side"`
	Outcome   Outcome   `json:"outcome"`
	Price     uint64    `json:"price"` // execution price = maker's price
	Quantity  uint64    `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}
