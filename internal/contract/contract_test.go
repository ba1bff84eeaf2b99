package contract

import (
	"errors"
	"testing"
	"time"
)

func TestParseTickerValid(t *testing.T) {
	c, err := ParseTicker("STX-CRYPTO-BTC100K-20261231")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Category != CategoryCrypto {
		t.Errorf("category = %q, want CRYPTO", c.Category)
	}
	if c.Slug != "BTC100K" {
		t.Errorf("slug = %q, want BTC100K", c.Slug)
	}
	want := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	if !c.SettlementDeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", c.SettlementDeadline, want)
	}
}

func TestParseTickerInvalidFormat(t *testing.T) {
	cases := []string{
		"",
		"STX-CRYPTO-BTC100K",              // missing date
		"STX-CRYPTO-BTC100K-2026",         // short date
		"ACME-CRYPTO-BTC100K-20261231",    // wrong prefix
		"STX-crypto-BTC100K-20261231",     // lowercase category
		"STX-CRYPTO-btc 100k-20261231",    // bad slug
		"STX-CRYPTO-BTC100K-20261231-XXX", // trailing segment
	}
	for _, ticker := range cases {
		if _, err := ParseTicker(ticker); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("ParseTicker(%q) err = %v, want ErrInvalidTicker", ticker, err)
		}
	}
}

func TestParseTickerUnknownCategory(t *testing.T) {
	if _, err := ParseTicker("STX-MEMES-DOGE-20261231"); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("err = %v, want ErrInvalidCategory", err)
	}
}

func TestParseTickerBadDate(t *testing.T) {
	if _, err := ParseTicker("STX-CRYPTO-BTC100K-20269999"); !errors.Is(err, ErrInvalidTicker) {
		t.Errorf("err = %v, want ErrInvalidTicker", err)
	}
}

func TestCorrelationKey(t *testing.T) {
	a, err := ParseTicker("STX-CRYPTO-BTC100K-20261231")
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	b, err := ParseTicker("STX-CRYPTO-BTC100K-20270630")
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	if a.CorrelationKey() != b.CorrelationKey() {
		t.Errorf("same subject should share a key: %q vs %q", a.CorrelationKey(), b.CorrelationKey())
	}

	c, err := ParseTicker("STX-CRYPTO-ETH10K-20261231")
	if err != nil {
		t.Fatalf("parse c: %v", err)
	}
	if a.CorrelationKey() == c.CorrelationKey() {
		t.Errorf("different subjects must not share a key: %q", a.CorrelationKey())
	}
}
