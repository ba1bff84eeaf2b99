package correlation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCheckLimitWithinBounds(t *testing.T) {
	l := NewPositionLimiter(d(100), d(250))

	err := l.CheckLimit("m1", "CRYPTO-BTC100K", d(50), nil)
	if err != nil {
		t.Fatalf("fresh position within limits: %v", err)
	}
}

func TestPerMarketLimit(t *testing.T) {
	l := NewPositionLimiter(d(100), d(1000))
	existing := map[string]Exposure{
		"m1": {CorrelationKey: "CRYPTO-BTC100K", Net: d(80)},
	}

	if err := l.CheckLimit("m1", "CRYPTO-BTC100K", d(20), existing); err != nil {
		t.Errorf("exactly at limit should pass: %v", err)
	}
	if err := l.CheckLimit("m1", "CRYPTO-BTC100K", d(21), existing); !errors.Is(err, ErrPerMarketLimitExceeded) {
		t.Errorf("err = %v, want ErrPerMarketLimitExceeded", err)
	}

	// Selling down a long position stays within the cap.
	if err := l.CheckLimit("m1", "CRYPTO-BTC100K", d(-150), existing); err != nil {
		t.Errorf("flipping direction within cap: %v", err)
	}
}

func TestCorrelatedLimit(t *testing.T) {
	l := NewPositionLimiter(d(100), d(150))
	existing := map[string]Exposure{
		"m1": {CorrelationKey: "CRYPTO-BTC100K", Net: d(90)},
		"m2": {CorrelationKey: "CRYPTO-BTC100K", Net: d(-50)},
		"m3": {CorrelationKey: "SPORTS-FINAL", Net: d(100)},
	}

	// 90 + 50 pooled already; 10 more in a new correlated market fits.
	if err := l.CheckLimit("m4", "CRYPTO-BTC100K", d(10), existing); err != nil {
		t.Errorf("pooled total 150 should pass: %v", err)
	}
	if err := l.CheckLimit("m4", "CRYPTO-BTC100K", d(11), existing); !errors.Is(err, ErrCorrelatedLimitExceeded) {
		t.Errorf("err = %v, want ErrCorrelatedLimitExceeded", err)
	}

	// An uncorrelated market only counts against its own pool.
	if err := l.CheckLimit("m5", "POLITICS-ELECTION", d(100), existing); err != nil {
		t.Errorf("uncorrelated exposure rejected: %v", err)
	}
}

func TestShortExposureCountsAbsolute(t *testing.T) {
	l := NewPositionLimiter(d(100), d(120))
	existing := map[string]Exposure{
		"m1": {CorrelationKey: "WEATHER-LANDFALL", Net: d(-80)},
	}

	if err := l.CheckLimit("m2", "WEATHER-LANDFALL", d(-41), existing); !errors.Is(err, ErrCorrelatedLimitExceeded) {
		t.Errorf("err = %v, want ErrCorrelatedLimitExceeded (|-80| + |-41| > 120)", err)
	}
}
