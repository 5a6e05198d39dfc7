package stable

import (
	"math/big"
	"time"

	ethmath "github.com/ethereum/go-ethereum/common/math"
)

// FeedDecimals is the precision reported by the registered price feeds. Feed
// prices must be scaled up by FeedScale before they can be combined with the
// 18-decimal amounts tracked by the ledger.
const FeedDecimals = 8

var (
	// Precision is the fixed-point scale shared by collateral amounts, debt
	// amounts and USD values.
	Precision = mustBigInt("1000000000000000000") // 1e18

	// FeedScale lifts an 8-decimal feed price to the internal 18-decimal scale.
	FeedScale = mustBigInt("10000000000") // 1e10

	// MinHealthFactor is the smallest factor considered solvent. A position at
	// exactly MinHealthFactor is healthy; anything below is liquidatable.
	MinHealthFactor = new(big.Int).Set(Precision)

	// MaxHealthFactor is the sentinel reported for positions with zero debt.
	MaxHealthFactor = new(big.Int).Set(ethmath.MaxBig256)

	pctDenominator = big.NewInt(100)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// RiskParameters groups the safety limits fixed at engine construction.
type RiskParameters struct {
	// LiquidationThresholdPct is the percentage of collateral USD value that
	// counts toward solvency.
	LiquidationThresholdPct uint64
	// LiquidationBonusPct is the percentage premium a liquidator receives in
	// seized collateral above the debt they cover.
	LiquidationBonusPct uint64
	// MaxPriceAge is the staleness window applied to every oracle quote.
	MaxPriceAge time.Duration
}

// DefaultRiskParameters returns the canonical production parameters: a 50%
// liquidation threshold (200% over-collateralization), a 10% liquidation bonus
// and a three hour price staleness window.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		LiquidationThresholdPct: 50,
		LiquidationBonusPct:     10,
		MaxPriceAge:             3 * time.Hour,
	}
}

// Validate checks the parameters for internal consistency.
func (p RiskParameters) Validate() error {
	if p.LiquidationThresholdPct == 0 || p.LiquidationThresholdPct > 100 {
		return ErrConfigMismatch
	}
	if p.LiquidationBonusPct >= 100 {
		return ErrConfigMismatch
	}
	if p.MaxPriceAge <= 0 {
		return ErrConfigMismatch
	}
	return nil
}
