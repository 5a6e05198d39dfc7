package stable

import (
	"math/big"
	"sort"
	"time"
)

// SolvencyCalculator converts between asset amounts and USD value and derives
// health factors. Conversions consult the registered price feeds; the health
// factor itself is a pure function over pre-fetched values.
type SolvencyCalculator struct {
	feeds        map[string]PriceFeed
	thresholdPct uint64
	maxPriceAge  time.Duration
	now          func() time.Time
}

// NewSolvencyCalculator builds a calculator over the registered feeds.
func NewSolvencyCalculator(feeds map[string]PriceFeed, thresholdPct uint64, maxPriceAge time.Duration) *SolvencyCalculator {
	registry := make(map[string]PriceFeed, len(feeds))
	for symbol, feed := range feeds {
		registry[symbol] = feed
	}
	return &SolvencyCalculator{
		feeds:        registry,
		thresholdPct: thresholdPct,
		maxPriceAge:  maxPriceAge,
		now:          time.Now,
	}
}

// SetClock overrides the time source used for staleness checks.
func (c *SolvencyCalculator) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.now = now
}

// price fetches the feed quote for the symbol and enforces freshness and
// positivity before returning it.
func (c *SolvencyCalculator) price(symbol string) (*big.Int, error) {
	feed, ok := c.feeds[symbol]
	if !ok {
		return nil, ErrUnregisteredAsset
	}
	price, publishedAt, err := feed.LatestPrice()
	if err != nil {
		return nil, err
	}
	if c.maxPriceAge > 0 && c.now().Sub(publishedAt) > c.maxPriceAge {
		return nil, ErrStalePrice
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// UsdValue converts an 18-decimal asset amount into its 18-decimal USD value
// using floor division.
func (c *SolvencyCalculator) UsdValue(symbol string, amount *big.Int) (*big.Int, error) {
	if c == nil {
		return nil, ErrNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	price, err := c.price(symbol)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(price, FeedScale)
	value.Mul(value, amount)
	value.Quo(value, Precision)
	return value, nil
}

// AssetAmountForUsd converts an 18-decimal USD value into the equivalent asset
// amount. Floor division in both directions means a round trip through
// UsdValue may differ by up to one wei.
func (c *SolvencyCalculator) AssetAmountForUsd(symbol string, usdAmount *big.Int) (*big.Int, error) {
	if c == nil {
		return nil, ErrNilState
	}
	if usdAmount == nil || usdAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	price, err := c.price(symbol)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Int).Mul(price, FeedScale)
	amount := new(big.Int).Mul(usdAmount, Precision)
	amount.Quo(amount, scaled)
	return amount, nil
}

// CollateralValue sums the USD value of every asset deposited in the position.
// Symbols are walked in sorted order so repeated calls observe feeds in a
// deterministic sequence.
func (c *SolvencyCalculator) CollateralValue(position *Position) (*big.Int, error) {
	if c == nil {
		return nil, ErrNilState
	}
	total := big.NewInt(0)
	if position == nil || len(position.Collateral) == 0 {
		return total, nil
	}
	symbols := make([]string, 0, len(position.Collateral))
	for symbol := range position.Collateral {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		amount := position.Collateral[symbol]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		value, err := c.UsdValue(symbol, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// HealthFactor derives the solvency ratio of a position from its minted debt
// and the USD value of its collateral. Zero debt yields MaxHealthFactor since
// such a position can never be liquidated.
func HealthFactor(debt, collateralUsd *big.Int, thresholdPct uint64) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	if collateralUsd == nil {
		collateralUsd = big.NewInt(0)
	}
	adjusted := new(big.Int).Mul(collateralUsd, new(big.Int).SetUint64(thresholdPct))
	adjusted.Quo(adjusted, pctDenominator)
	factor := adjusted.Mul(adjusted, Precision)
	return factor.Quo(factor, debt)
}

// HealthFactorOf applies the calculator's configured threshold.
func (c *SolvencyCalculator) HealthFactorOf(debt, collateralUsd *big.Int) *big.Int {
	return HealthFactor(debt, collateralUsd, c.thresholdPct)
}

// PositionHealthFactor fetches the position's collateral value and derives its
// current health factor.
func (c *SolvencyCalculator) PositionHealthFactor(position *Position) (*big.Int, error) {
	collateralUsd, err := c.CollateralValue(position)
	if err != nil {
		return nil, err
	}
	var debt *big.Int
	if position != nil {
		debt = position.Debt
	}
	return c.HealthFactorOf(debt, collateralUsd), nil
}
