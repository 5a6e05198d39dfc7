package stable

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Position tracks the collateral and debt of a single owner. Records are
// created lazily on first deposit or mint and are never destroyed; a position
// with zero collateral and zero debt is simply empty. Only the engine and its
// vault may mutate a position.
type Position struct {
	Owner common.Address
	// Collateral maps the registered asset symbol to the deposited amount in
	// 18-decimal fixed point.
	Collateral map[string]*big.Int
	// Debt is the amount of sUSD minted against the position.
	Debt *big.Int
}

// NewPosition returns an empty position for the owner.
func NewPosition(owner common.Address) *Position {
	return &Position{
		Owner:      owner,
		Collateral: make(map[string]*big.Int),
		Debt:       big.NewInt(0),
	}
}

// Copy returns a deep copy so callers can stage mutations without touching
// shared state.
func (p *Position) Copy() *Position {
	if p == nil {
		return nil
	}
	clone := NewPosition(p.Owner)
	for symbol, amount := range p.Collateral {
		if amount != nil {
			clone.Collateral[symbol] = new(big.Int).Set(amount)
		}
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return clone
}

// CollateralBalance returns the deposited amount for the symbol, zero when the
// asset has never been deposited.
func (p *Position) CollateralBalance(symbol string) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	amount, ok := p.Collateral[symbol]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func (p *Position) normalize() {
	if p.Collateral == nil {
		p.Collateral = make(map[string]*big.Int)
	}
	for symbol, amount := range p.Collateral {
		if amount == nil {
			p.Collateral[symbol] = big.NewInt(0)
		}
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
}

// AccountInfo is the read view exposed for a position.
type AccountInfo struct {
	Owner         common.Address
	Debt          *big.Int
	CollateralUSD *big.Int
}

// LiquidationReceipt summarizes a completed liquidation for downstream
// auditing.
type LiquidationReceipt struct {
	ID                uuid.UUID
	Liquidator        common.Address
	Target            common.Address
	Asset             string
	DebtCovered       *big.Int
	CollateralSeized  *big.Int
	StartHealthFactor *big.Int
	EndHealthFactor   *big.Int
	ExecutedAt        time.Time
}
