package stable

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceFeed reports the latest USD quote for a single registered asset. The
// engine never trusts a quote blindly: a non-positive price or a quote older
// than the configured staleness window fails the calling operation.
type PriceFeed interface {
	LatestPrice() (price *big.Int, publishedAt time.Time, err error)
}

// DebtToken is the fungible ledger for the synthetic dollar. Mint and burn are
// gated by the ledger itself so that only the engine's module address may call
// them.
type DebtToken interface {
	Mint(to common.Address, amount *big.Int) (bool, error)
	Burn(from common.Address, amount *big.Int) error
	TransferFrom(from, to common.Address, amount *big.Int) (bool, error)
}

// AssetToken is the standard fungible interface of a collateral asset. A false
// return is treated identically to an error.
type AssetToken interface {
	TransferFrom(from, to common.Address, amount *big.Int) (bool, error)
	BalanceOf(owner common.Address) *big.Int
}
