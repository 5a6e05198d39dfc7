package stable

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralVault tracks per-user, per-asset deposits and orchestrates the
// custody transfers backing them. Balances only change through Deposit,
// Withdraw and Seize; staged mutations are persisted after the backing
// transfer succeeds, so a failed transfer leaves no trace.
type CollateralVault struct {
	state   EngineState
	custody common.Address
	assets  map[string]AssetToken
}

// NewCollateralVault constructs a vault holding custody of the registered
// assets at the custody address.
func NewCollateralVault(custody common.Address, assets map[string]AssetToken) *CollateralVault {
	registry := make(map[string]AssetToken, len(assets))
	for symbol, token := range assets {
		registry[symbol] = token
	}
	return &CollateralVault{custody: custody, assets: registry}
}

// SetState wires the vault to the shared position store.
func (v *CollateralVault) SetState(state EngineState) {
	if v == nil {
		return
	}
	v.state = state
}

func (v *CollateralVault) ensurePosition(owner common.Address) (*Position, error) {
	if v == nil || v.state == nil {
		return nil, ErrNilState
	}
	position, err := v.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = NewPosition(owner)
	}
	position.normalize()
	return position, nil
}

// Deposit adds amount to the user's balance for the asset. Repeated deposits
// accumulate; the prior balance is never overwritten. The asset is pulled from
// the user into custody and the balance update is only persisted once that
// transfer succeeds.
func (v *CollateralVault) Deposit(user common.Address, symbol string, amount *big.Int) error {
	if v == nil || v.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token, ok := v.assets[symbol]
	if !ok {
		return ErrUnregisteredAsset
	}

	position, err := v.ensurePosition(user)
	if err != nil {
		return err
	}
	balance := position.CollateralBalance(symbol)
	position.Collateral[symbol] = balance.Add(balance, amount)

	transferred, err := token.TransferFrom(user, v.custody, amount)
	if err != nil || !transferred {
		return ErrTransferFailed
	}
	return v.state.PutPosition(position)
}

// Withdraw releases amount of the asset back to the user. The subtraction is
// staged first and discarded when the outbound transfer fails.
func (v *CollateralVault) Withdraw(user common.Address, symbol string, amount *big.Int) error {
	if v == nil || v.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token, ok := v.assets[symbol]
	if !ok {
		return ErrUnregisteredAsset
	}

	position, err := v.ensurePosition(user)
	if err != nil {
		return err
	}
	balance := position.CollateralBalance(symbol)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	position.Collateral[symbol] = balance.Sub(balance, amount)

	transferred, err := token.TransferFrom(v.custody, user, amount)
	if err != nil || !transferred {
		return ErrTransferFailed
	}
	return v.state.PutPosition(position)
}

// Seize reassigns collateral from one position to another without moving
// custody. Used by liquidations so the collateral hop does not round-trip
// through withdraw and deposit.
func (v *CollateralVault) Seize(from, to common.Address, symbol string, amount *big.Int) error {
	if v == nil || v.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, ok := v.assets[symbol]; !ok {
		return ErrUnregisteredAsset
	}

	source, err := v.ensurePosition(from)
	if err != nil {
		return err
	}
	balance := source.CollateralBalance(symbol)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	if from == to {
		return nil
	}
	target, err := v.ensurePosition(to)
	if err != nil {
		return err
	}

	source.Collateral[symbol] = balance.Sub(balance, amount)
	targetBalance := target.CollateralBalance(symbol)
	target.Collateral[symbol] = targetBalance.Add(targetBalance, amount)

	if err := v.state.PutPosition(source); err != nil {
		return err
	}
	return v.state.PutPosition(target)
}

// Balance returns the deposited amount for the user and asset.
func (v *CollateralVault) Balance(user common.Address, symbol string) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, ErrNilState
	}
	position, err := v.state.GetPosition(user)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return big.NewInt(0), nil
	}
	return position.CollateralBalance(symbol), nil
}
