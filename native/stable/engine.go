package stable

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"stablevault/observability"
)

// Engine orchestrates every state transition of the collateralized debt
// ledger. All mutating entry points hold an engine-wide exclusion flag for
// their full duration: a nested call back into the engine while an external
// token or oracle call is in flight is rejected with ErrReentrancy, even when
// it targets a different user.
//
// Mutations are staged on position copies and verified against the resulting
// state before any change is persisted, so a failed sub-step leaves no partial
// commit behind.
type Engine struct {
	mu sync.Mutex

	state         EngineState
	vault         *CollateralVault
	solvency      *SolvencyCalculator
	debtToken     DebtToken
	moduleAddress common.Address
	params        RiskParameters
	symbols       []string
	registered    map[string]struct{}
	telemetry     *observability.StableMetrics
	now           func() time.Time
}

// NewEngine constructs the position engine. The symbol, feed and token slices
// are ordered registries fixed for the lifetime of the engine; any length
// mismatch, duplicate or blank symbol fails construction with
// ErrConfigMismatch before any state exists.
func NewEngine(moduleAddr common.Address, debtToken DebtToken, symbols []string, feeds []PriceFeed, assets []AssetToken, params RiskParameters) (*Engine, error) {
	if debtToken == nil {
		return nil, ErrConfigMismatch
	}
	if len(symbols) == 0 || len(symbols) != len(feeds) || len(symbols) != len(assets) {
		return nil, ErrConfigMismatch
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	feedRegistry := make(map[string]PriceFeed, len(symbols))
	assetRegistry := make(map[string]AssetToken, len(symbols))
	registered := make(map[string]struct{}, len(symbols))
	ordered := make([]string, 0, len(symbols))
	for i, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" || feeds[i] == nil || assets[i] == nil {
			return nil, ErrConfigMismatch
		}
		if _, exists := registered[symbol]; exists {
			return nil, ErrConfigMismatch
		}
		registered[symbol] = struct{}{}
		ordered = append(ordered, symbol)
		feedRegistry[symbol] = feeds[i]
		assetRegistry[symbol] = assets[i]
	}

	return &Engine{
		vault:         NewCollateralVault(moduleAddr, assetRegistry),
		solvency:      NewSolvencyCalculator(feedRegistry, params.LiquidationThresholdPct, params.MaxPriceAge),
		debtToken:     debtToken,
		moduleAddress: moduleAddr,
		params:        params,
		symbols:       ordered,
		registered:    registered,
		telemetry:     observability.Stable(),
		now:           time.Now,
	}, nil
}

// SetState wires the engine and its vault to the shared position store.
func (e *Engine) SetState(state EngineState) {
	if e == nil {
		return
	}
	e.state = state
	e.vault.SetState(state)
}

// SetClock overrides the time source used for staleness checks and receipts.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
	e.solvency.SetClock(now)
}

// ModuleAddress returns the custody and burn address owned by the engine.
func (e *Engine) ModuleAddress() common.Address {
	return e.moduleAddress
}

// Params returns the risk parameters fixed at construction.
func (e *Engine) Params() RiskParameters {
	return e.params
}

// Symbols returns the registered collateral symbols in registration order.
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

func (e *Engine) acquire() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !e.mu.TryLock() {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) ensurePosition(owner common.Address) (*Position, error) {
	position, err := e.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = NewPosition(owner)
	}
	position.normalize()
	return position, nil
}

// Deposit locks collateral for the user. No solvency check is needed since a
// deposit can only improve the health factor.
func (e *Engine) Deposit(user common.Address, symbol string, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	err := e.vault.Deposit(user, symbol, amount)
	e.telemetry.RecordOperation("deposit", err)
	return err
}

// Mint issues sUSD against the user's collateral. The health factor of the
// resulting state is verified before the mint request is made; a violation
// reverts the whole operation.
func (e *Engine) Mint(user common.Address, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	err := e.mint(user, amount)
	e.telemetry.RecordOperation("mint", err)
	return err
}

func (e *Engine) mint(user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	position, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	staged := position.Copy()
	staged.Debt = new(big.Int).Add(staged.Debt, amount)

	factor, err := e.solvency.PositionHealthFactor(staged)
	if err != nil {
		return err
	}
	if factor.Cmp(MinHealthFactor) < 0 {
		return brokenHealthFactor(factor)
	}

	minted, err := e.debtToken.Mint(user, amount)
	if err != nil || !minted {
		return ErrMintFailed
	}
	return e.state.PutPosition(staged)
}

// Redeem releases collateral back to the user, verifying that the resulting
// state stays solvent before the outbound transfer executes.
func (e *Engine) Redeem(user common.Address, symbol string, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	err := e.redeem(user, symbol, amount)
	e.telemetry.RecordOperation("redeem", err)
	return err
}

func (e *Engine) redeem(user common.Address, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, ok := e.registered[symbol]; !ok {
		return ErrUnregisteredAsset
	}
	position, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	balance := position.CollateralBalance(symbol)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	staged := position.Copy()
	staged.Collateral[symbol] = balance.Sub(balance, amount)
	factor, err := e.solvency.PositionHealthFactor(staged)
	if err != nil {
		return err
	}
	if factor.Cmp(MinHealthFactor) < 0 {
		return brokenHealthFactor(factor)
	}

	return e.vault.Withdraw(user, symbol, amount)
}

// Burn retires sUSD debt. The tokens are pulled from the caller and burned
// before the debt balance decreases. Burning can only improve the health
// factor; the post-state check is kept as a defensive invariant.
func (e *Engine) Burn(user common.Address, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	err := e.burn(user, amount)
	e.telemetry.RecordOperation("burn", err)
	return err
}

func (e *Engine) burn(user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	position, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	if position.Debt.Cmp(amount) < 0 {
		return ErrBurnExceedsDebt
	}

	staged := position.Copy()
	staged.Debt = new(big.Int).Sub(staged.Debt, amount)
	factor, err := e.solvency.PositionHealthFactor(staged)
	if err != nil {
		return err
	}
	if factor.Cmp(MinHealthFactor) < 0 {
		return brokenHealthFactor(factor)
	}

	if err := e.pullAndBurn(user, amount); err != nil {
		return err
	}
	return e.state.PutPosition(staged)
}

// DepositAndMint is the atomic composition of Deposit followed by Mint. When
// the mint fails the deposit is unwound.
func (e *Engine) DepositAndMint(user common.Address, symbol string, depositAmount, mintAmount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	err := e.depositAndMint(user, symbol, depositAmount, mintAmount)
	e.telemetry.RecordOperation("deposit_and_mint", err)
	return err
}

func (e *Engine) depositAndMint(user common.Address, symbol string, depositAmount, mintAmount *big.Int) error {
	if err := e.vault.Deposit(user, symbol, depositAmount); err != nil {
		return err
	}
	if err := e.mint(user, mintAmount); err != nil {
		if rollbackErr := e.vault.Withdraw(user, symbol, depositAmount); rollbackErr != nil {
			return fmt.Errorf("%w (deposit rollback failed: %v)", err, rollbackErr)
		}
		return err
	}
	return nil
}

// RedeemAndBurn is the atomic composition of Burn followed by Redeem. The burn
// runs first so the redemption is checked against the reduced debt.
func (e *Engine) RedeemAndBurn(user common.Address, symbol string, redeemAmount, burnAmount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	err := e.redeemAndBurn(user, symbol, redeemAmount, burnAmount)
	e.telemetry.RecordOperation("redeem_and_burn", err)
	return err
}

func (e *Engine) redeemAndBurn(user common.Address, symbol string, redeemAmount, burnAmount *big.Int) error {
	if err := e.burn(user, burnAmount); err != nil {
		return err
	}
	if err := e.redeem(user, symbol, redeemAmount); err != nil {
		if rollbackErr := e.remint(user, burnAmount); rollbackErr != nil {
			return fmt.Errorf("%w (burn rollback failed: %v)", err, rollbackErr)
		}
		return err
	}
	return nil
}

// remint restores debt retired earlier in the same operation when a later step
// fails.
func (e *Engine) remint(user common.Address, amount *big.Int) error {
	position, err := e.ensurePosition(user)
	if err != nil {
		return err
	}
	minted, err := e.debtToken.Mint(user, amount)
	if err != nil || !minted {
		return ErrMintFailed
	}
	position.Debt = new(big.Int).Add(position.Debt, amount)
	return e.state.PutPosition(position)
}

// Liquidate lets any party cover part of an unhealthy position's debt in
// exchange for the equivalent collateral plus the liquidation bonus. The
// operation only commits when it strictly improves the target's health factor
// and leaves the liquidator solvent.
func (e *Engine) Liquidate(liquidator, target common.Address, symbol string, debtToCover *big.Int) (*LiquidationReceipt, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	receipt, err := e.liquidate(liquidator, target, symbol, debtToCover)
	e.telemetry.RecordOperation("liquidate", err)
	if err == nil {
		e.telemetry.RecordLiquidation(symbol)
	}
	return receipt, err
}

func (e *Engine) liquidate(liquidator, target common.Address, symbol string, debtToCover *big.Int) (*LiquidationReceipt, error) {
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, ok := e.registered[symbol]; !ok {
		return nil, ErrUnregisteredAsset
	}

	targetPos, err := e.ensurePosition(target)
	if err != nil {
		return nil, err
	}
	startFactor, err := e.solvency.PositionHealthFactor(targetPos)
	if err != nil {
		return nil, err
	}
	if startFactor.Cmp(MinHealthFactor) >= 0 {
		return nil, ErrHealthFactorOk
	}
	if targetPos.Debt.Cmp(debtToCover) < 0 {
		return nil, ErrBurnExceedsDebt
	}

	seizedBase, err := e.solvency.AssetAmountForUsd(symbol, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(seizedBase, new(big.Int).SetUint64(e.params.LiquidationBonusPct))
	bonus.Quo(bonus, pctDenominator)
	totalSeized := new(big.Int).Add(seizedBase, bonus)

	balance := targetPos.CollateralBalance(symbol)
	if balance.Cmp(totalSeized) < 0 {
		return nil, ErrInsufficientCollateral
	}

	stagedTarget := targetPos.Copy()
	stagedTarget.Collateral[symbol] = new(big.Int).Sub(balance, totalSeized)
	stagedTarget.Debt = new(big.Int).Sub(stagedTarget.Debt, debtToCover)

	endFactor, err := e.solvency.PositionHealthFactor(stagedTarget)
	if err != nil {
		return nil, err
	}
	if endFactor.Cmp(startFactor) <= 0 {
		return nil, ErrHealthFactorNotImproved
	}

	// A liquidator who is themselves indebted must stay solvent after the
	// operation. Receiving the seized collateral is accounted for.
	stagedLiquidator := stagedTarget
	if liquidator != target {
		liquidatorPos, err := e.ensurePosition(liquidator)
		if err != nil {
			return nil, err
		}
		stagedLiquidator = liquidatorPos.Copy()
	}
	liquidatorBalance := stagedLiquidator.CollateralBalance(symbol)
	stagedLiquidator.Collateral[symbol] = liquidatorBalance.Add(liquidatorBalance, totalSeized)
	liquidatorFactor, err := e.solvency.PositionHealthFactor(stagedLiquidator)
	if err != nil {
		return nil, err
	}
	if liquidatorFactor.Cmp(MinHealthFactor) < 0 {
		return nil, brokenHealthFactor(liquidatorFactor)
	}

	if err := e.pullAndBurn(liquidator, debtToCover); err != nil {
		return nil, err
	}

	if err := e.vault.Seize(target, liquidator, symbol, totalSeized); err != nil {
		return nil, err
	}
	targetPos, err = e.ensurePosition(target)
	if err != nil {
		return nil, err
	}
	targetPos.Debt = new(big.Int).Sub(targetPos.Debt, debtToCover)
	if err := e.state.PutPosition(targetPos); err != nil {
		return nil, err
	}

	return &LiquidationReceipt{
		ID:                uuid.New(),
		Liquidator:        liquidator,
		Target:            target,
		Asset:             symbol,
		DebtCovered:       new(big.Int).Set(debtToCover),
		CollateralSeized:  totalSeized,
		StartHealthFactor: startFactor,
		EndHealthFactor:   endFactor,
		ExecutedAt:        e.now(),
	}, nil
}

// pullAndBurn moves sUSD from the payer to the module address and burns it
// there.
func (e *Engine) pullAndBurn(from common.Address, amount *big.Int) error {
	pulled, err := e.debtToken.TransferFrom(from, e.moduleAddress, amount)
	if err != nil || !pulled {
		return ErrTransferFailed
	}
	if err := e.debtToken.Burn(e.moduleAddress, amount); err != nil {
		// Return the pulled tokens before surfacing the failure.
		_, _ = e.debtToken.TransferFrom(e.moduleAddress, from, amount)
		return err
	}
	return nil
}

// --- Read views ---

// AccountInfo reports the user's minted debt and total collateral USD value.
func (e *Engine) AccountInfo(user common.Address) (*AccountInfo, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	collateralUsd, err := e.solvency.CollateralValue(position)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		Owner:         user,
		Debt:          new(big.Int).Set(position.Debt),
		CollateralUSD: collateralUsd,
	}, nil
}

// CollateralBalance returns the user's deposited amount for the asset.
func (e *Engine) CollateralBalance(user common.Address, symbol string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, ok := e.registered[symbol]; !ok {
		return nil, ErrUnregisteredAsset
	}
	return e.vault.Balance(user, symbol)
}

// CollateralValue returns the total USD value of the user's collateral.
func (e *Engine) CollateralValue(user common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return e.solvency.CollateralValue(position)
}

// HealthFactor returns the user's current health factor.
func (e *Engine) HealthFactor(user common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.ensurePosition(user)
	if err != nil {
		return nil, err
	}
	return e.solvency.PositionHealthFactor(position)
}

// CalculateHealthFactor derives a health factor from pre-fetched values using
// the engine's liquidation threshold.
func (e *Engine) CalculateHealthFactor(debt, collateralUsd *big.Int) *big.Int {
	return HealthFactor(debt, collateralUsd, e.params.LiquidationThresholdPct)
}

// UsdValue converts an asset amount to its USD value.
func (e *Engine) UsdValue(symbol string, amount *big.Int) (*big.Int, error) {
	return e.solvency.UsdValue(symbol, amount)
}

// AssetAmountForUsd converts a USD value to the equivalent asset amount.
func (e *Engine) AssetAmountForUsd(symbol string, usdAmount *big.Int) (*big.Int, error) {
	return e.solvency.AssetAmountForUsd(symbol, usdAmount)
}
