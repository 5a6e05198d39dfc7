package stable

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablevault/native/token"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

func wei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Precision)
}

// feedPrice renders a dollar price at feed precision.
func feedPrice(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), big.NewInt(100_000_000))
}

type feedStub struct {
	price       *big.Int
	publishedAt time.Time
	err         error
}

func (f *feedStub) LatestPrice() (*big.Int, time.Time, error) {
	if f.err != nil {
		return nil, time.Time{}, f.err
	}
	return new(big.Int).Set(f.price), f.publishedAt, nil
}

type assetStub struct {
	failTransfer bool
	transfers    int
	onTransfer   func() error
}

func (a *assetStub) TransferFrom(from, to common.Address, amount *big.Int) (bool, error) {
	if a.onTransfer != nil {
		if err := a.onTransfer(); err != nil {
			return false, err
		}
	}
	if a.failTransfer {
		return false, nil
	}
	a.transfers++
	return true, nil
}

func (a *assetStub) BalanceOf(common.Address) *big.Int {
	return big.NewInt(0)
}

type testRig struct {
	engine *Engine
	state  *MemoryState
	feed   *feedStub
	asset  *assetStub
	ledger *token.Ledger
	module common.Address
}

func newTestRig(t *testing.T, priceUsd int64) *testRig {
	t.Helper()
	module := makeAddress(0x01)
	now := time.Unix(1_700_000_000, 0)
	feed := &feedStub{price: feedPrice(priceUsd), publishedAt: now}
	asset := &assetStub{}
	ledger := token.NewLedger("SUSD", module)

	engine, err := NewEngine(module, ledger.Session(module), []string{"WETH"}, []PriceFeed{feed}, []AssetToken{asset}, DefaultRiskParameters())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	state := NewMemoryState()
	engine.SetState(state)
	engine.SetClock(func() time.Time { return now })
	return &testRig{engine: engine, state: state, feed: feed, asset: asset, ledger: ledger, module: module}
}

func TestNewEngineConfigMismatch(t *testing.T) {
	module := makeAddress(0x01)
	feed := &feedStub{price: feedPrice(2000), publishedAt: time.Now()}
	asset := &assetStub{}
	ledger := token.NewLedger("SUSD", module)
	session := ledger.Session(module)

	cases := []struct {
		name    string
		symbols []string
		feeds   []PriceFeed
		assets  []AssetToken
	}{
		{"more symbols than feeds", []string{"WETH", "WBTC"}, []PriceFeed{feed}, []AssetToken{asset, asset}},
		{"more feeds than symbols", []string{"WETH"}, []PriceFeed{feed, feed}, []AssetToken{asset}},
		{"missing asset tokens", []string{"WETH"}, []PriceFeed{feed}, nil},
		{"empty registry", nil, nil, nil},
		{"duplicate symbol", []string{"WETH", "WETH"}, []PriceFeed{feed, feed}, []AssetToken{asset, asset}},
		{"blank symbol", []string{" "}, []PriceFeed{feed}, []AssetToken{asset}},
	}
	for _, tc := range cases {
		if _, err := NewEngine(module, session, tc.symbols, tc.feeds, tc.assets, DefaultRiskParameters()); !errors.Is(err, ErrConfigMismatch) {
			t.Fatalf("%s: expected config mismatch, got %v", tc.name, err)
		}
	}
}

func TestDepositAndMintHappyPath(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	if err := rig.engine.Deposit(user, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	value, err := rig.engine.CollateralValue(user)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value.Cmp(wei(20_000)) != 0 {
		t.Fatalf("unexpected collateral value: %s", value)
	}

	if err := rig.engine.Mint(user, wei(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := rig.ledger.BalanceOf(user); got.Cmp(wei(100)) != 0 {
		t.Fatalf("unexpected token balance: %s", got)
	}

	factor, err := rig.engine.HealthFactor(user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(100), Precision)
	if factor.Cmp(want) != 0 {
		t.Fatalf("unexpected health factor: got %s want %s", factor, want)
	}
}

func TestMintRejectedWhenUndercollateralized(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	if err := rig.engine.Deposit(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// $2000 collateral at a 50% threshold supports at most $1000 of debt.
	err := rig.engine.Mint(user, wei(1001))
	if !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected health factor error, got %v", err)
	}
	var hfErr *HealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("expected HealthFactorError, got %T", err)
	}
	if hfErr.Factor.Cmp(MinHealthFactor) >= 0 {
		t.Fatalf("reported factor should be below minimum: %s", hfErr.Factor)
	}
	if got := rig.ledger.BalanceOf(user); got.Sign() != 0 {
		t.Fatalf("no tokens should have been minted, got %s", got)
	}
	info, err := rig.engine.AccountInfo(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if info.Debt.Sign() != 0 {
		t.Fatalf("debt should be unchanged, got %s", info.Debt)
	}

	// Exactly at the limit is healthy.
	if err := rig.engine.Mint(user, wei(1000)); err != nil {
		t.Fatalf("mint at limit: %v", err)
	}
}

func TestRedeemKeepsPositionSolvent(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	if err := rig.engine.Deposit(user, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := rig.engine.Mint(user, wei(5000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// $20000 collateral backing $5000 debt; withdrawing more than 5 WETH
	// would push the factor under 1.
	if err := rig.engine.Redeem(user, "WETH", wei(6)); !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected health factor error, got %v", err)
	}
	balance, err := rig.engine.CollateralBalance(user, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Cmp(wei(10)) != 0 {
		t.Fatalf("balance should be unchanged, got %s", balance)
	}

	if err := rig.engine.Redeem(user, "WETH", wei(5)); err != nil {
		t.Fatalf("redeem within limit: %v", err)
	}
}

func TestBurnReducesDebt(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	if err := rig.engine.Deposit(user, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := rig.engine.Mint(user, wei(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := rig.engine.Burn(user, wei(200)); !errors.Is(err, ErrBurnExceedsDebt) {
		t.Fatalf("expected burn exceeds debt, got %v", err)
	}
	if err := rig.engine.Burn(user, wei(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	info, err := rig.engine.AccountInfo(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if info.Debt.Cmp(wei(60)) != 0 {
		t.Fatalf("unexpected debt: %s", info.Debt)
	}
	if got := rig.ledger.BalanceOf(user); got.Cmp(wei(60)) != 0 {
		t.Fatalf("unexpected token balance: %s", got)
	}
	if got := rig.ledger.TotalSupply(); got.Cmp(wei(60)) != 0 {
		t.Fatalf("burned supply should shrink, got %s", got)
	}
}

func TestDepositAndMintRollsBackDeposit(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	err := rig.engine.DepositAndMint(user, "WETH", wei(1), wei(5000))
	if !errors.Is(err, ErrHealthFactorBroken) {
		t.Fatalf("expected health factor error, got %v", err)
	}
	balance, err := rig.engine.CollateralBalance(user, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("deposit should have been rolled back, got %s", balance)
	}

	if err := rig.engine.DepositAndMint(user, "WETH", wei(10), wei(100)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	if got := rig.ledger.BalanceOf(user); got.Cmp(wei(100)) != 0 {
		t.Fatalf("unexpected token balance: %s", got)
	}
}

func TestRedeemAndBurn(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	if err := rig.engine.DepositAndMint(user, "WETH", wei(10), wei(1000)); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := rig.engine.RedeemAndBurn(user, "WETH", wei(10), wei(1000)); err != nil {
		t.Fatalf("redeem and burn: %v", err)
	}
	info, err := rig.engine.AccountInfo(user)
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if info.Debt.Sign() != 0 || info.CollateralUSD.Sign() != 0 {
		t.Fatalf("position should be empty: debt=%s collateral=%s", info.Debt, info.CollateralUSD)
	}
	if got := rig.ledger.BalanceOf(user); got.Sign() != 0 {
		t.Fatalf("tokens should be burned, got %s", got)
	}
}

func TestDepositTransferFailureLeavesNoState(t *testing.T) {
	rig := newTestRig(t, 2000)
	rig.asset.failTransfer = true
	user := makeAddress(0x10)

	if err := rig.engine.Deposit(user, "WETH", wei(10)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	balance, err := rig.engine.CollateralBalance(user, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("failed deposit must not be recorded, got %s", balance)
	}
}

func TestStalePriceFailsOperation(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)
	if err := rig.engine.Deposit(user, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	rig.feed.publishedAt = rig.feed.publishedAt.Add(-4 * time.Hour)
	if err := rig.engine.Mint(user, wei(100)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
}

func TestInvalidPriceFailsOperation(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)
	if err := rig.engine.Deposit(user, "WETH", wei(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	rig.feed.price = big.NewInt(0)
	if err := rig.engine.Mint(user, wei(100)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}

func TestUnregisteredAssetRejected(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	if err := rig.engine.Deposit(user, "DOGE", wei(10)); !errors.Is(err, ErrUnregisteredAsset) {
		t.Fatalf("expected unregistered asset, got %v", err)
	}
	if _, err := rig.engine.UsdValue("DOGE", wei(1)); !errors.Is(err, ErrUnregisteredAsset) {
		t.Fatalf("expected unregistered asset, got %v", err)
	}
}

func TestReentrantCallRejected(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	var nested error
	rig.asset.onTransfer = func() error {
		// A hostile token calling back into the engine mid-transfer must be
		// rejected even though it targets a different user.
		nested = rig.engine.Deposit(makeAddress(0x11), "WETH", wei(1))
		return nested
	}
	err := rig.engine.Deposit(user, "WETH", wei(10))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected outer transfer failure, got %v", err)
	}
	if !errors.Is(nested, ErrReentrancy) {
		t.Fatalf("expected nested reentrancy rejection, got %v", nested)
	}
	balance, berr := rig.engine.CollateralBalance(user, "WETH")
	if berr != nil {
		t.Fatalf("collateral balance: %v", berr)
	}
	if balance.Sign() != 0 {
		t.Fatalf("no deposit should have committed, got %s", balance)
	}
}

func TestInvalidAmounts(t *testing.T) {
	rig := newTestRig(t, 2000)
	user := makeAddress(0x10)

	if err := rig.engine.Deposit(user, "WETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("deposit zero: %v", err)
	}
	if err := rig.engine.Mint(user, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("mint nil: %v", err)
	}
	if err := rig.engine.Burn(user, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("burn negative: %v", err)
	}
	if _, err := rig.engine.Liquidate(makeAddress(0x20), user, "WETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("liquidate zero: %v", err)
	}
}
