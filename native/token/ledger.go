package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotAuthorized       = errors.New("token ledger: caller not authorized")
	ErrInvalidAmount       = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
)

// Ledger is an in-memory fungible asset ledger. It backs both the synthetic
// dollar and, in tests and single-process deployments, the collateral assets.
// Mint and burn are gated to the authorized minter fixed at construction; the
// position engine's module address is the only minter of the debt token.
type Ledger struct {
	mu       sync.RWMutex
	symbol   string
	minter   common.Address
	balances map[common.Address]*big.Int
	supply   *big.Int
}

// NewLedger constructs a ledger for the symbol with the given authorized
// minter.
func NewLedger(symbol string, minter common.Address) *Ledger {
	return &Ledger{
		symbol:   symbol,
		minter:   minter,
		balances: make(map[common.Address]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Symbol returns the ticker the ledger was created with.
func (l *Ledger) Symbol() string {
	return l.symbol
}

// BalanceOf returns the holder's balance.
func (l *Ledger) BalanceOf(owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, ok := l.balances[owner]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// TotalSupply returns the outstanding supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply)
}

// Mint credits newly issued units to the recipient. Only the authorized
// minter may mint.
func (l *Ledger) Mint(caller, to common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.minter {
		return false, ErrNotAuthorized
	}
	l.credit(to, amount)
	l.supply = new(big.Int).Add(l.supply, amount)
	return true, nil
}

// Burn destroys units held by the caller. Only the authorized minter may burn.
func (l *Ledger) Burn(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.minter {
		return ErrNotAuthorized
	}
	if err := l.debit(caller, amount); err != nil {
		return err
	}
	l.supply = new(big.Int).Sub(l.supply, amount)
	return nil
}

// Transfer moves units between holders.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return false, err
	}
	l.credit(to, amount)
	return true, nil
}

func (l *Ledger) credit(owner common.Address, amount *big.Int) {
	balance, ok := l.balances[owner]
	if !ok {
		balance = big.NewInt(0)
	}
	l.balances[owner] = new(big.Int).Add(balance, amount)
}

func (l *Ledger) debit(owner common.Address, amount *big.Int) error {
	balance, ok := l.balances[owner]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[owner] = new(big.Int).Sub(balance, amount)
	return nil
}

// Session binds a caller identity to the ledger. The engine holds a session
// for its module address; mint and burn issued through any other session fail
// at the ledger.
type Session struct {
	ledger *Ledger
	caller common.Address
}

// Session returns a handle whose privileged calls are stamped with the caller
// address.
func (l *Ledger) Session(caller common.Address) *Session {
	return &Session{ledger: l, caller: caller}
}

// Mint issues units to the recipient on behalf of the session caller.
func (s *Session) Mint(to common.Address, amount *big.Int) (bool, error) {
	return s.ledger.Mint(s.caller, to, amount)
}

// Burn destroys units held at from. The session caller must own the balance
// being burned.
func (s *Session) Burn(from common.Address, amount *big.Int) error {
	if from != s.caller {
		return ErrNotAuthorized
	}
	return s.ledger.Burn(from, amount)
}

// TransferFrom moves units between holders under the session's authority.
func (s *Session) TransferFrom(from, to common.Address, amount *big.Int) (bool, error) {
	return s.ledger.Transfer(from, to, amount)
}

// BalanceOf returns the holder's balance.
func (s *Session) BalanceOf(owner common.Address) *big.Int {
	return s.ledger.BalanceOf(owner)
}
