package stable

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"stablevault/storage"
)

// EngineState abstracts the persistence layer holding position records. The
// engine is the sole writer; implementations return deep copies so staged
// mutations never leak into the store before the operation commits.
type EngineState interface {
	GetPosition(owner common.Address) (*Position, error)
	PutPosition(position *Position) error
}

// --- In-memory state ---

// MemoryState keeps positions in a map. Used by tests and available to
// deployments that do not need durability.
type MemoryState struct {
	mu        sync.RWMutex
	positions map[common.Address]*Position
}

func NewMemoryState() *MemoryState {
	return &MemoryState{positions: make(map[common.Address]*Position)}
}

func (s *MemoryState) GetPosition(owner common.Address) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.positions[owner]
	if !ok {
		return nil, nil
	}
	return position.Copy(), nil
}

func (s *MemoryState) PutPosition(position *Position) error {
	if position == nil {
		return fmt.Errorf("stable state: nil position")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[position.Owner] = position.Copy()
	return nil
}

// --- Durable state ---

var positionKeyPrefix = []byte("stable/position/")

type storedPosition struct {
	Owner   [20]byte
	Symbols []string
	Amounts []string
	Debt    string
}

// StoreState persists positions in a key-value store using RLP encoding.
type StoreState struct {
	db storage.Database
}

// NewStoreState wraps the provided database as engine state.
func NewStoreState(db storage.Database) *StoreState {
	return &StoreState{db: db}
}

func positionKey(owner common.Address) []byte {
	return append(append([]byte(nil), positionKeyPrefix...), owner.Bytes()...)
}

func (s *StoreState) GetPosition(owner common.Address) (*Position, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilState
	}
	key := positionKey(owner)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, fmt.Errorf("stable state: lookup position: %w", err)
	}
	if !ok {
		return nil, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("stable state: load position: %w", err)
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("stable state: decode position: %w", err)
	}
	return stored.toPosition()
}

func (s *StoreState) PutPosition(position *Position) error {
	if s == nil || s.db == nil {
		return ErrNilState
	}
	if position == nil {
		return fmt.Errorf("stable state: nil position")
	}
	stored := newStoredPosition(position)
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("stable state: encode position: %w", err)
	}
	return s.db.Put(positionKey(position.Owner), raw)
}

func newStoredPosition(position *Position) *storedPosition {
	stored := &storedPosition{Owner: position.Owner, Debt: "0"}
	if position.Debt != nil {
		stored.Debt = position.Debt.String()
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
		stored.Symbols = append(stored.Symbols, symbol)
		stored.Amounts = append(stored.Amounts, amount.String())
	}
	return stored
}

func (s *storedPosition) toPosition() (*Position, error) {
	if len(s.Symbols) != len(s.Amounts) {
		return nil, fmt.Errorf("stable state: corrupt position record")
	}
	position := NewPosition(common.BytesToAddress(s.Owner[:]))
	for i, symbol := range s.Symbols {
		amount, ok := new(big.Int).SetString(s.Amounts[i], 10)
		if !ok {
			return nil, fmt.Errorf("stable state: invalid amount %q", s.Amounts[i])
		}
		position.Collateral[symbol] = amount
	}
	debt, ok := new(big.Int).SetString(s.Debt, 10)
	if !ok {
		return nil, fmt.Errorf("stable state: invalid debt %q", s.Debt)
	}
	position.Debt = debt
	return position, nil
}
