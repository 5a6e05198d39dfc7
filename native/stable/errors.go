package stable

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNilState                = errors.New("stable engine: state not configured")
	ErrInvalidAmount           = errors.New("stable engine: amount must be positive")
	ErrUnregisteredAsset       = errors.New("stable engine: asset not registered")
	ErrInsufficientCollateral  = errors.New("stable engine: insufficient collateral balance")
	ErrBurnExceedsDebt         = errors.New("stable engine: burn amount exceeds outstanding debt")
	ErrTransferFailed          = errors.New("stable engine: token transfer failed")
	ErrMintFailed              = errors.New("stable engine: debt token mint failed")
	ErrHealthFactorBroken      = errors.New("stable engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("stable engine: position is healthy")
	ErrHealthFactorNotImproved = errors.New("stable engine: liquidation did not improve health factor")
	ErrStalePrice              = errors.New("stable engine: oracle price is stale")
	ErrInvalidPrice            = errors.New("stable engine: oracle price is not positive")
	ErrConfigMismatch          = errors.New("stable engine: construction configuration mismatch")
	ErrReentrancy              = errors.New("stable engine: reentrant call rejected")
)

// HealthFactorError reports a rejected transition together with the factor the
// resulting state would have had. It matches ErrHealthFactorBroken under
// errors.Is.
type HealthFactorError struct {
	Factor *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("stable engine: health factor %s below minimum", e.Factor)
}

func (e *HealthFactorError) Is(target error) bool {
	return target == ErrHealthFactorBroken
}

func brokenHealthFactor(factor *big.Int) error {
	return &HealthFactorError{Factor: new(big.Int).Set(factor)}
}
