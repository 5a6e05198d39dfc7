package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"stablevault/native/stable"
)

const (
	codeStableInvalidParams = -32061
	codeStableRejected      = -32062
	codeStableOracle        = -32063
	codeStableBusy          = -32064
)

type depositParams struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type mintParams struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type depositAndMintParams struct {
	User          string `json:"user"`
	Asset         string `json:"asset"`
	DepositAmount string `json:"depositAmount"`
	MintAmount    string `json:"mintAmount"`
}

type redeemAndBurnParams struct {
	User         string `json:"user"`
	Asset        string `json:"asset"`
	RedeemAmount string `json:"redeemAmount"`
	BurnAmount   string `json:"burnAmount"`
}

type liquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Target      string `json:"target"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

type userParams struct {
	User string `json:"user"`
}

type balanceParams struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
}

type conversionParams struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type accountInfoResult struct {
	User          string `json:"user"`
	Debt          string `json:"debt"`
	CollateralUSD string `json:"collateralUsd"`
}

type liquidationResult struct {
	ID                string `json:"id"`
	Liquidator        string `json:"liquidator"`
	Target            string `json:"target"`
	Asset             string `json:"asset"`
	DebtCovered       string `json:"debtCovered"`
	CollateralSeized  string `json:"collateralSeized"`
	StartHealthFactor string `json:"startHealthFactor"`
	EndHealthFactor   string `json:"endHealthFactor"`
	ExecutedAt        int64  `json:"executedAt"`
}

type paramsResult struct {
	LiquidationThresholdPct uint64   `json:"liquidationThresholdPct"`
	LiquidationBonusPct     uint64   `json:"liquidationBonusPct"`
	MaxPriceAgeSeconds      uint64   `json:"maxPriceAgeSeconds"`
	Precision               string   `json:"precision"`
	MinHealthFactor         string   `json:"minHealthFactor"`
	Assets                  []string `json:"assets"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	return jsonUnmarshalStrict(req.Params[0], out)
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// writeEngineError maps engine failures onto the RPC error space.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, stable.ErrInvalidAmount), errors.Is(err, stable.ErrUnregisteredAsset):
		writeError(w, http.StatusBadRequest, id, codeStableInvalidParams, err.Error())
	case errors.Is(err, stable.ErrStalePrice), errors.Is(err, stable.ErrInvalidPrice):
		writeError(w, http.StatusConflict, id, codeStableOracle, err.Error())
	case errors.Is(err, stable.ErrReentrancy):
		writeError(w, http.StatusConflict, id, codeStableBusy, err.Error())
	case errors.Is(err, stable.ErrHealthFactorBroken),
		errors.Is(err, stable.ErrHealthFactorOk),
		errors.Is(err, stable.ErrHealthFactorNotImproved),
		errors.Is(err, stable.ErrInsufficientCollateral),
		errors.Is(err, stable.ErrBurnExceedsDebt),
		errors.Is(err, stable.ErrTransferFailed),
		errors.Is(err, stable.ErrMintFailed):
		writeError(w, http.StatusConflict, id, codeStableRejected, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error())
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	if err := s.engine.Deposit(user, params.Asset, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleMint(w http.ResponseWriter, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	if err := s.engine.Mint(user, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleRedeem(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	if err := s.engine.Redeem(user, params.Asset, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleBurn(w http.ResponseWriter, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	if err := s.engine.Burn(user, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, req *RPCRequest) {
	var params depositAndMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	depositAmount, err := parseAmount(params.DepositAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	mintAmount, err := parseAmount(params.MintAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	if err := s.engine.DepositAndMint(user, params.Asset, depositAmount, mintAmount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleRedeemAndBurn(w http.ResponseWriter, req *RPCRequest) {
	var params redeemAndBurnParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	redeemAmount, err := parseAmount(params.RedeemAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	burnAmount, err := parseAmount(params.BurnAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	if err := s.engine.RedeemAndBurn(user, params.Asset, redeemAmount, burnAmount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	liquidator, err := parseAddress(params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	target, err := parseAddress(params.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	debtToCover, err := parseAmount(params.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	receipt, err := s.engine.Liquidate(liquidator, target, params.Asset, debtToCover)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, liquidationResult{
		ID:                receipt.ID.String(),
		Liquidator:        receipt.Liquidator.Hex(),
		Target:            receipt.Target.Hex(),
		Asset:             receipt.Asset,
		DebtCovered:       receipt.DebtCovered.String(),
		CollateralSeized:  receipt.CollateralSeized.String(),
		StartHealthFactor: receipt.StartHealthFactor.String(),
		EndHealthFactor:   receipt.EndHealthFactor.String(),
		ExecutedAt:        receipt.ExecutedAt.Unix(),
	})
}

func (s *Server) handleAccountInfo(w http.ResponseWriter, req *RPCRequest) {
	var params userParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	info, err := s.engine.AccountInfo(user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, accountInfoResult{
		User:          info.Owner.Hex(),
		Debt:          info.Debt.String(),
		CollateralUSD: info.CollateralUSD.String(),
	})
}

func (s *Server) handleCollateralBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	balance, err := s.engine.CollateralBalance(user, params.Asset)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleCollateralValue(w http.ResponseWriter, req *RPCRequest) {
	var params userParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	value, err := s.engine.CollateralValue(user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"collateralUsd": value.String()})
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, req *RPCRequest) {
	var params userParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	factor, err := s.engine.HealthFactor(user)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"healthFactor": factor.String()})
}

func (s *Server) handleUsdValue(w http.ResponseWriter, req *RPCRequest) {
	var params conversionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	value, err := s.engine.UsdValue(params.Asset, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"usdValue": value.String()})
}

func (s *Server) handleAssetAmountForUsd(w http.ResponseWriter, req *RPCRequest) {
	var params conversionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStableInvalidParams, err.Error())
		return
	}
	value, err := s.engine.AssetAmountForUsd(params.Asset, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": value.String()})
}

func (s *Server) handleParams(w http.ResponseWriter, req *RPCRequest) {
	riskParams := s.engine.Params()
	writeResult(w, req.ID, paramsResult{
		LiquidationThresholdPct: riskParams.LiquidationThresholdPct,
		LiquidationBonusPct:     riskParams.LiquidationBonusPct,
		MaxPriceAgeSeconds:      uint64(riskParams.MaxPriceAge.Seconds()),
		Precision:               stable.Precision.String(),
		MinHealthFactor:         stable.MinHealthFactor.String(),
		Assets:                  s.engine.Symbols(),
	})
}
