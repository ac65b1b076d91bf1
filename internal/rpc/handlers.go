package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/tokenledger/internal/index"
	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

const (
	defaultHoldersLimit = 100
	maxHoldersLimit     = 1000
	indexQueryTimeout   = 5 * time.Second
)

// ── Ledger endpoints ────────────────────────────────────────────────────

func (s *Server) handleGetInfo(req *Request) (interface{}, *Error) {
	return &InfoResult{
		Network:       s.genesis.Network,
		GenesisHash:   s.genesisHash,
		Slot:          s.rt.Slot(),
		TokenProgram:  derive.TokenProgramID,
		SystemProgram: derive.SystemProgramID,
		Rent:          s.rt.Rent(),
		FaucetMax:     s.rt.FaucetMax(),
	}, nil
}

func (s *Server) handleGetAccount(req *Request) (interface{}, *Error) {
	acct, rpcErr := s.loadAccount(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return NewAccountResult(acct), nil
}

func (s *Server) handleGetBalance(req *Request) (interface{}, *Error) {
	acct, rpcErr := s.loadAccount(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	result := &BalanceResult{Address: acct.Address, Lamports: acct.Lamports}
	if acct.Holding != nil {
		balance := acct.Holding.Balance
		result.TokenBalance = &balance
	}
	return result, nil
}

func (s *Server) handleGetTokenClass(req *Request) (interface{}, *Error) {
	acct, rpcErr := s.loadAccount(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if acct.TokenClass == nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s is not a token class", acct.Address)}
	}
	return newTokenClassResult(acct), nil
}

func (s *Server) handleGetSupply(req *Request) (interface{}, *Error) {
	acct, rpcErr := s.loadAccount(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if acct.TokenClass == nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s is not a token class", acct.Address)}
	}

	store := s.rt.Store()
	holdings, err := store.HoldingsOf(acct.Address)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	supply, err := store.Supply(acct.Address)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &SupplyResult{
		TokenClass: acct.Address,
		Decimals:   acct.TokenClass.Decimals,
		Minted:     acct.TokenClass.Minted,
		Supply:     supply,
		Holdings:   len(holdings),
	}, nil
}

func (s *Server) handleGetHoldings(req *Request) (interface{}, *Error) {
	var params OwnerParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}

	accts, err := s.rt.Store().HoldingsByOwner(owner)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	result := make([]*HoldingResult, len(accts))
	for i, a := range accts {
		result[i] = NewHoldingResult(a)
	}
	return result, nil
}

func (s *Server) handleDeriveHolding(req *Request) (interface{}, *Error) {
	var params HoldingParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	class, rpcErr := parseAddress("token_class", params.TokenClass)
	if rpcErr != nil {
		return nil, rpcErr
	}

	addr, bump := derive.DeriveWithBump(owner, class)
	return &DeriveResult{
		Owner:      owner,
		TokenClass: class,
		Address:    addr,
		Bump:       bump,
	}, nil
}

func (s *Server) handleGetMinimumBalance(req *Request) (interface{}, *Error) {
	var params SpaceParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	return &MinimumBalanceResult{
		Space:    params.Space,
		Lamports: s.rt.Rent().MinimumBalance(params.Space),
	}, nil
}

func (s *Server) handleRequestAirdrop(req *Request) (interface{}, *Error) {
	var params AirdropParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Lamports == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "lamports must be positive"}
	}

	receipt, err := s.rt.Airdrop(addr, params.Lamports)
	if err != nil {
		if errors.Is(err, runtime.ErrFaucetDisabled) || errors.Is(err, runtime.ErrAirdropTooLarge) {
			return nil, &Error{Code: CodeFaucetUnavailable, Message: err.Error()}
		}
		return nil, &Error{Code: CodeBatchRejected, Message: err.Error()}
	}
	return &TxSubmitResult{Hash: receipt.Hash.String(), Slot: receipt.Slot}, nil
}

// ── Transaction endpoints ───────────────────────────────────────────────

func (s *Server) handleTxSubmit(req *Request) (interface{}, *Error) {
	var params TxSubmitParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Batch == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "batch is required"}
	}

	receipt, err := s.rt.Submit(params.Batch)
	if err != nil {
		return nil, submitError(err)
	}
	return &TxSubmitResult{Hash: receipt.Hash.String(), Slot: receipt.Slot}, nil
}

// submitError maps a Submit failure to a JSON-RPC error.
func submitError(err error) *Error {
	var ixErr *runtime.InstructionError
	if errors.As(err, &ixErr) {
		return &Error{
			Code:    CodeInstructionFailed,
			Message: err.Error(),
			Data: &InstructionErrorData{
				Index: ixErr.Index,
				Kind:  ixErr.Kind,
				Error: ixErr.Err.Error(),
			},
		}
	}
	switch {
	case errors.Is(err, runtime.ErrBatchKnown),
		errors.Is(err, instruction.ErrBadSignature),
		errors.Is(err, instruction.ErrNoInstructions),
		errors.Is(err, instruction.ErrTooManyInstructions),
		errors.Is(err, instruction.ErrTooManySignatures),
		errors.Is(err, instruction.ErrMalformedInstruction):
		return &Error{Code: CodeBatchRejected, Message: fmt.Sprintf("rejected: %v", err)}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

func (s *Server) handleTxGetReceipt(req *Request) (interface{}, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Hash == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "hash is required"}
	}
	hash, err := types.HexToHash(params.Hash)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid hash: must be 32-byte hex"}
	}

	receipt, err := s.rt.Receipt(hash)
	if err != nil {
		if errors.Is(err, ledger.ErrReceiptNotFound) {
			return nil, &Error{Code: CodeNotFound, Message: "receipt not found"}
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return receipt, nil
}

// ── Index endpoints ─────────────────────────────────────────────────────

func (s *Server) handleIndexGetHolders(req *Request) (interface{}, *Error) {
	if s.index == nil {
		return nil, &Error{Code: CodeNotFound, Message: "holdings index not enabled"}
	}
	var params HoldersParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	class, rpcErr := parseAddress("token_class", params.TokenClass)
	if rpcErr != nil {
		return nil, rpcErr
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultHoldersLimit
	}
	if limit > maxHoldersLimit {
		limit = maxHoldersLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), indexQueryTimeout)
	defer cancel()
	holdings, err := s.index.Holders(ctx, class, limit)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return indexHoldings(holdings), nil
}

func (s *Server) handleIndexGetHoldings(req *Request) (interface{}, *Error) {
	if s.index == nil {
		return nil, &Error{Code: CodeNotFound, Message: "holdings index not enabled"}
	}
	var params OwnerParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), indexQueryTimeout)
	defer cancel()
	holdings, err := s.index.HoldingsByOwner(ctx, owner)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return indexHoldings(holdings), nil
}

func indexHoldings(rows []*index.Holding) []*HoldingResult {
	result := make([]*HoldingResult, len(rows))
	for i, h := range rows {
		result[i] = &HoldingResult{
			Address:    h.Address,
			Owner:      h.Owner,
			TokenClass: h.TokenClass,
			Balance:    h.Balance,
		}
	}
	return result
}

// ── Helpers ─────────────────────────────────────────────────────────────

// loadAccount reads the account named by an AddressParam.
func (s *Server) loadAccount(req *Request) (*ledger.Account, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	acct, err := s.rt.Store().Get(addr)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("account %s not found", addr)}
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return acct, nil
}

func parseAddress(field, s string) (types.Address, *Error) {
	if s == "" {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: field + " is required"}
	}
	addr, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s: %v", field, err)}
	}
	return addr, nil
}
