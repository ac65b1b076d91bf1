package rpc

import (
	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/internal/rent"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError        = -32700
	CodeInvalidRequest    = -32600
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
	CodeInternalError     = -32603
	CodeNotFound          = -32000
	CodeBatchRejected     = -32001
	CodeInstructionFailed = -32002
	CodeFaucetUnavailable = -32003
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// ── Param types ─────────────────────────────────────────────────────────

// AddressParam is used by endpoints that take a single account address.
type AddressParam struct {
	Address string `json:"address"`
}

// HoldingParam is used by ledger_deriveHolding.
type HoldingParam struct {
	Owner      string `json:"owner"`
	TokenClass string `json:"token_class"`
}

// OwnerParam is used by ledger_getHoldings.
type OwnerParam struct {
	Owner string `json:"owner"`
}

// HoldersParam is used by index_getHolders.
type HoldersParam struct {
	TokenClass string `json:"token_class"`
	Limit      int    `json:"limit,omitempty"`
}

// SpaceParam is used by ledger_getMinimumBalance.
type SpaceParam struct {
	Space uint64 `json:"space"`
}

// AirdropParam is used by ledger_requestAirdrop.
type AirdropParam struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
}

// TxSubmitParam is used by tx_submit.
type TxSubmitParam struct {
	Batch *instruction.Batch `json:"batch"`
}

// HashParam is used by tx_getReceipt.
type HashParam struct {
	Hash string `json:"hash"`
}

// ── Result types ────────────────────────────────────────────────────────

// InfoResult is returned by ledger_getInfo.
type InfoResult struct {
	Network       string        `json:"network"`
	GenesisHash   string        `json:"genesis_hash"`
	Slot          uint64        `json:"slot"`
	TokenProgram  types.Address `json:"token_program"`
	SystemProgram types.Address `json:"system_program"`
	Rent          rent.Rent     `json:"rent"`
	FaucetMax     uint64        `json:"faucet_max"`
}

// AccountResult is returned by ledger_getAccount.
type AccountResult struct {
	Address    types.Address     `json:"address"`
	Lamports   uint64            `json:"lamports"`
	Space      uint64            `json:"space"`
	Owner      types.Address     `json:"owner"`
	Kind       string            `json:"kind"`
	TokenClass *TokenClassResult `json:"token_class,omitempty"`
	Holding    *HoldingResult    `json:"holding,omitempty"`
}

// TokenClassResult is returned by ledger_getTokenClass.
type TokenClassResult struct {
	Address   types.Address  `json:"address"`
	Authority types.Identity `json:"authority"`
	Decimals  uint8          `json:"decimals"`
	Minted    uint64         `json:"minted"`
}

// HoldingResult describes one holding.
type HoldingResult struct {
	Address    types.Address  `json:"address"`
	Owner      types.Identity `json:"owner"`
	TokenClass types.Address  `json:"token_class"`
	Balance    uint64         `json:"balance"`
}

// BalanceResult is returned by ledger_getBalance. TokenBalance is set when
// the account is a holding.
type BalanceResult struct {
	Address      types.Address `json:"address"`
	Lamports     uint64        `json:"lamports"`
	TokenBalance *uint64       `json:"token_balance,omitempty"`
}

// SupplyResult is returned by ledger_getSupply.
type SupplyResult struct {
	TokenClass types.Address `json:"token_class"`
	Decimals   uint8         `json:"decimals"`
	Minted     uint64        `json:"minted"`
	Supply     uint64        `json:"supply"`
	Holdings   int           `json:"holdings"`
}

// DeriveResult is returned by ledger_deriveHolding.
type DeriveResult struct {
	Owner      types.Identity `json:"owner"`
	TokenClass types.Address  `json:"token_class"`
	Address    types.Address  `json:"address"`
	Bump       uint8          `json:"bump"`
}

// MinimumBalanceResult is returned by ledger_getMinimumBalance.
type MinimumBalanceResult struct {
	Space    uint64 `json:"space"`
	Lamports uint64 `json:"lamports"`
}

// TxSubmitResult is returned by tx_submit and ledger_requestAirdrop.
type TxSubmitResult struct {
	Hash string `json:"hash"`
	Slot uint64 `json:"slot"`
}

// InstructionErrorData is the error data of CodeInstructionFailed.
type InstructionErrorData struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// NewAccountResult converts a ledger account for RPC responses.
func NewAccountResult(a *ledger.Account) *AccountResult {
	r := &AccountResult{
		Address:  a.Address,
		Lamports: a.Lamports,
		Space:    a.Space,
		Owner:    a.Owner,
		Kind:     a.Kind().String(),
	}
	if a.TokenClass != nil {
		r.TokenClass = newTokenClassResult(a)
	}
	if a.Holding != nil {
		r.Holding = NewHoldingResult(a)
	}
	return r
}

func newTokenClassResult(a *ledger.Account) *TokenClassResult {
	return &TokenClassResult{
		Address:   a.Address,
		Authority: a.TokenClass.Authority,
		Decimals:  a.TokenClass.Decimals,
		Minted:    a.TokenClass.Minted,
	}
}

// NewHoldingResult converts a holding account for RPC responses.
func NewHoldingResult(a *ledger.Account) *HoldingResult {
	return &HoldingResult{
		Address:    a.Address,
		Owner:      a.Holding.Owner,
		TokenClass: a.Holding.TokenClass,
		Balance:    a.Holding.Balance,
	}
}
