// Package rpcclient provides a JSON-RPC 2.0 client for token ledger nodes.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Klingon-tech/tokenledger/internal/rpc"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
	// Instruction is set when a batch failed inside one of its
	// instructions.
	Instruction *rpc.InstructionErrorData
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		e := &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
		if e.Code == rpc.CodeInstructionFailed && len(rpcResp.Error.Data) > 0 {
			var ix rpc.InstructionErrorData
			if json.Unmarshal(rpcResp.Error.Data, &ix) == nil {
				e.Instruction = &ix
			}
		}
		return e
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// ── Typed helpers ───────────────────────────────────────────────────────

// Info returns the node's network parameters.
func (c *Client) Info() (*rpc.InfoResult, error) {
	var r rpc.InfoResult
	if err := c.Call("ledger_getInfo", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Account fetches one account.
func (c *Client) Account(addr types.Address) (*rpc.AccountResult, error) {
	var r rpc.AccountResult
	if err := c.Call("ledger_getAccount", rpc.AddressParam{Address: addr.String()}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Balance returns the lamports and, for holdings, the token balance.
func (c *Client) Balance(addr types.Address) (*rpc.BalanceResult, error) {
	var r rpc.BalanceResult
	if err := c.Call("ledger_getBalance", rpc.AddressParam{Address: addr.String()}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// TokenClass fetches a token class.
func (c *Client) TokenClass(addr types.Address) (*rpc.TokenClassResult, error) {
	var r rpc.TokenClassResult
	if err := c.Call("ledger_getTokenClass", rpc.AddressParam{Address: addr.String()}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Supply reports minted and circulating amounts of a token class.
func (c *Client) Supply(class types.Address) (*rpc.SupplyResult, error) {
	var r rpc.SupplyResult
	if err := c.Call("ledger_getSupply", rpc.AddressParam{Address: class.String()}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Holdings lists every holding owned by owner.
func (c *Client) Holdings(owner types.Identity) ([]rpc.HoldingResult, error) {
	var r []rpc.HoldingResult
	if err := c.Call("ledger_getHoldings", rpc.OwnerParam{Owner: owner.String()}, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// MinimumBalance returns the existence minimum for space bytes.
func (c *Client) MinimumBalance(space uint64) (uint64, error) {
	var r rpc.MinimumBalanceResult
	if err := c.Call("ledger_getMinimumBalance", rpc.SpaceParam{Space: space}, &r); err != nil {
		return 0, err
	}
	return r.Lamports, nil
}

// Airdrop asks the node faucet to credit lamports to addr.
func (c *Client) Airdrop(addr types.Address, lamports uint64) (*rpc.TxSubmitResult, error) {
	var r rpc.TxSubmitResult
	if err := c.Call("ledger_requestAirdrop", rpc.AirdropParam{Address: addr.String(), Lamports: lamports}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Submit sends a signed batch.
func (c *Client) Submit(b *instruction.Batch) (*rpc.TxSubmitResult, error) {
	var r rpc.TxSubmitResult
	if err := c.Call("tx_submit", rpc.TxSubmitParam{Batch: b}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Receipt fetches the receipt of an applied batch.
func (c *Client) Receipt(hash string) (*runtime.Receipt, error) {
	var r runtime.Receipt
	if err := c.Call("tx_getReceipt", rpc.HashParam{Hash: hash}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
