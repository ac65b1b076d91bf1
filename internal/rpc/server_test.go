package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Klingon-tech/tokenledger/config"
	"github.com/Klingon-tech/tokenledger/internal/ledger"
	klog "github.com/Klingon-tech/tokenledger/internal/log"
	"github.com/Klingon-tech/tokenledger/internal/metrics"
	"github.com/Klingon-tech/tokenledger/internal/rent"
	"github.com/Klingon-tech/tokenledger/internal/runtime"
	"github.com/Klingon-tech/tokenledger/internal/storage"
	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

const testFaucetMax = 1_000_000_000

// testEnv holds all components for an RPC test.
type testEnv struct {
	server  *Server
	rt      *runtime.Runtime
	genesis *config.Genesis
	helper  *rent.Helper
	metrics *metrics.Metrics
	alice   *crypto.Ed25519Key // genesis-funded payer and class authority
	bob     *crypto.PrivateKey
	class   *crypto.Ed25519Key
	url     string
	nonce   uint64
}

func setupTestEnv(t *testing.T, rpcCfg ...config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	gen := config.TestnetGenesis()
	m := metrics.New()
	rt, err := runtime.New(ledger.NewStore(storage.NewMemory()), runtime.Config{
		Rent:      gen.Rent,
		FaucetMax: testFaucetMax,
	}, m)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	alloc, err := gen.Allocations()
	if err != nil {
		t.Fatalf("genesis allocations: %v", err)
	}
	if _, err := rt.ApplyGenesis(alloc); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	bob, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	class, err := crypto.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	srv := New("127.0.0.1:0", rt, gen, rpcCfg...)
	srv.SetMetrics(m, true)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:  srv,
		rt:      rt,
		genesis: gen,
		helper:  rent.NewHelper(gen.Rent),
		metrics: m,
		alice:   config.TestnetKey(),
		bob:     bob,
		class:   class,
		url:     fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

// batch builds and signs a batch with a fresh nonce.
func (env *testEnv) batch(t *testing.T, signers []crypto.Signer, ixs ...instruction.Instruction) *instruction.Batch {
	t.Helper()
	env.nonce++
	b := instruction.NewBatch(env.nonce, ixs...)
	for _, s := range signers {
		if err := b.Sign(s); err != nil {
			t.Fatalf("sign: %v", err)
		}
	}
	return b
}

// setupTokens creates the class and both holdings over RPC, then mints
// amount to alice.
func (env *testEnv) setupTokens(t *testing.T, amount uint64) (holdAlice, holdBob types.Address) {
	t.Helper()
	payer := env.alice.Identity()
	classAddr := env.class.Identity()

	ixs := env.helper.TokenClassSetup(payer, classAddr, 6, env.alice.Identity())
	ixA, holdAlice := env.helper.CreateHoldingAccount(payer, env.alice.Identity(), classAddr, false)
	ixB, holdBob := env.helper.CreateHoldingAccount(payer, env.bob.Identity(), classAddr, false)
	ixs = append(ixs, ixA, ixB, instruction.NewMint(classAddr, holdAlice, amount, env.alice.Identity()))

	resp := rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: env.batch(t, []crypto.Signer{env.alice, env.class}, ixs...)})
	if resp.Error != nil {
		t.Fatalf("setup submit: %v", resp.Error.Message)
	}
	return holdAlice, holdBob
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

// decodeResult re-decodes a generic result into target.
func decodeResult(t *testing.T, resp Response, target interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

func expectCode(t *testing.T, resp Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRPC_GetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var info InfoResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getInfo", nil), &info)

	if info.Network != "testnet" {
		t.Errorf("network = %q, want testnet", info.Network)
	}
	want, _ := env.genesis.Hash()
	if info.GenesisHash != want.String() {
		t.Errorf("genesis_hash = %s, want %s", info.GenesisHash, want)
	}
	if info.Slot != 1 {
		t.Errorf("slot = %d, want 1 after genesis", info.Slot)
	}
	if info.TokenProgram != derive.TokenProgramID {
		t.Errorf("token_program = %s", info.TokenProgram)
	}
	if info.Rent != rent.Default() {
		t.Errorf("rent = %+v", info.Rent)
	}
	if info.FaucetMax != testFaucetMax {
		t.Errorf("faucet_max = %d", info.FaucetMax)
	}
}

func TestRPC_GetAccount(t *testing.T) {
	env := setupTestEnv(t)

	var acct AccountResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getAccount", AddressParam{Address: env.alice.Identity().String()}), &acct)
	if acct.Lamports != 1_000_000*config.LamportsPerSOL {
		t.Errorf("lamports = %d", acct.Lamports)
	}
	if acct.Kind != "uninitialized" || acct.Owner != derive.SystemProgramID {
		t.Errorf("kind/owner = %s/%s", acct.Kind, acct.Owner)
	}

	tests := []struct {
		name string
		addr string
		code int
	}{
		{"missing", env.bob.Identity().String(), CodeNotFound},
		{"malformed", "not-an-address", CodeInvalidParams},
		{"empty", "", CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, rpcCall(t, env.url, "ledger_getAccount", AddressParam{Address: tt.addr}), tt.code)
		})
	}
}

func TestRPC_SubmitAndQuery(t *testing.T) {
	env := setupTestEnv(t)
	holdAlice, holdBob := env.setupTokens(t, 100)

	transfer := env.batch(t, []crypto.Signer{env.alice},
		instruction.NewTransfer(holdAlice, holdBob, 40, env.alice.Identity()))
	var sub TxSubmitResult
	decodeResult(t, rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: transfer}), &sub)
	if sub.Hash != transfer.Hash().String() {
		t.Errorf("hash = %s, want %s", sub.Hash, transfer.Hash())
	}
	if sub.Slot != 3 {
		t.Errorf("slot = %d, want 3", sub.Slot)
	}

	var bal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: holdBob.String()}), &bal)
	if bal.TokenBalance == nil || *bal.TokenBalance != 40 {
		t.Fatalf("bob token balance = %v, want 40", bal.TokenBalance)
	}
	if bal.Lamports != env.rt.Rent().MinimumBalance(ledger.HoldingSize) {
		t.Errorf("holding lamports = %d", bal.Lamports)
	}

	var class TokenClassResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getTokenClass", AddressParam{Address: env.class.Identity().String()}), &class)
	if class.Authority != env.alice.Identity() || class.Decimals != 6 || class.Minted != 100 {
		t.Errorf("class = %+v", class)
	}

	var supply SupplyResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getSupply", AddressParam{Address: env.class.Identity().String()}), &supply)
	if supply.Supply != 100 || supply.Minted != 100 || supply.Holdings != 2 {
		t.Errorf("supply = %+v", supply)
	}

	var holdings []HoldingResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getHoldings", OwnerParam{Owner: env.bob.Identity().String()}), &holdings)
	if len(holdings) != 1 || holdings[0].Address != holdBob || holdings[0].Balance != 40 {
		t.Errorf("holdings = %+v", holdings)
	}

	// A holding is not a token class.
	expectCode(t, rpcCall(t, env.url, "ledger_getTokenClass", AddressParam{Address: holdBob.String()}), CodeNotFound)
	expectCode(t, rpcCall(t, env.url, "ledger_getSupply", AddressParam{Address: holdBob.String()}), CodeNotFound)
}

func TestRPC_SubmitErrors(t *testing.T) {
	env := setupTestEnv(t)
	holdAlice, holdBob := env.setupTokens(t, 10)

	// Second instruction overdraws: the whole batch fails.
	b := env.batch(t, []crypto.Signer{env.alice},
		instruction.NewTransfer(holdAlice, holdBob, 5, env.alice.Identity()),
		instruction.NewTransfer(holdAlice, holdBob, 6, env.alice.Identity()))
	resp := rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: b})
	expectCode(t, resp, CodeInstructionFailed)

	var data InstructionErrorData
	raw, _ := json.Marshal(resp.Error.Data)
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if data.Index != 1 || data.Kind != "InsufficientBalance" {
		t.Errorf("error data = %+v", data)
	}

	var bal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: holdAlice.String()}), &bal)
	if *bal.TokenBalance != 10 {
		t.Errorf("balance after failed batch = %d, want 10", *bal.TokenBalance)
	}

	// Bob cannot move alice's tokens.
	b = env.batch(t, []crypto.Signer{env.bob},
		instruction.NewTransfer(holdAlice, holdBob, 1, env.alice.Identity()))
	resp = rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: b})
	expectCode(t, resp, CodeInstructionFailed)

	// Replaying an applied batch is rejected.
	b = env.batch(t, []crypto.Signer{env.alice},
		instruction.NewTransfer(holdAlice, holdBob, 1, env.alice.Identity()))
	if resp := rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: b}); resp.Error != nil {
		t.Fatalf("submit: %v", resp.Error.Message)
	}
	expectCode(t, rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: b}), CodeBatchRejected)

	// Empty and missing batches.
	expectCode(t, rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: env.batch(t, nil)}), CodeBatchRejected)
	expectCode(t, rpcCall(t, env.url, "tx_submit", map[string]string{}), CodeInvalidParams)
}

func TestRPC_Receipt(t *testing.T) {
	env := setupTestEnv(t)
	holdAlice, holdBob := env.setupTokens(t, 10)

	b := env.batch(t, []crypto.Signer{env.alice},
		instruction.NewTransfer(holdAlice, holdBob, 3, env.alice.Identity()))
	var sub TxSubmitResult
	decodeResult(t, rpcCall(t, env.url, "tx_submit", TxSubmitParam{Batch: b}), &sub)

	var rc runtime.Receipt
	decodeResult(t, rpcCall(t, env.url, "tx_getReceipt", HashParam{Hash: sub.Hash}), &rc)
	if rc.Slot != sub.Slot || rc.Hash != b.Hash() {
		t.Errorf("receipt = %+v", rc)
	}
	if len(rc.Instructions) != 1 || rc.Instructions[0] != "transfer" {
		t.Errorf("instructions = %v", rc.Instructions)
	}

	expectCode(t, rpcCall(t, env.url, "tx_getReceipt", HashParam{Hash: strings.Repeat("ab", 32)}), CodeNotFound)
	expectCode(t, rpcCall(t, env.url, "tx_getReceipt", HashParam{Hash: "xyz"}), CodeInvalidParams)
	expectCode(t, rpcCall(t, env.url, "tx_getReceipt", HashParam{}), CodeInvalidParams)
}

func TestRPC_DeriveHolding(t *testing.T) {
	env := setupTestEnv(t)
	owner := env.bob.Identity()
	class := env.class.Identity()

	var res DeriveResult
	decodeResult(t, rpcCall(t, env.url, "ledger_deriveHolding", HoldingParam{
		Owner:      owner.String(),
		TokenClass: class.String(),
	}), &res)

	want, bump := derive.DeriveWithBump(owner, class)
	if res.Address != want || res.Bump != bump {
		t.Errorf("derived %s/%d, want %s/%d", res.Address, res.Bump, want, bump)
	}
	if res.Address != derive.Derive(owner, class) {
		t.Error("deriveHolding disagrees with Derive")
	}

	expectCode(t, rpcCall(t, env.url, "ledger_deriveHolding", HoldingParam{Owner: owner.String()}), CodeInvalidParams)
}

func TestRPC_GetMinimumBalance(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		space uint64
		want  uint64
	}{
		{0, 890_880},
		{ledger.HoldingSize, 2_039_280},
		{ledger.TokenClassSize, 1_461_600},
	}
	for _, tt := range tests {
		var res MinimumBalanceResult
		decodeResult(t, rpcCall(t, env.url, "ledger_getMinimumBalance", SpaceParam{Space: tt.space}), &res)
		if res.Lamports != tt.want {
			t.Errorf("MinimumBalance(%d) = %d, want %d", tt.space, res.Lamports, tt.want)
		}
	}
}

func TestRPC_RequestAirdrop(t *testing.T) {
	env := setupTestEnv(t)
	addr := env.bob.Identity()

	var sub TxSubmitResult
	decodeResult(t, rpcCall(t, env.url, "ledger_requestAirdrop", AirdropParam{Address: addr.String(), Lamports: 5_000_000}), &sub)
	if sub.Slot != 2 {
		t.Errorf("slot = %d, want 2", sub.Slot)
	}

	var bal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getBalance", AddressParam{Address: addr.String()}), &bal)
	if bal.Lamports != 5_000_000 || bal.TokenBalance != nil {
		t.Errorf("balance = %+v", bal)
	}

	expectCode(t, rpcCall(t, env.url, "ledger_requestAirdrop", AirdropParam{Address: addr.String(), Lamports: testFaucetMax + 1}), CodeFaucetUnavailable)
	expectCode(t, rpcCall(t, env.url, "ledger_requestAirdrop", AirdropParam{Address: addr.String()}), CodeInvalidParams)
}

func TestRPC_IndexDisabled(t *testing.T) {
	env := setupTestEnv(t)

	expectCode(t, rpcCall(t, env.url, "index_getHolders", HoldersParam{TokenClass: env.class.Identity().String()}), CodeNotFound)
	expectCode(t, rpcCall(t, env.url, "index_getHoldings", OwnerParam{Owner: env.bob.Identity().String()}), CodeNotFound)
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)
	expectCode(t, rpcCall(t, env.url, "ledger_nope", nil), CodeMethodNotFound)
}

func TestRPC_MalformedRequests(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", "{not json", CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"ledger_getInfo","id":1}`, CodeInvalidRequest},
		{"oversized", `{"jsonrpc":"2.0","method":"` + strings.Repeat("a", maxBodySize) + `"}`, CodeInvalidRequest},
		{"missing params", `{"jsonrpc":"2.0","method":"ledger_getAccount","id":1}`, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.url, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			var rpcResp Response
			if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			expectCode(t, rpcResp, tt.code)
		})
	}
}

func TestRPC_GETNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	expectCode(t, rpcResp, CodeInvalidRequest)
}

func TestRPC_IPFilter(t *testing.T) {
	env := setupTestEnv(t, config.RPCConfig{AllowedIPs: []string{"10.0.0.0/8"}})

	resp, err := http.Post(env.url, "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"ledger_getInfo","id":1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	allowed := setupTestEnv(t, config.RPCConfig{AllowedIPs: []string{"127.0.0.1"}})
	if r := rpcCall(t, allowed.url, "ledger_getInfo", nil); r.Error != nil {
		t.Errorf("allowed client got error: %v", r.Error.Message)
	}
}

func TestRPC_CORS(t *testing.T) {
	env := setupTestEnv(t, config.RPCConfig{CORSOrigins: []string{"https://app.example"}})

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.example", "https://app.example"},
		{"https://evil.example", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodOptions, env.url, nil)
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("options: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("preflight status = %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: allow-origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestRPC_Metrics(t *testing.T) {
	env := setupTestEnv(t)
	rpcCall(t, env.url, "ledger_getInfo", nil)
	rpcCall(t, env.url, "ledger_bogus", nil)

	resp, err := http.Get(env.url + "metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{`method="ledger_getInfo"`, `method="unknown"`, "tokenledger_runtime_slot"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}

	env.server.SetMetrics(env.metrics, false)
	resp2, err := http.Get(env.url + "metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status with serving disabled = %d, want 404", resp2.StatusCode)
	}
}
