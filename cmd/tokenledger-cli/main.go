// tokenledger-cli is a command-line client for interacting with a tokenledgerd node.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Klingon-tech/tokenledger/config"
	"github.com/Klingon-tech/tokenledger/internal/rent"
	"github.com/Klingon-tech/tokenledger/internal/rpc"
	"github.com/Klingon-tech/tokenledger/internal/rpcclient"
	"github.com/Klingon-tech/tokenledger/internal/wallet"
	"github.com/Klingon-tech/tokenledger/pkg/crypto"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

// solDecimals is the number of decimal places of the native unit.
const solDecimals = 9

// keysDir returns the key directory matching tokenledgerd's layout:
// <datadir>/<network>/keys
func keysDir(dataDir, network string) string {
	cfg := config.Default(config.NetworkType(network))
	cfg.DataDir = dataDir
	return cfg.KeysDir()
}

// cli bundles what every command needs.
type cli struct {
	client *rpcclient.Client
	ksDir  string
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := ""
	dataDir := config.DefaultDataDir()
	network := string(config.Mainnet)

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--testnet":
			network = string(config.Testnet)
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if network != string(config.Mainnet) && network != string(config.Testnet) {
		fatal("unknown network %q", network)
	}
	if rpcURL == "" {
		cfg := config.Default(config.NetworkType(network))
		rpcURL = "http://" + cfg.RPCListenAddr()
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c := &cli{
		client: rpcclient.New(rpcURL),
		ksDir:  keysDir(dataDir, network),
	}
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		c.cmdStatus()
	case "keygen":
		c.cmdKeygen(cmdArgs)
	case "keys":
		c.cmdKeys()
	case "address":
		c.cmdAddress(cmdArgs)
	case "derive":
		c.cmdDerive(cmdArgs)
	case "airdrop":
		c.cmdAirdrop(cmdArgs)
	case "create-class":
		c.cmdCreateClass(cmdArgs)
	case "create-holding":
		c.cmdCreateHolding(cmdArgs)
	case "mint":
		c.cmdMint(cmdArgs)
	case "transfer":
		c.cmdTransfer(cmdArgs)
	case "balance":
		c.cmdBalance(cmdArgs)
	case "holdings":
		c.cmdHoldings(cmdArgs)
	case "supply":
		c.cmdSupply(cmdArgs)
	case "account":
		c.cmdAccount(cmdArgs)
	case "receipt":
		c.cmdReceipt(cmdArgs)
	case "min-balance":
		c.cmdMinBalance(cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tokenledger-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: the network's local node)
  --datadir <path>    Data directory (default: ~/.tokenledger)
  --network <net>     mainnet (default) or testnet
  --testnet           Shorthand for --network=testnet

Keys:
  keygen --name <n> [--scheme schnorr|ed25519] [--mnemonic] [--recover] [--account <i>]
                                  Create (or recover) an encrypted key
  keys                            List stored keys
  address <key>                   Show a key's identity

Ledger:
  status                          Show ledger status
  account <addr|key>              Show an account
  balance <addr|key>              Show lamport and token balance
  holdings <owner>                List an owner's holdings
  supply <class>                  Show a token class's supply
  receipt <hash>                  Show a committed batch
  min-balance <space>             Existence minimum for an account size
  derive --owner <addr|key> --class <addr|key>
                                  Derive a holding address

Transactions:
  airdrop --to <addr|key> --amount <sol>
                                  Request lamports from the faucet
  create-class --payer <key> --class <key> --decimals <n> [--authority <addr|key>]
                                  Create and initialize a token class
  create-holding --payer <key> --owner <addr|key> --class <addr|key> [--idempotent]
                                  Create a holding
  mint --authority <key> --class <addr|key> --to <owner> --amount <n> [--create]
                                  Mint tokens into an owner's holding
  transfer --from <key> --class <addr|key> --to <owner> --amount <n> [--create]
                                  Transfer tokens between holdings
`)
}

// ── status ──────────────────────────────────────────────────────────────

func (c *cli) cmdStatus() {
	info, err := c.client.Info()
	if err != nil {
		fatal("ledger_getInfo: %v", err)
	}

	fmt.Printf("Network:        %s\n", info.Network)
	fmt.Printf("Genesis:        %s\n", info.GenesisHash)
	fmt.Printf("Slot:           %d\n", info.Slot)
	fmt.Printf("Token program:  %s\n", info.TokenProgram)
	fmt.Printf("System program: %s\n", info.SystemProgram)
	if info.FaucetMax > 0 {
		fmt.Printf("Faucet max:     %s SOL\n", formatAmount(info.FaucetMax, solDecimals))
	} else {
		fmt.Printf("Faucet:         disabled\n")
	}
}

// ── keys ────────────────────────────────────────────────────────────────

func (c *cli) keystore() *wallet.Keystore {
	ks, err := wallet.NewKeystore(c.ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	return ks
}

func (c *cli) cmdKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	schemeName := fs.String("scheme", "schnorr", "Signature scheme (schnorr or ed25519)")
	withMnemonic := fs.Bool("mnemonic", false, "Derive the key from a new BIP-39 mnemonic")
	recoverKey := fs.Bool("recover", false, "Derive the key from an existing mnemonic (read from stdin)")
	account := fs.Uint("account", 0, "Account index for mnemonic derivation")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: tokenledger-cli keygen --name <name> [--scheme schnorr|ed25519] [--mnemonic] [--recover]")
	}
	scheme, err := crypto.ParseScheme(*schemeName)
	if err != nil {
		fatal("%v", err)
	}

	var signer crypto.Signer
	switch {
	case *withMnemonic || *recoverKey:
		var mnemonic string
		if *recoverKey {
			phrase, err := readPassword("Enter mnemonic: ")
			if err != nil {
				fatal("read mnemonic: %v", err)
			}
			mnemonic = strings.Join(strings.Fields(string(phrase)), " ")
		} else {
			mnemonic, err = wallet.GenerateMnemonic()
			if err != nil {
				fatal("generate mnemonic: %v", err)
			}
			fmt.Println("Mnemonic (write this down!):")
			fmt.Printf("  %s\n\n", mnemonic)
		}
		seed, err := wallet.SeedFromMnemonic(mnemonic, "")
		if err != nil {
			fatal("derive seed: %v", err)
		}
		signer, err = wallet.DeriveSigner(seed, scheme, uint32(*account))
		clear(seed)
		if err != nil {
			fatal("derive key: %v", err)
		}
	case scheme == crypto.SchemeEd25519:
		signer, err = crypto.GenerateEd25519Key()
	default:
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fatal("generate key: %v", err)
	}

	password := readNewPassword()
	if err := c.keystore().Create(*name, signer, password, wallet.DefaultParams()); err != nil {
		fatal("create key: %v", err)
	}

	fmt.Printf("Key created: %s\n", *name)
	fmt.Printf("Scheme:      %s\n", signer.Scheme())
	fmt.Printf("Identity:    %s\n", signer.Identity())
}

func (c *cli) cmdKeys() {
	entries, err := c.keystore().List()
	if err != nil {
		fatal("list keys: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No keys found.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-20s %-8s %s\n", e.Name, e.Scheme, e.Identity)
	}
}

func (c *cli) cmdAddress(args []string) {
	if len(args) < 1 {
		fatal("Usage: tokenledger-cli address <key>")
	}
	id, err := c.keystore().Identity(args[0])
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(id)
}

// resolveAddress accepts an address (base58 or hex) or the name of a
// stored key.
func (c *cli) resolveAddress(flagName, s string) types.Address {
	if s == "" {
		fatal("--%s is required", flagName)
	}
	if addr, err := types.ParseAddress(s); err == nil {
		return addr
	}
	id, err := c.keystore().Identity(s)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			fatal("--%s: %q is neither an address nor a key name", flagName, s)
		}
		fatal("--%s: %v", flagName, err)
	}
	return id
}

// loadSigner prompts for the password of a stored key and decrypts it.
func (c *cli) loadSigner(flagName, name string) crypto.Signer {
	if name == "" {
		fatal("--%s is required", flagName)
	}
	password, err := readPassword(fmt.Sprintf("Password for %s: ", name))
	if err != nil {
		fatal("read password: %v", err)
	}
	signer, err := c.keystore().Load(name, password)
	clear(password)
	if err != nil {
		fatal("%v", err)
	}
	return signer
}

// ── queries ─────────────────────────────────────────────────────────────

func (c *cli) cmdAccount(args []string) {
	if len(args) < 1 {
		fatal("Usage: tokenledger-cli account <addr|key>")
	}
	acct, err := c.client.Account(c.resolveAddress("address", args[0]))
	if err != nil {
		fatal("ledger_getAccount: %v", err)
	}

	fmt.Printf("Address:  %s\n", acct.Address)
	fmt.Printf("Kind:     %s\n", acct.Kind)
	fmt.Printf("Owner:    %s\n", acct.Owner)
	fmt.Printf("Lamports: %d (%s SOL)\n", acct.Lamports, formatAmount(acct.Lamports, solDecimals))
	fmt.Printf("Space:    %d\n", acct.Space)
	if tc := acct.TokenClass; tc != nil {
		fmt.Printf("Authority: %s\n", tc.Authority)
		fmt.Printf("Decimals:  %d\n", tc.Decimals)
		fmt.Printf("Minted:    %s\n", formatAmount(tc.Minted, tc.Decimals))
	}
	if h := acct.Holding; h != nil {
		fmt.Printf("Holder:    %s\n", h.Owner)
		fmt.Printf("Class:     %s\n", h.TokenClass)
		fmt.Printf("Balance:   %d\n", h.Balance)
	}
}

func (c *cli) cmdBalance(args []string) {
	if len(args) < 1 {
		fatal("Usage: tokenledger-cli balance <addr|key>")
	}
	bal, err := c.client.Balance(c.resolveAddress("address", args[0]))
	if err != nil {
		fatal("ledger_getBalance: %v", err)
	}
	fmt.Printf("Lamports: %d (%s SOL)\n", bal.Lamports, formatAmount(bal.Lamports, solDecimals))
	if bal.TokenBalance != nil {
		fmt.Printf("Tokens:   %d\n", *bal.TokenBalance)
	}
}

func (c *cli) cmdHoldings(args []string) {
	if len(args) < 1 {
		fatal("Usage: tokenledger-cli holdings <owner>")
	}
	holdings, err := c.client.Holdings(c.resolveAddress("owner", args[0]))
	if err != nil {
		fatal("ledger_getHoldings: %v", err)
	}
	if len(holdings) == 0 {
		fmt.Println("No holdings.")
		return
	}
	for _, h := range holdings {
		fmt.Printf("%s  class=%s  balance=%d\n", h.Address, h.TokenClass, h.Balance)
	}
}

func (c *cli) cmdSupply(args []string) {
	if len(args) < 1 {
		fatal("Usage: tokenledger-cli supply <class>")
	}
	s, err := c.client.Supply(c.resolveAddress("class", args[0]))
	if err != nil {
		fatal("ledger_getSupply: %v", err)
	}
	fmt.Printf("Class:    %s\n", s.TokenClass)
	fmt.Printf("Decimals: %d\n", s.Decimals)
	fmt.Printf("Minted:   %s\n", formatAmount(s.Minted, s.Decimals))
	fmt.Printf("Supply:   %s\n", formatAmount(s.Supply, s.Decimals))
	fmt.Printf("Holdings: %d\n", s.Holdings)
}

func (c *cli) cmdReceipt(args []string) {
	if len(args) < 1 {
		fatal("Usage: tokenledger-cli receipt <hash>")
	}
	r, err := c.client.Receipt(args[0])
	if err != nil {
		fatal("tx_getReceipt: %v", err)
	}
	fmt.Printf("Hash:         %s\n", r.Hash)
	fmt.Printf("Slot:         %d\n", r.Slot)
	fmt.Printf("Instructions: %s\n", strings.Join(r.Instructions, ", "))
	fmt.Printf("Signers:      %d\n", len(r.Signers))
	for _, s := range r.Signers {
		fmt.Printf("  %s\n", s)
	}
	fmt.Printf("Accounts:     %d\n", len(r.Accounts))
	for _, a := range r.Accounts {
		fmt.Printf("  %s\n", a)
	}
}

func (c *cli) cmdMinBalance(args []string) {
	if len(args) < 1 {
		fatal("Usage: tokenledger-cli min-balance <space>")
	}
	space, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fatal("invalid space: %v", err)
	}
	lamports, err := c.client.MinimumBalance(space)
	if err != nil {
		fatal("ledger_getMinimumBalance: %v", err)
	}
	fmt.Printf("%d lamports (%s SOL)\n", lamports, formatAmount(lamports, solDecimals))
}

func (c *cli) cmdDerive(args []string) {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	owner := fs.String("owner", "", "Holding owner (address or key name)")
	class := fs.String("class", "", "Token class (address or key name)")
	fs.Parse(args)

	addr, bump := derive.DeriveWithBump(c.resolveAddress("owner", *owner), c.resolveAddress("class", *class))
	fmt.Printf("Holding: %s\n", addr)
	fmt.Printf("Bump:    %d\n", bump)
}

// ── transactions ────────────────────────────────────────────────────────

func (c *cli) cmdAirdrop(args []string) {
	fs := flag.NewFlagSet("airdrop", flag.ExitOnError)
	to := fs.String("to", "", "Recipient (address or key name)")
	amount := fs.String("amount", "1", "Amount in SOL")
	fs.Parse(args)

	lamports, err := parseAmount(*amount, solDecimals)
	if err != nil {
		fatal("invalid amount: %v", err)
	}
	res, err := c.client.Airdrop(c.resolveAddress("to", *to), lamports)
	if err != nil {
		fatal("ledger_requestAirdrop: %v", err)
	}
	fmt.Printf("Airdropped %s SOL in slot %d\n", formatAmount(lamports, solDecimals), res.Slot)
	fmt.Printf("Receipt: %s\n", res.Hash)
}

func (c *cli) cmdCreateClass(args []string) {
	fs := flag.NewFlagSet("create-class", flag.ExitOnError)
	payerName := fs.String("payer", "", "Key paying for the class account")
	className := fs.String("class", "", "Key whose identity becomes the class address")
	decimals := fs.Uint("decimals", 0, "Decimal places of the token")
	authority := fs.String("authority", "", "Mint authority (address or key name; default payer)")
	fs.Parse(args)

	if *decimals > 255 {
		fatal("--decimals must be at most 255")
	}
	payer := c.loadSigner("payer", *payerName)
	class := c.loadSigner("class", *className)
	auth := payer.Identity()
	if *authority != "" {
		auth = c.resolveAddress("authority", *authority)
	}

	info, err := c.client.Info()
	if err != nil {
		fatal("ledger_getInfo: %v", err)
	}
	ixs := rent.NewHelper(info.Rent).TokenClassSetup(payer.Identity(), class.Identity(), uint8(*decimals), auth)
	c.submit([]crypto.Signer{payer, class}, ixs...)
	fmt.Printf("Token class: %s\n", class.Identity())
}

func (c *cli) cmdCreateHolding(args []string) {
	fs := flag.NewFlagSet("create-holding", flag.ExitOnError)
	payerName := fs.String("payer", "", "Key paying for the holding")
	owner := fs.String("owner", "", "Holding owner (address or key name)")
	class := fs.String("class", "", "Token class (address or key name)")
	idempotent := fs.Bool("idempotent", false, "Succeed if the holding already exists")
	fs.Parse(args)

	ownerID := c.resolveAddress("owner", *owner)
	classAddr := c.resolveAddress("class", *class)
	payer := c.loadSigner("payer", *payerName)

	ix, holding := c.rentHelper().CreateHoldingAccount(payer.Identity(), ownerID, classAddr, *idempotent)
	c.submit([]crypto.Signer{payer}, ix)
	fmt.Printf("Holding: %s\n", holding)
}

func (c *cli) cmdMint(args []string) {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	authName := fs.String("authority", "", "Mint authority key")
	class := fs.String("class", "", "Token class (address or key name)")
	to := fs.String("to", "", "Recipient owner (address or key name)")
	amount := fs.String("amount", "", "Amount in token units")
	create := fs.Bool("create", false, "Create the recipient's holding if missing (authority pays)")
	fs.Parse(args)

	classAddr := c.resolveAddress("class", *class)
	recipient := c.resolveAddress("to", *to)
	units := c.tokenAmount(classAddr, *amount)
	auth := c.loadSigner("authority", *authName)

	dest := derive.Derive(recipient, classAddr)
	ix := instruction.NewMint(classAddr, dest, units, auth.Identity())
	if *create {
		c.submit([]crypto.Signer{auth}, withHolding(c.rentHelper(), auth.Identity(), recipient, classAddr, ix)...)
	} else {
		c.submit([]crypto.Signer{auth}, ix)
	}
	fmt.Printf("Minted %s to %s\n", *amount, dest)
}

func (c *cli) cmdTransfer(args []string) {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	fromName := fs.String("from", "", "Sending owner key")
	class := fs.String("class", "", "Token class (address or key name)")
	to := fs.String("to", "", "Recipient owner (address or key name)")
	amount := fs.String("amount", "", "Amount in token units")
	create := fs.Bool("create", false, "Create the recipient's holding if missing (sender pays)")
	fs.Parse(args)

	classAddr := c.resolveAddress("class", *class)
	recipient := c.resolveAddress("to", *to)
	units := c.tokenAmount(classAddr, *amount)
	from := c.loadSigner("from", *fromName)

	src := derive.Derive(from.Identity(), classAddr)
	dest := derive.Derive(recipient, classAddr)
	ix := instruction.NewTransfer(src, dest, units, from.Identity())
	if *create {
		c.submit([]crypto.Signer{from}, withHolding(c.rentHelper(), from.Identity(), recipient, classAddr, ix)...)
	} else {
		c.submit([]crypto.Signer{from}, ix)
	}
	fmt.Printf("Transferred %s from %s to %s\n", *amount, src, dest)
}

// rentHelper builds account-creation instructions with the node's rent
// parameters.
func (c *cli) rentHelper() *rent.Helper {
	info, err := c.client.Info()
	if err != nil {
		fatal("ledger_getInfo: %v", err)
	}
	return rent.NewHelper(info.Rent)
}

// withHolding prepends the idempotent creation of owner's holding for class,
// paid by payer, to ix.
func withHolding(h *rent.Helper, payer types.Address, owner types.Identity, class types.Address, ix instruction.Instruction) []instruction.Instruction {
	create, _ := h.CreateHoldingAccount(payer, owner, class, true)
	return []instruction.Instruction{create, ix}
}

// tokenAmount parses amount using the decimals of class.
func (c *cli) tokenAmount(class types.Address, amount string) uint64 {
	tc, err := c.client.TokenClass(class)
	if err != nil {
		fatal("ledger_getTokenClass: %v", err)
	}
	units, err := parseAmount(amount, tc.Decimals)
	if err != nil {
		fatal("invalid amount: %v", err)
	}
	if units == 0 {
		fatal("amount must be positive")
	}
	return units
}

// submit signs a batch with every signer and submits it.
func (c *cli) submit(signers []crypto.Signer, ixs ...instruction.Instruction) {
	b := instruction.NewBatch(uint64(time.Now().UnixNano()), ixs...)
	for _, s := range signers {
		if err := b.Sign(s); err != nil {
			fatal("sign batch: %v", err)
		}
	}

	res, err := c.client.Submit(b)
	if err != nil {
		var rpcErr *rpcclient.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeInstructionFailed && rpcErr.Instruction != nil {
			ix := rpcErr.Instruction
			if ix.Index < 0 || ix.Index >= len(ixs) {
				fatal("instruction %d failed: %s", ix.Index, ix.Kind)
			}
			fatal("instruction %d (%s) failed: %s", ix.Index, ixs[ix.Index].Kind(), ix.Kind)
		}
		fatal("tx_submit: %v", err)
	}
	fmt.Printf("Committed in slot %d\n", res.Slot)
	fmt.Printf("Receipt: %s\n", res.Hash)
}

// ── Password helpers ────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func readNewPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	clear(confirm)
	return password
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
