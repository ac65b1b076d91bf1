// derive_key.go prints the scheme, public key and identity of a key file.
// The file holds either an encoded key ("schnorr:<hex>" or "ed25519:<hex seed>")
// or a bare hex secp256k1 secret.
// Usage: go run scripts/derive_key.go <keyfile>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/tokenledger/pkg/crypto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <keyfile>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	text := strings.TrimSpace(string(data))

	var key crypto.Signer
	if strings.Contains(text, ":") {
		key, err = crypto.DecodeKey(text)
	} else {
		var raw []byte
		raw, err = hex.DecodeString(text)
		if err == nil {
			key, err = crypto.PrivateKeyFromBytes(raw)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("scheme=%s\n", key.Scheme())
	fmt.Printf("pubkey=%s\n", hex.EncodeToString(key.PublicKey()))
	fmt.Printf("identity=%s\n", key.Identity())
}
