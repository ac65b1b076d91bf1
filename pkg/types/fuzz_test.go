package types

import "testing"

// FuzzParseAddress checks that any address that parses survives a trip
// through both of its string forms.
func FuzzParseAddress(f *testing.F) {
	f.Add("11111111111111111111111111111111")
	f.Add("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	f.Add("0000000000000000000000000000000000000000000000000000000000000000")
	f.Add("")
	f.Add("0OIl")

	f.Fuzz(func(t *testing.T, s string) {
		a, err := ParseAddress(s)
		if err != nil {
			return
		}
		b58, err := ParseAddress(a.String())
		if err != nil || b58 != a {
			t.Fatalf("base58 round trip of %q: %v", s, err)
		}
		hx, err := ParseAddress(a.Hex())
		if err != nil || hx != a {
			t.Fatalf("hex round trip of %q: %v", s, err)
		}
	})
}
