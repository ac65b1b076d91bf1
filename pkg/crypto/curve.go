package crypto

import "filippo.io/edwards25519"

// IsOnCurve reports whether b is the encoding of a point on the ed25519 curve.
// Program-derived addresses must be off-curve so no Ed25519 key can sign for them.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
