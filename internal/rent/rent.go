// Package rent computes the existence minimum an account must hold and
// builds the funded account-creation instructions that pay it.
package rent

import (
	"errors"
	"math/bits"
)

// Defaults for Rent.
const (
	DefaultLamportsPerByteYear uint64 = 3480
	DefaultExemptionThreshold  uint64 = 2
	DefaultAccountOverhead     uint64 = 128
)

// ErrOverflow is returned when the minimum balance does not fit in a uint64.
var ErrOverflow = errors.New("minimum balance overflows uint64")

// Rent holds the existence-minimum parameters of a network.
type Rent struct {
	LamportsPerByteYear uint64 `json:"lamports_per_byte_year"`
	ExemptionThreshold  uint64 `json:"exemption_threshold"`
	AccountOverhead     uint64 `json:"account_overhead"`
}

// Default returns the standard parameters.
func Default() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		AccountOverhead:     DefaultAccountOverhead,
	}
}

// MinimumBalance returns the lamports an account of the given data size
// must hold to exist:
//
//	(space + overhead) * lamportsPerByteYear * exemptionThreshold
//
// Results that would overflow saturate at the maximum uint64.
func (r Rent) MinimumBalance(space uint64) uint64 {
	v, err := r.minimumBalance(space)
	if err != nil {
		return ^uint64(0)
	}
	return v
}

func (r Rent) minimumBalance(space uint64) (uint64, error) {
	size, carry := bits.Add64(space, r.AccountOverhead, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	hi, perByte := bits.Mul64(r.LamportsPerByteYear, r.ExemptionThreshold)
	if hi != 0 {
		return 0, ErrOverflow
	}
	hi, total := bits.Mul64(size, perByte)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return total, nil
}

// IsExempt reports whether lamports cover the minimum for space.
func (r Rent) IsExempt(lamports, space uint64) bool {
	need, err := r.minimumBalance(space)
	if err != nil {
		return false
	}
	return lamports >= need
}
