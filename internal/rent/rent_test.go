package rent

import (
	"math"
	"testing"

	"github.com/Klingon-tech/tokenledger/internal/ledger"
	"github.com/Klingon-tech/tokenledger/pkg/derive"
	"github.com/Klingon-tech/tokenledger/pkg/instruction"
	"github.com/Klingon-tech/tokenledger/pkg/types"
)

func TestMinimumBalance(t *testing.T) {
	r := Default()
	tests := []struct {
		space uint64
		want  uint64
	}{
		{0, 890_880},
		{ledger.TokenClassSize, 1_461_600},
		{ledger.HoldingSize, 2_039_280},
	}
	for _, tt := range tests {
		if got := r.MinimumBalance(tt.space); got != tt.want {
			t.Errorf("MinimumBalance(%d) = %d, want %d", tt.space, got, tt.want)
		}
	}
}

func TestMinimumBalance_Monotonic(t *testing.T) {
	r := Default()
	prev := r.MinimumBalance(0)
	for space := uint64(1); space < 512; space++ {
		cur := r.MinimumBalance(space)
		if cur <= prev {
			t.Fatalf("MinimumBalance(%d) = %d not greater than %d", space, cur, prev)
		}
		prev = cur
	}
}

func TestMinimumBalance_Overflow(t *testing.T) {
	r := Default()
	if got := r.MinimumBalance(math.MaxUint64); got != math.MaxUint64 {
		t.Errorf("MinimumBalance(max) = %d, want saturation", got)
	}
	if r.IsExempt(math.MaxUint64, math.MaxUint64) {
		t.Error("overflowing space can never be exempt")
	}

	huge := Rent{LamportsPerByteYear: math.MaxUint64, ExemptionThreshold: 2}
	if got := huge.MinimumBalance(0); got != math.MaxUint64 {
		t.Errorf("MinimumBalance with huge rate = %d, want saturation", got)
	}
}

func TestIsExempt(t *testing.T) {
	r := Default()
	need := r.MinimumBalance(ledger.HoldingSize)
	if !r.IsExempt(need, ledger.HoldingSize) {
		t.Error("exact minimum should be exempt")
	}
	if r.IsExempt(need-1, ledger.HoldingSize) {
		t.Error("one lamport short should not be exempt")
	}
}

func TestHelper_CreateTokenClassAccount(t *testing.T) {
	h := NewHelper(Default())
	payer := types.Address{0x01}
	class := types.Address{0x02}

	ix := h.CreateTokenClassAccount(payer, class)
	ca := ix.CreateAccount
	if ca == nil {
		t.Fatal("expected CreateAccount instruction")
	}
	if ca.Payer != payer || ca.Address != class {
		t.Errorf("payer/address = %s/%s", ca.Payer, ca.Address)
	}
	if ca.Space != ledger.TokenClassSize {
		t.Errorf("Space = %d, want %d", ca.Space, ledger.TokenClassSize)
	}
	if ca.Lamports != h.Rent().MinimumBalance(ledger.TokenClassSize) {
		t.Errorf("Lamports = %d, want existence minimum", ca.Lamports)
	}
	if ca.Owner != derive.TokenProgramID {
		t.Errorf("Owner = %s, want token program", ca.Owner)
	}
}

func TestHelper_CreateHoldingAccount(t *testing.T) {
	h := NewHelper(Default())
	owner := types.Identity{0x03}
	class := types.Address{0x04}

	ix, addr := h.CreateHoldingAccount(types.Address{0x01}, owner, class, true)
	if ix.Kind() != instruction.KindCreateHolding {
		t.Fatalf("Kind = %v", ix.Kind())
	}
	if !ix.CreateHolding.Idempotent {
		t.Error("idempotent flag lost")
	}
	if addr != derive.Derive(owner, class) {
		t.Error("returned address should be the derived holding")
	}
}

func TestHelper_TokenClassSetup(t *testing.T) {
	h := NewHelper(Default())
	ixs := h.TokenClassSetup(types.Address{1}, types.Address{2}, 6, types.Identity{3})
	if len(ixs) != 2 {
		t.Fatalf("len = %d, want 2", len(ixs))
	}
	if ixs[0].Kind() != instruction.KindCreateAccount || ixs[1].Kind() != instruction.KindCreateTokenClass {
		t.Errorf("kinds = %v, %v", ixs[0].Kind(), ixs[1].Kind())
	}
}
