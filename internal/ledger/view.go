package ledger

import "github.com/Klingon-tech/tokenledger/pkg/types"

// View is a write overlay over a Store for one batch. Reads fall through
// to the store; writes stay in the overlay until the caller commits
// Touched. Records handed out are copies, so discarding a View leaves the
// store unchanged.
type View struct {
	store *Store
	dirty map[types.Address]*Account
	order []types.Address
}

// NewView opens an empty overlay.
func (s *Store) NewView() *View {
	return &View{store: s, dirty: make(map[types.Address]*Account)}
}

// Get returns a copy of the account at addr.
func (v *View) Get(addr types.Address) (*Account, error) {
	if a, ok := v.dirty[addr]; ok {
		return a.Clone(), nil
	}
	return v.store.Get(addr)
}

// Has reports whether addr exists in the overlay or the store.
func (v *View) Has(addr types.Address) (bool, error) {
	if _, ok := v.dirty[addr]; ok {
		return true, nil
	}
	return v.store.Has(addr)
}

// Put stages a copy of acct.
func (v *View) Put(acct *Account) {
	if _, ok := v.dirty[acct.Address]; !ok {
		v.order = append(v.order, acct.Address)
	}
	v.dirty[acct.Address] = acct.Clone()
}

// Touched returns every staged account in first-write order.
func (v *View) Touched() []*Account {
	out := make([]*Account, 0, len(v.order))
	for _, addr := range v.order {
		out = append(out, v.dirty[addr].Clone())
	}
	return out
}
