package registry

import (
	"sync"

	"github.com/coinharbor/custody/pkg/types"
)

// addressCache memoizes address → wallet lookups on the deposit hot path.
// Entries are invalidated whenever the wallet is mutated through the
// registry, so a cached wallet is at worst one write behind its row.
type addressCache struct {
	entries sync.Map // map[string]*types.Wallet
}

func (c *addressCache) get(address string) (*types.Wallet, bool) {
	v, ok := c.entries.Load(address)
	if !ok {
		return nil, false
	}
	return v.(*types.Wallet), true
}

func (c *addressCache) put(w *types.Wallet) {
	if w == nil || w.Address == "" {
		return
	}
	c.entries.Store(w.Address, w)
}

func (c *addressCache) invalidate(address string) {
	c.entries.Delete(address)
}
