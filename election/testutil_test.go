package election

import (
	"github.com/scendere/scendere-node/core/types"
)

type fakeWeights map[types.Account]types.Amount

func (f fakeWeights) Weight(a types.Account) types.Amount {
	if w, ok := f[a]; ok {
		return w
	}
	return types.NewAmount(0)
}

func acct(b byte) types.Account {
	var a types.Account
	a[0] = b
	return a
}
