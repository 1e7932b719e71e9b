package agents

import (
	"math/rand"

	"marketsim/engine"
)

// ZIC is the zero-intelligence-constrained agent: it quotes a uniformly random
// price between the system bound and its customer limit, never crossing the
// limit into a loss.
type ZIC struct {
	Trader
	rng *rand.Rand
}

// NewZIC builds a ZIC agent with its own deterministic random stream.
func NewZIC(id string, seed int64) *ZIC {
	return &ZIC{Trader: newTrader(id), rng: rand.New(rand.NewSource(seed))}
}

// GetOrder quotes uniformly in [MinPrice, limit] for bids and [limit, MaxPrice]
// for asks.
func (z *ZIC) GetOrder(t, timeLeft float64, view *engine.MarketView) *engine.Order {
	a := z.claim()
	if a == nil {
		return nil
	}
	var price int64
	if a.Side == engine.Bid {
		price = engine.MinPrice + z.rng.Int63n(a.Price-engine.MinPrice+1)
	} else {
		price = a.Price + z.rng.Int63n(engine.MaxPrice-a.Price+1)
	}
	return z.quote(t, a, price)
}
