package agents

import "marketsim/engine"

// Giveaway quotes its customer limit price unchanged, giving away any surplus.
// Useful as a baseline: its profit is pure luck of the assignment.
type Giveaway struct {
	Trader
}

// NewGiveaway builds a giveaway agent.
func NewGiveaway(id string) *Giveaway {
	return &Giveaway{Trader: newTrader(id)}
}

// GetOrder quotes the assignment at its limit price.
func (g *Giveaway) GetOrder(t, timeLeft float64, view *engine.MarketView) *engine.Order {
	a := g.claim()
	if a == nil {
		return nil
	}
	return g.quote(t, a, a.Price)
}
