package agents

import "marketsim/engine"

// Shaver betters the best price on its own side by one tick, capped by its
// customer limit; with no book to shave it quotes from the worst-price bound.
type Shaver struct {
	Trader
}

// NewShaver builds a shaver agent.
func NewShaver(id string) *Shaver {
	return &Shaver{Trader: newTrader(id)}
}

// GetOrder improves the touch by one tick without crossing the customer limit.
func (s *Shaver) GetOrder(t, timeLeft float64, view *engine.MarketView) *engine.Order {
	a := s.claim()
	if a == nil {
		return nil
	}
	var price int64
	if a.Side == engine.Bid {
		if best, ok := view.BestBid(); ok {
			price = best + 1
			if price > a.Price {
				price = a.Price
			}
		} else {
			price = view.Bids.Worst
		}
	} else {
		if best, ok := view.BestAsk(); ok {
			price = best - 1
			if price < a.Price {
				price = a.Price
			}
		} else {
			price = view.Asks.Worst
		}
	}
	return s.quote(t, a, price)
}
