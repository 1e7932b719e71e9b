package engine

import (
	"fmt"
	"sort"
)

// Pool is one order book venue: a bid side, an ask side, deferred on-open and
// on-close lists, and the resting list of AON orders awaiting a fill.
type Pool struct {
	id      string
	bids    *bookSide
	asks    *bookSide
	onOpen  []*Order
	onClose []*Order
	resting []*Order

	lastTrade *LastTrade
}

// LastTrade records the most recent execution on a pool.
type LastTrade struct {
	Time  float64 `json:"time"`
	Price int64   `json:"price"`
	Qty   int64   `json:"qty"`
}

// NewPool builds an empty pool with the given venue id.
func NewPool(id string) *Pool {
	return &Pool{id: id, bids: newBookSide(Bid), asks: newBookSide(Ask)}
}

// ID returns the pool's venue id.
func (p *Pool) ID() string { return p.id }

func (p *Pool) sameSide(side Side) *bookSide {
	if side == Bid {
		return p.bids
	}
	return p.asks
}

func (p *Pool) oppositeSide(side Side) *bookSide {
	if side == Bid {
		return p.asks
	}
	return p.bids
}

// cancel withdraws the order named by can.Target from the side recorded on the
// cancel order.
func (p *Pool) cancel(t float64, can *Order) takeResult {
	return p.sameSide(can.Side).cancel(t, can, p.id)
}

// take matches the incoming order against opposite-side liquidity.
func (p *Pool) take(t float64, o *Order, fee int64) takeResult {
	return p.oppositeSide(o.Side).take(t, o, p.id, fee)
}

// limit handles LIM and GFD orders. A limit whose price crosses the spread
// would execute immediately, so it is reclassified as IOC at submission; the
// unfilled remainder, if any, is dropped. Otherwise it rests passively and the
// caller acknowledges it.
func (p *Pool) limit(t float64, o *Order, fee int64) takeResult {
	opp := p.oppositeSide(o.Side)
	if best, ok := opp.bestPrice(); ok && opp.betterOrEqual(best, o.Price) {
		crossed := o.clone()
		crossed.Style = IOC
		return opp.take(t, crossed, p.id, fee)
	}
	p.sameSide(o.Side).add(o)
	return takeResult{Messages: []Message{{
		TraderID: o.TraderID, OrderID: o.ID, Event: Ack, Fee: fee,
	}}}
}

// deferOrder parks an on-open/on-close order on the pending list matching its style.
func (p *Pool) deferOrder(o *Order) {
	switch o.Style {
	case LOO, MOO:
		p.onOpen = append(p.onOpen, o)
	case LOC, MOC:
		p.onClose = append(p.onClose, o)
	default:
		panic(fmt.Sprintf("pool %s: defer of non-deferred style %s", p.id, o.Style))
	}
}

// open runs the deferred on-open orders in arrival order: LOO with limit
// semantics, MOO with market-take semantics.
func (p *Pool) open(t float64, fee int64) []takeResult {
	var results []takeResult
	for _, o := range p.onOpen {
		switch o.Style {
		case LOO:
			o.Style = Limit
			results = append(results, p.limit(t, o, fee))
		case MOO:
			o.Style = Market
			results = append(results, p.take(t, o, fee))
		default:
			panic(fmt.Sprintf("pool %s: %s order on the on-open list", p.id, o.Style))
		}
	}
	p.onOpen = nil
	return results
}

// close runs the deferred on-close orders in arrival order, then cancels any
// GFD orders still on the books: good-for-day expires at the close.
func (p *Pool) close(t float64, fee int64) []takeResult {
	var results []takeResult
	for _, o := range p.onClose {
		switch o.Style {
		case LOC:
			o.Style = Limit
			results = append(results, p.limit(t, o, fee))
		case MOC:
			o.Style = Market
			results = append(results, p.take(t, o, fee))
		default:
			panic(fmt.Sprintf("pool %s: %s order on the on-close list", p.id, o.Style))
		}
	}
	p.onClose = nil

	for _, side := range []*bookSide{p.bids, p.asks} {
		var gfd []*Order
		for _, o := range side.orders {
			if o.Style == GFD {
				gfd = append(gfd, o)
			}
		}
		// Deterministic order for the tape.
		sort.Slice(gfd, func(i, j int) bool { return gfd[i].ID < gfd[j].ID })
		for _, o := range gfd {
			can := &Order{TraderID: o.TraderID, Side: o.Side, Style: Cancel, Target: o.ID, Ref: o.Ref}
			results = append(results, side.cancel(t, can, p.id))
		}
	}
	return results
}

// rest registers an AON order awaiting a future fill opportunity.
func (p *Pool) rest(o *Order) {
	p.resting = append(p.resting, o)
}

// unrest removes an order from the resting list.
func (p *Pool) unrest(o *Order) {
	for i, r := range p.resting {
		if r == o {
			p.resting = append(p.resting[:i], p.resting[i+1:]...)
			return
		}
	}
}

// retryResting re-attempts every resting AON order after a book change. Orders
// past their expiry fail and are removed; completed fills are removed; orders
// that still cannot fill stay resting with their FAIL suppressed. Retries never
// charge a fee: the order was charged once on submission.
func (p *Pool) retryResting(t float64) []takeResult {
	var results []takeResult
	still := p.resting[:0]
	for _, o := range p.resting {
		if t >= o.Expiry {
			results = append(results, takeResult{Messages: []Message{{
				TraderID: o.TraderID, OrderID: o.ID, Event: Fail,
			}}})
			continue
		}
		res := p.take(t, o, 0)
		if terminalEvent(res.Messages, o) == Fail {
			still = append(still, o)
			continue
		}
		results = append(results, res)
	}
	p.resting = still
	return results
}

// terminalEvent finds the taker's terminal event within a matching result.
func terminalEvent(msgs []Message, o *Order) Event {
	for _, m := range msgs {
		if m.TraderID == o.TraderID && m.OrderID == o.ID {
			return m.Event
		}
	}
	panic(fmt.Sprintf("no terminal message for order %d", o.ID))
}

