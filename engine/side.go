package engine

import (
	"fmt"
	"sort"
)

// PriceLevel is one row of the anonymized depth projection.
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// level is one internal price level: aggregate quantity plus the FIFO queue of
// resting orders at that price, oldest first.
type level struct {
	price int64
	qty   int64
	queue []*Order
}

// bookSide holds one side of one pool. The orders map is authoritative; levels
// and anon are derived views rebuilt from the map before every read.
type bookSide struct {
	side   Side
	worst  int64 // system worst-price bound for this side
	orders map[int64]*Order
	levels []level
	anon   []PriceLevel
}

func newBookSide(side Side) *bookSide {
	worst := MinPrice
	if side == Ask {
		worst = MaxPrice
	}
	return &bookSide{
		side:   side,
		worst:  worst,
		orders: make(map[int64]*Order),
	}
}

// betterOrEqual reports whether a price on this side is equal to or better than
// the reference price: higher for bids, lower for asks.
func (s *bookSide) betterOrEqual(p, ref int64) bool {
	if s.side == Bid {
		return p >= ref
	}
	return p <= ref
}

// rebuild reconstructs the derived views from the authoritative order map.
// Orders within a level are FIFO by submit time, ties broken by order id.
func (s *bookSide) rebuild() {
	byPrice := make(map[int64]*level)
	for _, o := range s.orders {
		lv := byPrice[o.Price]
		if lv == nil {
			lv = &level{price: o.Price}
			byPrice[o.Price] = lv
		}
		lv.qty += o.Qty
		lv.queue = append(lv.queue, o)
	}

	s.levels = s.levels[:0]
	for _, lv := range byPrice {
		sort.Slice(lv.queue, func(i, j int) bool {
			a, b := lv.queue[i], lv.queue[j]
			if a.Time != b.Time {
				return a.Time < b.Time
			}
			return a.ID < b.ID
		})
		s.levels = append(s.levels, *lv)
	}
	sort.Slice(s.levels, func(i, j int) bool {
		if s.side == Bid {
			return s.levels[i].price > s.levels[j].price
		}
		return s.levels[i].price < s.levels[j].price
	})

	s.anon = s.anon[:0]
	for _, lv := range s.levels {
		s.anon = append(s.anon, PriceLevel{Price: lv.price, Qty: lv.qty})
	}
}

// bestPrice returns the best non-empty level's price, or false when the side is empty.
func (s *bookSide) bestPrice() (int64, bool) {
	if len(s.levels) == 0 {
		return 0, false
	}
	return s.levels[0].price, true
}

// depth returns the anonymized (price, qty) projection, best prices first.
func (s *bookSide) depth() []PriceLevel {
	out := make([]PriceLevel, len(s.anon))
	copy(out, s.anon)
	return out
}

// add inserts an order into the authoritative map and rebuilds the views.
// Inserting a duplicate id signals an upstream invariant violation and halts.
func (s *bookSide) add(o *Order) {
	if _, ok := s.orders[o.ID]; ok {
		panic(fmt.Sprintf("book %s: add of duplicate order id %d", s.side, o.ID))
	}
	s.orders[o.ID] = o
	s.rebuild()
}

// cancel removes the order named by can.Target. Cancelling an unknown id is
// protocol misuse and halts; racing cancels must be filtered upstream.
func (s *bookSide) cancel(t float64, can *Order, poolID string) takeResult {
	o, ok := s.orders[can.Target]
	if !ok {
		panic(fmt.Sprintf("book %s: cancel of nonexistent order id %d", s.side, can.Target))
	}
	delete(s.orders, can.Target)
	s.rebuild()

	return takeResult{
		Messages: []Message{{TraderID: o.TraderID, OrderID: o.ID, Event: Cancelled}},
		Events: []TapeEvent{{
			PoolID:  poolID,
			Type:    TapeCancel,
			Time:    t,
			Qty:     o.Qty,
			Party1:  o.TraderID,
			OrderID: o.ID,
		}},
	}
}

// takeResult carries the outcome of one matching pass: messages for the traders
// involved and events for the tape.
type takeResult struct {
	Messages []Message
	Events   []TapeEvent
}

// take walks this side of the book filling the incoming opposite-side order.
//
// MKT ignores price and fills until the side is exhausted. FOK and AON require
// the cumulative acceptable-price depth to cover the full quantity up front and
// otherwise fail without touching the book. IOC requires at least one unit of
// acceptable depth and consumes greedily while the price holds. Every trade
// prints at the resting order's price. Makers receive PART/FILL messages per
// consumption; the taker receives exactly one terminal message carrying fee.
func (s *bookSide) take(t float64, incoming *Order, poolID string, fee int64) takeResult {
	var res takeResult

	if len(s.orders) == 0 {
		res.Messages = append(res.Messages, Message{
			TraderID: incoming.TraderID, OrderID: incoming.ID, Event: Fail, Fee: fee,
		})
		return res
	}

	// Cumulative quantity available at prices acceptable to this order.
	var avail int64
	for _, lv := range s.anon {
		if !s.betterOrEqual(lv.Price, incoming.Price) {
			break
		}
		avail += lv.Qty
	}

	if (incoming.Style == FOK || incoming.Style == AON) && avail < incoming.Qty {
		res.Messages = append(res.Messages, Message{
			TraderID: incoming.TraderID, OrderID: incoming.ID, Event: Fail, Fee: fee,
		})
		return res
	}
	if incoming.Style == IOC && avail < 1 {
		res.Messages = append(res.Messages, Message{
			TraderID: incoming.TraderID, OrderID: incoming.ID, Event: Fail, Fee: fee,
		})
		return res
	}

	remaining := incoming.Qty
	var fills []FillRecord

	for remaining > 0 && len(s.levels) > 0 {
		best := &s.levels[0]
		if incoming.Style != Market && !s.betterOrEqual(best.price, incoming.Price) {
			break
		}

		resting := best.queue[0]
		qty := remaining
		if resting.Qty < qty {
			qty = resting.Qty
		}
		fill := FillRecord{Price: best.price, Qty: qty}
		fills = append(fills, fill)
		remaining -= qty

		maker, taker := resting.TraderID, incoming.TraderID
		res.Events = append(res.Events, TapeEvent{
			PoolID: poolID, Type: TapeTrade, Time: t,
			Price: best.price, Qty: qty, Party1: maker, Party2: taker,
		})

		if resting.Qty > qty {
			// Resting order partially consumed: reduce in place.
			resting.Qty -= qty
			best.qty -= qty
			res.Messages = append(res.Messages, Message{
				TraderID: maker, OrderID: resting.ID, Event: Part,
				Fills: []FillRecord{fill}, Residual: resting.clone(),
			})
		} else {
			// Resting order fully consumed: remove it.
			delete(s.orders, resting.ID)
			best.queue = best.queue[1:]
			best.qty -= qty
			if len(best.queue) == 0 {
				s.levels = s.levels[1:]
			}
			res.Messages = append(res.Messages, Message{
				TraderID: maker, OrderID: resting.ID, Event: Fill,
				Fills: []FillRecord{fill},
			})
		}
	}

	switch {
	case remaining == incoming.Qty:
		// Nothing executed; MKT against exhausted depth lands here too.
		res.Messages = append(res.Messages, Message{
			TraderID: incoming.TraderID, OrderID: incoming.ID, Event: Fail, Fee: fee,
		})
	case remaining > 0:
		residual := incoming.clone()
		residual.Qty = remaining
		res.Messages = append(res.Messages, Message{
			TraderID: incoming.TraderID, OrderID: incoming.ID, Event: Part,
			Fills: fills, Residual: residual, Fee: fee,
		})
	default:
		res.Messages = append(res.Messages, Message{
			TraderID: incoming.TraderID, OrderID: incoming.ID, Event: Fill,
			Fills: fills, Fee: fee,
		})
	}

	s.rebuild()
	return res
}
