package engine

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	// blockSize is the quantity threshold at which orders route to the dark pool.
	blockSize int64 = 300
	// takerFee is the fixed per-order processing fee, charged to the submitter
	// once per accepted order regardless of outcome.
	takerFee int64 = 333
)

// traderRecord is the exchange's per-agent bookkeeping.
type traderRecord struct {
	id         string
	registered float64
	balance    int64
}

// Result is what processing one order hands back: the per-agent messages and a
// volume-weighted summary of any executions, with anonymized counterparties.
type Result struct {
	Messages []Message
	Summary  *TapeSummary
}

// Exchange owns the lit and dark pools, the append-only tape, per-agent fee and
// registration records, and the single order-submission entry point. It is not
// safe for concurrent use: exactly one goroutine must own it.
type Exchange struct {
	id      string
	lit     *Pool
	dark    *Pool
	opened  bool
	tape    []TapeEvent
	traders map[string]*traderRecord
	nextID  int64

	// Composite-order tracking. osoFollow holds each OSO second leg keyed by
	// the first leg's order id; ocoLink maps each OCO leg to its partner;
	// legByID retains submitted legs so a surviving partner can be withdrawn.
	osoFollow map[int64]*Order
	ocoLink   map[int64]int64
	legByID   map[int64]*Order
}

// NewExchange builds an exchange with a lit pool and a dark placeholder pool.
func NewExchange(id string) *Exchange {
	return &Exchange{
		id:        id,
		lit:       NewPool(id + "Lit"),
		dark:      NewPool(id + "Drk"),
		traders:   make(map[string]*traderRecord),
		osoFollow: make(map[int64]*Order),
		ocoLink:   make(map[int64]int64),
		legByID:   make(map[int64]*Order),
	}
}

// Open reports whether the market is in the Open state.
func (e *Exchange) Open() bool { return e.opened }

func (e *Exchange) register(t float64, traderID string) *traderRecord {
	rec, ok := e.traders[traderID]
	if !ok {
		rec = &traderRecord{id: traderID, registered: t}
		e.traders[traderID] = rec
	}
	return rec
}

// Balance returns the fee balance accrued for a trader, or zero if unknown.
func (e *Exchange) Balance(traderID string) int64 {
	if rec, ok := e.traders[traderID]; ok {
		return rec.balance
	}
	return 0
}

// route picks the pool by order quantity: block-sized orders go dark.
func (e *Exchange) route(o *Order) *Pool {
	if o.Qty < blockSize {
		return e.lit
	}
	return e.dark
}

func (e *Exchange) poolByID(id string) *Pool {
	switch id {
	case e.lit.id:
		return e.lit
	case e.dark.id:
		return e.dark
	default:
		panic(fmt.Sprintf("exchange %s: unknown pool id %s", e.id, id))
	}
}

func (e *Exchange) assign(o *Order) {
	e.nextID++
	o.ID = e.nextID
}

// ProcessOrder is the single ingress point. It registers first-contact agents,
// routes by quantity, assigns an order id for non-cancel styles, dispatches to
// the pool's per-style handler, fires any composite-order triggers, retries
// resting AON orders, updates the tape and fee records, and returns the
// per-agent messages together with a volume-weighted trade summary.
func (e *Exchange) ProcessOrder(t float64, o *Order) *Result {
	e.register(t, o.TraderID)
	pool := e.route(o)

	var res takeResult
	switch o.Style {
	case Cancel:
		pool = e.poolHolding(o.Target)
		if pool == nil {
			panic(fmt.Sprintf("exchange %s: cancel of nonexistent order id %d", e.id, o.Target))
		}
		res = pool.cancel(t, o)
	case OCO:
		res = e.processOCO(t, o)
	case OSO:
		res = e.processOSO(t, o)
	case Iceberg:
		res = e.processIceberg(t, o)
	default:
		res = e.dispatch(t, pool, o, takerFee)
	}

	res = e.expand(t, res)
	res = merge(res, e.expand(t, e.sweepResting(t, pool)))

	return e.settle(t, res)
}

// dispatch handles the non-composite styles against a chosen pool.
func (e *Exchange) dispatch(t float64, pool *Pool, o *Order, fee int64) takeResult {
	switch o.Style {
	case Limit, GFD:
		e.assign(o)
		return pool.limit(t, o, fee)

	case Market, IOC, FOK:
		e.assign(o)
		return pool.take(t, o, fee)

	case AON:
		e.assign(o)
		pool.rest(o)
		res := pool.take(t, o, fee)
		if terminalEvent(res.Messages, o) != Fail {
			pool.unrest(o)
			return res
		}
		if t >= o.Expiry {
			pool.unrest(o)
			return res
		}
		// Not expired: the failure is not reported, the order stays resting.
		return takeResult{Messages: []Message{{
			TraderID: o.TraderID, OrderID: o.ID, Event: Ack, Fee: fee,
		}}}

	case LOO, MOO, LOC, MOC:
		e.assign(o)
		pool.deferOrder(o)
		return takeResult{Messages: []Message{{
			TraderID: o.TraderID, OrderID: o.ID, Event: Ack, Fee: fee,
		}}}

	default:
		panic(fmt.Sprintf("exchange %s: dispatch of order style %s", e.id, o.Style))
	}
}

// submitLeg runs one composite sub-order through routing and dispatch. Legs may
// themselves be OSO orders (iceberg chains); anything else must be a basic style.
func (e *Exchange) submitLeg(t float64, leg *Order) takeResult {
	e.register(t, leg.TraderID)
	if leg.Style == OSO {
		return e.processOSO(t, leg)
	}
	res := e.dispatch(t, e.route(leg), leg, takerFee)
	e.legByID[leg.ID] = leg
	return res
}

// processOSO submits the first leg and holds the second until the first fully
// fills. A first leg that resolves any other way discards the second.
func (e *Exchange) processOSO(t float64, o *Order) takeResult {
	a, b := compositeLegs(o)
	res := e.submitLeg(t, a)
	switch terminalEvent(res.Messages, a) {
	case Fill:
		res = merge(res, e.submitLeg(t, b))
	case Ack:
		e.osoFollow[a.ID] = b
	}
	return res
}

// processOCO submits both legs and withdraws the survivor once either fills or
// is cancelled. A first leg that resolves immediately means the second is never
// submitted at all.
func (e *Exchange) processOCO(t float64, o *Order) takeResult {
	a, b := compositeLegs(o)
	res := e.submitLeg(t, a)
	if terminalEvent(res.Messages, a) != Ack {
		return res
	}
	resB := e.submitLeg(t, b)
	res = merge(res, resB)
	if terminalEvent(resB.Messages, b) != Ack {
		res = merge(res, e.withdrawLeg(t, a))
		return res
	}
	e.ocoLink[a.ID] = b.ID
	e.ocoLink[b.ID] = a.ID
	return res
}

// processIceberg expands an iceberg mechanically into a chain of nested OSOs,
// each exposing the display quantity, the deepest slice carrying the remainder,
// then submits the chain.
func (e *Exchange) processIceberg(t float64, o *Order) takeResult {
	if o.Display <= 0 || o.Display >= o.Qty {
		panic(fmt.Sprintf("exchange %s: iceberg qty=%d display=%d", e.id, o.Qty, o.Display))
	}

	slice := func(qty int64) *Order {
		s := o.clone()
		s.Style = Limit
		s.Qty = qty
		s.Display = 0
		s.Legs = nil
		s.Ref = uuid.New()
		return s
	}

	finalQty := o.Qty % o.Display
	if finalQty == 0 {
		finalQty = o.Display
	}
	chain := slice(finalQty)
	for total := finalQty; total < o.Qty; total += o.Display {
		oso := o.clone()
		oso.Style = OSO
		oso.Display = 0
		oso.Ref = uuid.New()
		oso.Legs = []*Order{slice(o.Display), chain}
		chain = oso
	}

	return e.processOSO(t, chain)
}

func compositeLegs(o *Order) (*Order, *Order) {
	if len(o.Legs) != 2 || o.Legs[0] == nil || o.Legs[1] == nil {
		panic(fmt.Sprintf("exchange: %s order %s without two legs", o.Style, o))
	}
	return o.Legs[0], o.Legs[1]
}

// withdrawLeg cancels a still-resting composite leg.
func (e *Exchange) withdrawLeg(t float64, leg *Order) takeResult {
	pool := e.poolHolding(leg.ID)
	if pool == nil {
		return takeResult{}
	}
	can := &Order{TraderID: leg.TraderID, Side: leg.Side, Style: Cancel, Target: leg.ID, Ref: leg.Ref}
	return pool.cancel(t, can)
}

// poolHolding finds the pool whose books hold the given order id, or nil.
func (e *Exchange) poolHolding(id int64) *Pool {
	for _, pool := range []*Pool{e.lit, e.dark} {
		if _, ok := pool.bids.orders[id]; ok {
			return pool
		}
		if _, ok := pool.asks.orders[id]; ok {
			return pool
		}
	}
	return nil
}

// expand fires composite-order triggers on the emitted messages, repeating
// until no trigger fires: an OSO second leg is sent on its first leg's FILL,
// and an OCO survivor is withdrawn on its partner's FILL or CAN. Maker-side
// fills count, so a resting leg consumed by a later order still triggers.
func (e *Exchange) expand(t float64, res takeResult) takeResult {
	queue := res.Messages
	for len(queue) > 0 {
		var produced takeResult
		for _, m := range queue {
			if m.Event != Fill && m.Event != Cancelled {
				continue
			}
			if follower, ok := e.osoFollow[m.OrderID]; ok {
				delete(e.osoFollow, m.OrderID)
				if m.Event == Fill {
					produced = merge(produced, e.submitLeg(t, follower))
				}
			}
			if partnerID, ok := e.ocoLink[m.OrderID]; ok {
				delete(e.ocoLink, m.OrderID)
				delete(e.ocoLink, partnerID)
				if partner, live := e.legByID[partnerID]; live {
					produced = merge(produced, e.withdrawLeg(t, partner))
				}
			}
			delete(e.legByID, m.OrderID)
		}
		res = merge(res, produced)
		queue = produced.Messages
	}
	return res
}

// sweepResting retries the pool's resting AON orders after a book change.
func (e *Exchange) sweepResting(t float64, pool *Pool) takeResult {
	var out takeResult
	for _, r := range pool.retryResting(t) {
		out = merge(out, r)
	}
	return out
}

// settle applies fees to trader balances, records tape events, and builds the
// volume-weighted summary handed back to the submitter's side of the harness.
func (e *Exchange) settle(t float64, res takeResult) *Result {
	for i := range res.Messages {
		m := &res.Messages[i]
		rec := e.register(t, m.TraderID)
		rec.balance += m.Fee
		m.BalanceDelta = m.Fee
	}
	for _, ev := range res.Events {
		e.tapeUpdate(ev)
	}
	return &Result{Messages: res.Messages, Summary: summarize(t, res.Events)}
}

// tapeUpdate appends one event to the tape and tracks the pool's last trade.
func (e *Exchange) tapeUpdate(ev TapeEvent) {
	e.tape = append(e.tape, ev)
	if ev.Type == TapeTrade {
		pool := e.poolByID(ev.PoolID)
		pool.lastTrade = &LastTrade{Time: ev.Time, Price: ev.Price, Qty: ev.Qty}
	}
}

// MktOpen processes the deferred on-open orders of both pools in arrival order,
// then transitions the market to Open.
func (e *Exchange) MktOpen(t float64) *Result {
	var res takeResult
	for _, pool := range []*Pool{e.lit, e.dark} {
		for _, r := range pool.open(t, 0) {
			res = merge(res, r)
		}
		res = merge(res, e.sweepResting(t, pool))
	}
	res = e.expand(t, res)
	e.opened = true
	return e.settle(t, res)
}

// MktClose processes the deferred on-close orders of both pools, cancels any
// remaining good-for-day orders, and transitions the market to Closed.
func (e *Exchange) MktClose(t float64) *Result {
	var res takeResult
	for _, pool := range []*Pool{e.lit, e.dark} {
		for _, r := range pool.close(t, 0) {
			res = merge(res, r)
		}
	}
	res = e.expand(t, res)
	e.opened = false
	return e.settle(t, res)
}

// Tape returns the tail of the tape, most recent last. depth <= 0 returns the
// whole tape. Entries are copies; the tape itself is never mutated.
func (e *Exchange) Tape(depth int) []TapeEvent {
	start := 0
	if depth > 0 && len(e.tape) > depth {
		start = len(e.tape) - depth
	}
	out := make([]TapeEvent, len(e.tape)-start)
	copy(out, e.tape[start:])
	return out
}

// DumpTape writes every trade on the tape as one delimited line and optionally
// truncates the tape afterwards, for session-end archiving.
func (e *Exchange) DumpTape(w io.Writer, sessionID string, wipe bool) error {
	for _, ev := range e.tape {
		if ev.Type != TapeTrade {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s, %s, %.3f, %d, %d\n",
			sessionID, ev.PoolID, ev.Time, ev.Price, ev.Qty); err != nil {
			return err
		}
	}
	if wipe {
		e.tape = nil
	}
	return nil
}

func merge(a, b takeResult) takeResult {
	a.Messages = append(a.Messages, b.Messages...)
	a.Events = append(a.Events, b.Events...)
	return a
}
