// Package agents holds the trading-agent collaborators driven by the harness:
// simple execution strategies that turn customer orders into exchange quotes.
package agents

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"marketsim/engine"
)

// Assignment is one customer order handed to an agent by the upstream order
// source: the side to work, the customer's limit price, and the quantity.
type Assignment struct {
	Side  engine.Side
	Price int64
	Qty   int64
	Ref   uuid.UUID
}

// Trader carries the bookkeeping shared by every agent: the current customer
// assignment, the bank balance, and the blotter of messages received. The
// mutex guards against the order source assigning while the agent's own
// goroutine is quoting.
type Trader struct {
	id string

	mu         sync.Mutex
	assignment *Assignment
	working    bool // an order for the current assignment is live at the exchange
	balance    int64
	blotter    []engine.Message
	lastTrade  *engine.TapeSummary
}

func newTrader(id string) Trader {
	return Trader{id: id}
}

// ID returns the agent's trader id.
func (tr *Trader) ID() string { return tr.id }

// SetAssignment replaces the agent's customer order.
func (tr *Trader) SetAssignment(a Assignment) {
	tr.mu.Lock()
	tr.assignment = &a
	tr.working = false
	tr.mu.Unlock()
}

// Busy reports whether the agent is holding or working an assignment.
func (tr *Trader) Busy() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.assignment != nil
}

// Balance returns the agent's bank balance.
func (tr *Trader) Balance() int64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.balance
}

// Blotter returns the ordered messages the agent has received.
func (tr *Trader) Blotter() []engine.Message {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]engine.Message, len(tr.blotter))
	copy(out, tr.blotter)
	return out
}

// Respond records market state; the simple agents only track the last trade.
func (tr *Trader) Respond(t float64, view *engine.MarketView, lastTrade *engine.TapeSummary) {
	if lastTrade == nil {
		return
	}
	tr.mu.Lock()
	tr.lastTrade = lastTrade
	tr.mu.Unlock()
}

// Bookkeep appends the message to the blotter and settles it against the
// current assignment: executions earn the spread to the customer limit price,
// fees are debited, and terminal outcomes retire the assignment.
func (tr *Trader) Bookkeep(msg engine.Message, t float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.blotter = append(tr.blotter, msg)
	tr.balance -= msg.Fee

	if tr.assignment != nil {
		for _, fill := range msg.Fills {
			if tr.assignment.Side == engine.Bid {
				tr.balance += (tr.assignment.Price - fill.Price) * fill.Qty
			} else {
				tr.balance += (fill.Price - tr.assignment.Price) * fill.Qty
			}
		}
	}

	switch msg.Event {
	case engine.Fill, engine.Fail, engine.Cancelled:
		tr.assignment = nil
		tr.working = false
	}
}

// claim returns the current assignment and marks it working, or nil when the
// agent has nothing to quote.
func (tr *Trader) claim() *Assignment {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.assignment == nil || tr.working {
		return nil
	}
	tr.working = true
	return tr.assignment
}

// quote builds the limit order for an assignment at the chosen price.
func (tr *Trader) quote(t float64, a *Assignment, price int64) *engine.Order {
	return &engine.Order{
		TraderID: tr.id,
		Side:     a.Side,
		Style:    engine.Limit,
		Price:    price,
		Qty:      a.Qty,
		Time:     t,
		Ref:      a.Ref,
	}
}

// Assignable is an agent that accepts customer orders from a Flow.
type Assignable interface {
	ID() string
	Busy() bool
	SetAssignment(Assignment)
}

// Flow is a minimal stand-in for the schedule-driven customer-order source: on
// each tick it hands one idle agent a randomized customer order inside the
// system price bounds.
type Flow struct {
	mu     sync.Mutex
	rng    *rand.Rand
	agents []Assignable
	maxQty int64
}

// NewFlow builds a flow over the given agents.
func NewFlow(agents []Assignable, maxQty int64, seed int64) *Flow {
	if maxQty <= 0 {
		maxQty = 1
	}
	return &Flow{rng: rand.New(rand.NewSource(seed)), agents: agents, maxQty: maxQty}
}

// Tick assigns a fresh customer order to one idle agent, if any.
func (f *Flow) Tick(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := f.rng.Intn(len(f.agents))
	for i := 0; i < len(f.agents); i++ {
		agent := f.agents[(start+i)%len(f.agents)]
		if agent.Busy() {
			continue
		}
		side := engine.Bid
		if f.rng.Intn(2) == 1 {
			side = engine.Ask
		}
		span := engine.MaxPrice - engine.MinPrice
		agent.SetAssignment(Assignment{
			Side:  side,
			Price: engine.MinPrice + f.rng.Int63n(span+1),
			Qty:   1 + f.rng.Int63n(f.maxQty),
			Ref:   uuid.New(),
		})
		return
	}
}
