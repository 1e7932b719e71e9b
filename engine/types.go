package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	// Bid indicates an order to buy.
	Bid Side = iota
	// Ask indicates an order to sell.
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "Bid"
	case Ask:
		return "Ask"
	default:
		panic(fmt.Sprintf("unknown side %d", int(s)))
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Style represents the execution semantics of an order.
type Style int

const (
	// Limit rests on the book until filled or cancelled; crossing limits execute immediately.
	Limit Style = iota
	// Market consumes opposite liquidity at any price, partial fills allowed.
	Market
	// IOC executes what it can at acceptable prices and drops the remainder.
	IOC
	// FOK fills completely at acceptable prices or fails without touching the book.
	FOK
	// AON is like FOK but rests at the exchange, retrying until filled or expired.
	AON
	// GFD is a limit order cancelled automatically at market close.
	GFD
	// LOO is a limit order deferred until market open.
	LOO
	// MOO is a market order deferred until market open.
	MOO
	// LOC is a limit order deferred until market close.
	LOC
	// MOC is a market order deferred until market close.
	MOC
	// OCO carries two sub-orders; when one fills or is cancelled the other is withdrawn.
	OCO
	// OSO carries two sub-orders; the second is submitted once the first fills.
	OSO
	// Iceberg exposes a fixed display quantity, refreshed until the total is exhausted.
	Iceberg
	// Cancel withdraws a previously accepted order by its exchange order id.
	Cancel
)

func (s Style) String() string {
	switch s {
	case Limit:
		return "LIM"
	case Market:
		return "MKT"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case AON:
		return "AON"
	case GFD:
		return "GFD"
	case LOO:
		return "LOO"
	case MOO:
		return "MOO"
	case LOC:
		return "LOC"
	case MOC:
		return "MOC"
	case OCO:
		return "OCO"
	case OSO:
		return "OSO"
	case Iceberg:
		return "ICE"
	case Cancel:
		return "CAN"
	default:
		panic(fmt.Sprintf("unknown order style %d", int(s)))
	}
}

// System price bounds: no order may be priced outside [MinPrice, MaxPrice].
const (
	MinPrice int64 = 1
	MaxPrice int64 = 1000
)

// Order is a single instruction submitted by a trading agent.
//
// Price and quantity are integer ticks/units. Time is virtual session seconds.
// ID is zero until the exchange accepts the order and assigns one.
type Order struct {
	TraderID string
	Side     Side
	Style    Style
	Price    int64
	Qty      int64
	Time     float64
	Expiry   float64 // AON expiry, virtual seconds
	ID       int64
	Ref      uuid.UUID // customer order reference, carried through fills and cancels

	Display int64    // Iceberg display quantity
	Legs    []*Order // OCO/OSO sub-orders, exactly two
	Target  int64    // Cancel: exchange order id to withdraw
}

func (o *Order) String() string {
	return fmt.Sprintf("[%s %s %s P=%d Q=%d T=%.2f OID=%d]",
		o.TraderID, o.Side, o.Style, o.Price, o.Qty, o.Time, o.ID)
}

// clone returns a shallow copy, used for residual-order reporting.
func (o *Order) clone() *Order {
	c := *o
	return &c
}

// Event classifies a message from the exchange to a trading agent.
type Event int

const (
	// Ack confirms acceptance of an order with no immediate terminal outcome.
	Ack Event = iota
	// Fill reports a complete execution.
	Fill
	// Part reports a partial execution; the message carries the residual order.
	Part
	// Fail reports that nothing executed.
	Fail
	// Cancelled confirms withdrawal of an order.
	Cancelled
)

func (e Event) String() string {
	switch e {
	case Ack:
		return "ACK"
	case Fill:
		return "FILL"
	case Part:
		return "PART"
	case Fail:
		return "FAIL"
	case Cancelled:
		return "CAN"
	default:
		panic(fmt.Sprintf("unknown event %d", int(e)))
	}
}

// FillRecord is one (price, quantity) execution within a message.
type FillRecord struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// Message is the exchange's report to a single trading agent about one of its orders.
type Message struct {
	TraderID     string
	OrderID      int64
	Event        Event
	Fills        []FillRecord
	Residual     *Order // Part only: the unfilled portion retained (or dropped) by the exchange
	Fee          int64
	BalanceDelta int64
}

func (m Message) String() string {
	return fmt.Sprintf("{%s OID=%d %s fills=%v fee=%d}", m.TraderID, m.OrderID, m.Event, m.Fills, m.Fee)
}

// TapeType classifies an entry on the exchange tape.
type TapeType int

const (
	// TapeTrade records an execution.
	TapeTrade TapeType = iota
	// TapeCancel records a withdrawal of resting liquidity.
	TapeCancel
)

func (t TapeType) String() string {
	switch t {
	case TapeTrade:
		return "Trade"
	case TapeCancel:
		return "Cancel"
	default:
		panic(fmt.Sprintf("unknown tape type %d", int(t)))
	}
}

// TapeEvent is one immutable entry on the append-only exchange tape.
type TapeEvent struct {
	PoolID  string   `json:"poolId"`
	Type    TapeType `json:"type"`
	Time    float64  `json:"time"`
	Price   int64    `json:"price,omitempty"` // Trade only
	Qty     int64    `json:"qty"`
	Party1  string   `json:"party1,omitempty"` // Trade: maker; Cancel: owner
	Party2  string   `json:"party2,omitempty"` // Trade: taker
	OrderID int64    `json:"orderId,omitempty"`
}

// TapeSummary aggregates the executions caused by one incoming order into a
// single volume-weighted record with anonymized counterparties.
type TapeSummary struct {
	Time  float64         `json:"time"`
	Price decimal.Decimal `json:"price"`
	Qty   int64           `json:"qty"`
}

// summarize folds the Trade entries of events into a TapeSummary, or nil if
// nothing traded.
func summarize(t float64, events []TapeEvent) *TapeSummary {
	var totalCost, totalQty int64
	for _, ev := range events {
		if ev.Type == TapeTrade {
			totalCost += ev.Price * ev.Qty
			totalQty += ev.Qty
		}
	}
	if totalQty == 0 {
		return nil
	}
	vwap := decimal.NewFromInt(totalCost).Div(decimal.NewFromInt(totalQty))
	return &TapeSummary{Time: t, Price: vwap, Qty: totalQty}
}
