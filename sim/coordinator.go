package sim

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketsim/engine"
)

// Coordinator is the single writer owning all exchange mutable state. Agents
// submit through the ingress and kill queues; the coordinator drains them one
// order at a time, so the books need no internal locking. Notifications fan out
// through one unbounded egress queue per agent, and the latest published
// snapshot is served lock-free for on-demand reads.
type Coordinator struct {
	exch      *engine.Exchange
	log       *zap.Logger
	tapeDepth int

	ingress *Queue[*engine.Order]
	kill    *Queue[*engine.Order]
	egress  map[string]*Queue[Notification]

	refs refTracker
	view atomic.Pointer[engine.MarketView]

	trades chan engine.TapeSummary
	views  chan *engine.MarketView
}

// NewCoordinator wires a coordinator for the given exchange and agent ids.
func NewCoordinator(exch *engine.Exchange, agentIDs []string, tapeDepth int, log *zap.Logger) *Coordinator {
	egress := make(map[string]*Queue[Notification], len(agentIDs))
	for _, id := range agentIDs {
		egress[id] = NewQueue[Notification]()
	}
	c := &Coordinator{
		exch:      exch,
		log:       log,
		tapeDepth: tapeDepth,
		ingress:   NewQueue[*engine.Order](),
		kill:      NewQueue[*engine.Order](),
		egress:    egress,
		refs:      newRefTracker(),
		trades:    make(chan engine.TapeSummary, 16),
		views:     make(chan *engine.MarketView, 16),
	}
	c.view.Store(exch.Publish(0, tapeDepth))
	return c
}

// Submit enqueues a new order; it never blocks.
func (c *Coordinator) Submit(o *engine.Order) {
	c.ingress.Push(o)
}

// CancelOrder enqueues a best-effort cancellation. A cancel racing a fill may
// arrive late; the reference tracker absorbs it silently.
func (c *Coordinator) CancelOrder(o *engine.Order) {
	c.kill.Push(o)
}

// View returns the most recently published snapshot.
func (c *Coordinator) View() *engine.MarketView {
	return c.view.Load()
}

// Notifications returns the egress queue for one agent.
func (c *Coordinator) Notifications(agentID string) *Queue[Notification] {
	return c.egress[agentID]
}

// Trades exposes the stream of trade summaries for observers.
func (c *Coordinator) Trades() <-chan engine.TapeSummary {
	return c.trades
}

// Updates exposes the stream of published snapshots for observers.
func (c *Coordinator) Updates() <-chan *engine.MarketView {
	return c.views
}

// Run drains the queues until the run flag clears, observing it within one
// polling interval. Cancellations are drained ahead of new orders each pass.
func (c *Coordinator) Run(clock *Clock, running *atomic.Bool, poll time.Duration) {
	for running.Load() {
		t := clock.Now()

		for _, can := range c.kill.Drain() {
			c.process(t, can)
		}

		o, ok := c.ingress.TryPop()
		if !ok {
			time.Sleep(poll)
			continue
		}
		c.process(t, o)
	}
}

func (c *Coordinator) process(t float64, o *engine.Order) {
	if c.refs.stale(o) {
		c.log.Debug("dropping order for resolved reference",
			zap.String("trader", o.TraderID), zap.Stringer("style", o.Style))
		return
	}
	res := c.exch.ProcessOrder(t, o)
	c.refs.observe(o, res.Messages)
	c.fanOut(t, res)
}

// fanOut delivers direct messages to their owners, broadcasts the trade
// summary to everyone, and refreshes the published snapshot.
func (c *Coordinator) fanOut(t float64, res *engine.Result) {
	direct := make(map[string][]engine.Message)
	for _, m := range res.Messages {
		direct[m.TraderID] = append(direct[m.TraderID], m)
	}
	for id, q := range c.egress {
		n := Notification{Time: t, Trade: res.Summary, Msgs: direct[id]}
		if n.Trade == nil && len(n.Msgs) == 0 {
			continue
		}
		q.Push(n)
	}

	view := c.exch.Publish(t, c.tapeDepth)
	c.view.Store(view)
	select {
	case c.views <- view:
	default:
	}
	if res.Summary != nil {
		select {
		case c.trades <- *res.Summary:
		default:
		}
	}
}

// refTracker implements the idempotence requirement: a fill and an independent
// cancellation may target the same customer-order reference in the same tick,
// so terminal resolution is tracked per reference and stale or duplicate
// submissions are discarded without comment.
type refTracker struct {
	resolved map[uuid.UUID]bool
	byID     map[int64]uuid.UUID
}

func newRefTracker() refTracker {
	return refTracker{
		resolved: make(map[uuid.UUID]bool),
		byID:     make(map[int64]uuid.UUID),
	}
}

// stale reports whether the order targets an already-resolved reference.
func (r *refTracker) stale(o *engine.Order) bool {
	return o.Ref != uuid.Nil && r.resolved[o.Ref]
}

// observe records terminal outcomes from the messages produced by one order.
// An ACK registers a live order id against its reference; FILL, FAIL and CAN
// resolve the reference of whichever order the message names; a PART resolves
// only the incoming order, whose remainder the exchange has dropped.
func (r *refTracker) observe(o *engine.Order, msgs []engine.Message) {
	if o.Ref != uuid.Nil && o.ID != 0 {
		r.byID[o.ID] = o.Ref
	}
	for _, m := range msgs {
		ref, ok := r.byID[m.OrderID]
		if !ok {
			continue
		}
		switch m.Event {
		case engine.Fill, engine.Fail, engine.Cancelled:
			r.resolved[ref] = true
			delete(r.byID, m.OrderID)
		case engine.Part:
			if m.OrderID == o.ID && m.TraderID == o.TraderID {
				r.resolved[ref] = true
				delete(r.byID, m.OrderID)
			}
		}
	}
}
