package sim

import "marketsim/engine"

// Agent is the interface a trading agent presents to the harness. GetOrder is
// the agent's sole per-tick submission opportunity; Respond notifies it of
// book/trade state; Bookkeep delivers order outcomes. Implementations are
// driven from a single goroutine each and need no internal synchronization
// beyond what their own order sources require.
type Agent interface {
	ID() string
	GetOrder(t, timeLeft float64, view *engine.MarketView) *engine.Order
	Respond(t float64, view *engine.MarketView, lastTrade *engine.TapeSummary)
	Bookkeep(msg engine.Message, t float64)
}

// Notification is one egress-queue entry: the direct messages addressed to an
// agent plus, when the processed order traded, the anonymized trade summary
// broadcast to everyone.
type Notification struct {
	Time  float64
	Trade *engine.TapeSummary
	Msgs  []engine.Message
}
