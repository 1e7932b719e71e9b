package sim

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketsim/engine"
)

// scripted submits a fixed sequence of orders, one per GetOrder call, and
// records everything it is told.
type scripted struct {
	id     string
	mu     sync.Mutex
	orders []*engine.Order
	next   int
	msgs   []engine.Message
	trades int
}

func (s *scripted) ID() string { return s.id }

func (s *scripted) GetOrder(t, timeLeft float64, view *engine.MarketView) *engine.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.orders) {
		return nil
	}
	o := s.orders[s.next]
	s.next++
	o.Time = t
	return o
}

func (s *scripted) Respond(t float64, view *engine.MarketView, lastTrade *engine.TapeSummary) {
	if lastTrade == nil {
		return
	}
	s.mu.Lock()
	s.trades++
	s.mu.Unlock()
}

func (s *scripted) Bookkeep(m engine.Message, t float64) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
}

func (s *scripted) events() []engine.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Event, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Event
	}
	return out
}

// panicky crashes on its first submission opportunity.
type panicky struct{ scripted }

func (p *panicky) GetOrder(t, timeLeft float64, view *engine.MarketView) *engine.Order {
	panic("agent bug")
}

func crossingPair() (*scripted, *scripted) {
	seller := &scripted{id: "SELL", orders: []*engine.Order{
		{TraderID: "SELL", Side: engine.Ask, Style: engine.Limit, Price: 100, Qty: 5},
	}}
	buyer := &scripted{id: "BUYY", orders: []*engine.Order{
		{TraderID: "BUYY", Side: engine.Bid, Style: engine.Limit, Price: 100, Qty: 5},
	}}
	return seller, buyer
}

func TestRunSequentialExecutesScriptedCross(t *testing.T) {
	seller, buyer := crossingPair()
	exch := engine.NewExchange("SEQ")
	sess := NewSession(Config{
		SessionID:  "SEQ",
		VirtualEnd: 600,
		Ticks:      50,
	}, exch, []Agent{seller, buyer}, zap.NewNop())

	require.NoError(t, sess.RunSequential(42))

	assert.Contains(t, seller.events(), engine.Fill)
	assert.Contains(t, buyer.events(), engine.Fill)
	assert.Positive(t, seller.trades)
	assert.Positive(t, buyer.trades)
}

func TestRunSequentialIsDeterministic(t *testing.T) {
	run := func() string {
		seller, buyer := crossingPair()
		exch := engine.NewExchange("SEQ")
		sess := NewSession(Config{SessionID: "SEQ", VirtualEnd: 600, Ticks: 50},
			exch, []Agent{seller, buyer}, zap.NewNop())
		require.NoError(t, sess.RunSequential(7))
		var sb strings.Builder
		require.NoError(t, exch.DumpTape(&sb, "SEQ", false))
		return sb.String()
	}

	first := run()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, run())
}

func TestRunSequentialNeedsTicks(t *testing.T) {
	sess := NewSession(Config{SessionID: "SEQ", VirtualEnd: 600},
		engine.NewExchange("SEQ"), nil, zap.NewNop())
	assert.Error(t, sess.RunSequential(1))
}

func TestRunConcurrentJoinsCleanlyAndTrades(t *testing.T) {
	seller, buyer := crossingPair()
	exch := engine.NewExchange("CON")
	sess := NewSession(Config{
		SessionID:  "CON",
		VirtualEnd: 600,
		WallLength: 400 * time.Millisecond,
		Poll:       2 * time.Millisecond,
	}, exch, []Agent{seller, buyer}, zap.NewNop())

	require.NoError(t, sess.RunConcurrent())

	assert.Contains(t, seller.events(), engine.Fill)
	assert.Contains(t, buyer.events(), engine.Fill)
}

func TestRunConcurrentInvalidatesCrashedSession(t *testing.T) {
	bad := &panicky{scripted{id: "BAD"}}
	sess := NewSession(Config{
		SessionID:  "CON",
		VirtualEnd: 600,
		WallLength: 50 * time.Millisecond,
		Poll:       2 * time.Millisecond,
	}, engine.NewExchange("CON"), []Agent{bad}, zap.NewNop())

	err := sess.RunConcurrent()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "results invalid")
}
