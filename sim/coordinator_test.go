package sim

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketsim/engine"
)

func newTestCoordinator(t *testing.T, agentIDs ...string) *Coordinator {
	t.Helper()
	exch := engine.NewExchange("TEST")
	return NewCoordinator(exch, agentIDs, 10, zap.NewNop())
}

func drainTerminal(q *Queue[Notification], orderID int64) []engine.Event {
	var events []engine.Event
	for _, n := range q.Drain() {
		for _, m := range n.Msgs {
			if m.OrderID == orderID {
				events = append(events, m.Event)
			}
		}
	}
	return events
}

func TestCancelRacingFillIsDroppedSilently(t *testing.T) {
	c := newTestCoordinator(t, "M", "T")
	ref := uuid.New()

	c.process(1, &engine.Order{
		TraderID: "M", Side: engine.Bid, Style: engine.Limit, Price: 100, Qty: 1, Time: 1, Ref: ref,
	})
	c.process(2, &engine.Order{
		TraderID: "T", Side: engine.Ask, Style: engine.Limit, Price: 100, Qty: 1, Time: 2, Ref: uuid.New(),
	})

	// The cancel lost the race: the reference already resolved via FILL, so the
	// cancel is discarded instead of reaching the exchange and halting it.
	c.process(3, &engine.Order{
		TraderID: "M", Side: engine.Bid, Style: engine.Cancel, Target: 1, Ref: ref,
	})

	events := drainTerminal(c.Notifications("M"), 1)
	require.Len(t, events, 2)
	assert.Equal(t, engine.Ack, events[0])
	assert.Equal(t, engine.Fill, events[1])
}

func TestMakerPartialDoesNotResolveReference(t *testing.T) {
	c := newTestCoordinator(t, "M", "T")
	ref := uuid.New()

	c.process(1, &engine.Order{
		TraderID: "M", Side: engine.Bid, Style: engine.Limit, Price: 100, Qty: 5, Time: 1, Ref: ref,
	})
	c.process(2, &engine.Order{
		TraderID: "T", Side: engine.Ask, Style: engine.Market, Qty: 2, Time: 2, Ref: uuid.New(),
	})

	// A maker-side PART leaves the reference live: the residual still rests, so
	// a cancel for it must go through.
	can := &engine.Order{TraderID: "M", Side: engine.Bid, Style: engine.Cancel, Target: 1, Ref: ref}
	require.False(t, c.refs.stale(can))
	c.process(3, can)

	events := drainTerminal(c.Notifications("M"), 1)
	require.Len(t, events, 3)
	assert.Equal(t, engine.Cancelled, events[2])
	assert.True(t, c.refs.stale(can), "reference resolves once cancelled")
}

func TestFanOutBroadcastsTradeSummary(t *testing.T) {
	c := newTestCoordinator(t, "M", "T", "W")

	c.process(1, &engine.Order{TraderID: "M", Side: engine.Ask, Style: engine.Limit, Price: 100, Qty: 3, Time: 1})
	c.process(2, &engine.Order{TraderID: "T", Side: engine.Bid, Style: engine.Limit, Price: 100, Qty: 3, Time: 2})

	// The bystander receives the anonymized summary but no direct messages.
	notes := c.Notifications("W").Drain()
	require.Len(t, notes, 1)
	assert.Empty(t, notes[0].Msgs)
	require.NotNil(t, notes[0].Trade)
	assert.Equal(t, int64(3), notes[0].Trade.Qty)

	select {
	case trade := <-c.Trades():
		assert.Equal(t, int64(3), trade.Qty)
	default:
		t.Fatal("no trade on the observer stream")
	}

	view := c.View()
	require.NotNil(t, view.LastTrade)
	assert.Equal(t, int64(100), view.LastTrade.Price)
}
