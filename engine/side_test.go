package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id int64, trader string, side Side, style Style, price, qty int64, t float64) *Order {
	return &Order{TraderID: trader, Side: side, Style: style, Price: price, Qty: qty, Time: t, ID: id}
}

// checkConservation verifies that, per price, the anonymized projection carries
// exactly the quantity present in the authoritative map.
func checkConservation(t *testing.T, s *bookSide) {
	t.Helper()
	byPrice := make(map[int64]int64)
	for _, o := range s.orders {
		byPrice[o.Price] += o.Qty
	}
	require.Len(t, s.anon, len(byPrice))
	for _, lv := range s.anon {
		assert.Equal(t, byPrice[lv.Price], lv.Qty, "price %d", lv.Price)
	}
}

func TestAddRebuildsViews(t *testing.T) {
	s := newBookSide(Bid)
	s.add(newOrder(1, "T1", Bid, Limit, 100, 10, 0))
	s.add(newOrder(2, "T2", Bid, Limit, 101, 5, 1))
	s.add(newOrder(3, "T3", Bid, Limit, 100, 2, 2))

	best, ok := s.bestPrice()
	require.True(t, ok)
	assert.Equal(t, int64(101), best)
	require.Len(t, s.anon, 2)
	assert.Equal(t, PriceLevel{Price: 101, Qty: 5}, s.anon[0])
	assert.Equal(t, PriceLevel{Price: 100, Qty: 12}, s.anon[1])
	checkConservation(t, s)
}

func TestAskSideSortsLowFirst(t *testing.T) {
	s := newBookSide(Ask)
	s.add(newOrder(1, "T1", Ask, Limit, 105, 1, 0))
	s.add(newOrder(2, "T2", Ask, Limit, 102, 1, 1))

	best, ok := s.bestPrice()
	require.True(t, ok)
	assert.Equal(t, int64(102), best)
}

func TestAddDuplicateIDHalts(t *testing.T) {
	s := newBookSide(Bid)
	s.add(newOrder(1, "T1", Bid, Limit, 100, 1, 0))
	assert.Panics(t, func() {
		s.add(newOrder(1, "T2", Bid, Limit, 99, 1, 1))
	})
}

func TestCancelRemovesAndReports(t *testing.T) {
	s := newBookSide(Bid)
	s.add(newOrder(7, "T1", Bid, Limit, 100, 4, 0))

	res := s.cancel(5, &Order{TraderID: "T1", Side: Bid, Style: Cancel, Target: 7}, "XLit")

	require.Len(t, res.Messages, 1)
	assert.Equal(t, Cancelled, res.Messages[0].Event)
	assert.Equal(t, int64(7), res.Messages[0].OrderID)
	require.Len(t, res.Events, 1)
	assert.Equal(t, TapeCancel, res.Events[0].Type)
	assert.Equal(t, int64(4), res.Events[0].Qty)
	assert.Empty(t, s.orders)
	checkConservation(t, s)
}

func TestCancelMissingIDHalts(t *testing.T) {
	s := newBookSide(Ask)
	assert.Panics(t, func() {
		s.cancel(0, &Order{TraderID: "T1", Side: Ask, Style: Cancel, Target: 99}, "XLit")
	})
}

func TestPriceTimePriority(t *testing.T) {
	s := newBookSide(Bid)
	s.add(newOrder(1, "EARLY", Bid, Limit, 100, 3, 1))
	s.add(newOrder(2, "LATE", Bid, Limit, 100, 3, 2))

	res := s.take(3, newOrder(3, "TAKER", Ask, Market, 0, 3, 3), "XLit", takerFee)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "EARLY", res.Events[0].Party1)
	_, earlyGone := s.orders[1]
	assert.False(t, earlyGone)
	_, lateLives := s.orders[2]
	assert.True(t, lateLives)
	checkConservation(t, s)
}

func TestTakeWalksMultipleLevels(t *testing.T) {
	s := newBookSide(Ask)
	s.add(newOrder(1, "M1", Ask, Limit, 100, 2, 0))
	s.add(newOrder(2, "M2", Ask, Limit, 102, 5, 1))

	res := s.take(2, newOrder(3, "T", Bid, Limit, 102, 4, 2), "XLit", takerFee)

	// Prints at each resting price: 2@100 then 2@102.
	require.Len(t, res.Events, 2)
	assert.Equal(t, int64(100), res.Events[0].Price)
	assert.Equal(t, int64(2), res.Events[0].Qty)
	assert.Equal(t, int64(102), res.Events[1].Price)
	assert.Equal(t, int64(2), res.Events[1].Qty)

	taker := lastMessageFor(res.Messages, "T", 3)
	require.NotNil(t, taker)
	assert.Equal(t, Fill, taker.Event)
	assert.Equal(t, []FillRecord{{Price: 100, Qty: 2}, {Price: 102, Qty: 2}}, taker.Fills)
	assert.Equal(t, takerFee, taker.Fee)
	checkConservation(t, s)
}

func TestMakerPartCarriesResidual(t *testing.T) {
	s := newBookSide(Ask)
	s.add(newOrder(1, "M", Ask, Limit, 100, 10, 0))

	res := s.take(1, newOrder(2, "T", Bid, Market, 0, 4, 1), "XLit", takerFee)

	maker := lastMessageFor(res.Messages, "M", 1)
	require.NotNil(t, maker)
	assert.Equal(t, Part, maker.Event)
	require.NotNil(t, maker.Residual)
	assert.Equal(t, int64(6), maker.Residual.Qty)
	assert.Equal(t, int64(6), s.orders[1].Qty)
	checkConservation(t, s)
}

func TestFOKInsufficientDepthLeavesBookUntouched(t *testing.T) {
	s := newBookSide(Ask)
	s.add(newOrder(1, "M1", Ask, Limit, 100, 3, 0))
	s.add(newOrder(2, "M2", Ask, Limit, 105, 3, 1))

	before := snapshotSide(s)
	res := s.take(2, newOrder(3, "T", Bid, FOK, 100, 5, 2), "XLit", takerFee)

	require.Len(t, res.Messages, 1)
	assert.Equal(t, Fail, res.Messages[0].Event)
	assert.Empty(t, res.Events)
	assert.Equal(t, before, snapshotSide(s))
	checkConservation(t, s)
}

func TestIOCFailsWithNoAcceptableDepth(t *testing.T) {
	s := newBookSide(Ask)
	s.add(newOrder(1, "M", Ask, Limit, 105, 3, 0))

	res := s.take(1, newOrder(2, "T", Bid, IOC, 100, 3, 1), "XLit", takerFee)

	require.Len(t, res.Messages, 1)
	assert.Equal(t, Fail, res.Messages[0].Event)
	assert.Equal(t, int64(3), s.orders[1].Qty)
}

func TestIOCStopsAtUnacceptablePrice(t *testing.T) {
	s := newBookSide(Ask)
	s.add(newOrder(1, "M1", Ask, Limit, 100, 2, 0))
	s.add(newOrder(2, "M2", Ask, Limit, 110, 2, 1))

	res := s.take(1, newOrder(3, "T", Bid, IOC, 100, 4, 2), "XLit", takerFee)

	taker := lastMessageFor(res.Messages, "T", 3)
	require.NotNil(t, taker)
	assert.Equal(t, Part, taker.Event)
	require.NotNil(t, taker.Residual)
	assert.Equal(t, int64(2), taker.Residual.Qty)
	// The 110 ask is untouched; nothing of the IOC rests anywhere.
	assert.Equal(t, int64(2), s.orders[2].Qty)
	assert.Len(t, s.orders, 1)
}

func lastMessageFor(msgs []Message, trader string, orderID int64) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].TraderID == trader && msgs[i].OrderID == orderID {
			return &msgs[i]
		}
	}
	return nil
}

type sideSnapshot struct {
	orders map[int64]Order
	anon   []PriceLevel
}

func snapshotSide(s *bookSide) sideSnapshot {
	snap := sideSnapshot{orders: make(map[int64]Order, len(s.orders))}
	for id, o := range s.orders {
		snap.orders[id] = *o
	}
	snap.anon = append(snap.anon, s.anon...)
	return snap
}
