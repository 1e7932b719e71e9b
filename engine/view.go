package engine

import "github.com/shopspring/decimal"

// SideView is the published projection of one side of the lit book.
type SideView struct {
	Best   *int64       `json:"best"`
	Worst  int64        `json:"worst"`
	Orders int          `json:"orders"`
	Depth  []PriceLevel `json:"depth"`
}

// MarketView is the read-only snapshot published to market participants. It
// covers the lit pool only; dark depth is never published.
type MarketView struct {
	Time      float64          `json:"time"`
	Bids      SideView         `json:"bids"`
	Asks      SideView         `json:"asks"`
	LastTrade *LastTrade       `json:"lastTrade,omitempty"`
	Tape      []TapeEvent      `json:"tape"`
	Mid       *decimal.Decimal `json:"mid,omitempty"`
	Micro     *decimal.Decimal `json:"micro,omitempty"`
}

// Publish produces the anonymized snapshot of the lit book: best price and
// aggregate quantity per level per side, the last trade, a bounded tail of the
// tape, and the derived mid-price and micro-price. The micro-price weights each
// side's best price by the opposite side's best quantity; both derived prices
// are absent unless both sides are non-empty.
func (e *Exchange) Publish(t float64, tapeDepth int) *MarketView {
	view := &MarketView{
		Time: t,
		Bids: SideView{
			Worst:  e.lit.bids.worst,
			Orders: len(e.lit.bids.orders),
			Depth:  e.lit.bids.depth(),
		},
		Asks: SideView{
			Worst:  e.lit.asks.worst,
			Orders: len(e.lit.asks.orders),
			Depth:  e.lit.asks.depth(),
		},
		LastTrade: e.lit.lastTrade,
		Tape:      e.Tape(tapeDepth),
	}

	bidP, hasBid := e.lit.bids.bestPrice()
	askP, hasAsk := e.lit.asks.bestPrice()
	if hasBid {
		view.Bids.Best = &bidP
	}
	if hasAsk {
		view.Asks.Best = &askP
	}
	if hasBid && hasAsk {
		bidQ := decimal.NewFromInt(view.Bids.Depth[0].Qty)
		askQ := decimal.NewFromInt(view.Asks.Depth[0].Qty)
		bid := decimal.NewFromInt(bidP)
		ask := decimal.NewFromInt(askP)

		mid := bid.Add(ask).Div(decimal.NewFromInt(2))
		micro := bid.Mul(askQ).Add(ask.Mul(bidQ)).Div(bidQ.Add(askQ))
		view.Mid = &mid
		view.Micro = &micro
	}
	return view
}

// BestBid returns the lit book's best bid, or false when the side is empty.
func (v *MarketView) BestBid() (int64, bool) {
	if v.Bids.Best == nil {
		return 0, false
	}
	return *v.Bids.Best, true
}

// BestAsk returns the lit book's best ask, or false when the side is empty.
func (v *MarketView) BestAsk() (int64, bool) {
	if v.Asks.Best == nil {
		return 0, false
	}
	return *v.Asks.Best, true
}
