package domain

import "time"

// TradeTick is one public trade print used to update order-flow imbalance.
type TradeTick struct {
	Side      Side
	TakerSide TakerSide
	Size      float64
	TS        time.Time
}

// SignedVolume returns Size with the sign convention taker-buy=+, taker-sell=-.
func (t TradeTick) SignedVolume() float64 {
	if t.TakerSide == TakerSell {
		return -t.Size
	}
	return t.Size
}

// OFISide is the sliding-window order-flow-imbalance state for one
// outcome token.
type OFISide struct {
	Score      float64
	BuyVolume  float64
	SellVolume float64
	Toxic      bool
}

// OFISnapshot bundles both sides as published by OFIEngine.
type OFISnapshot struct {
	Yes OFISide
	No  OFISide
	TS  time.Time
}

// Side returns the OFISide for s.
func (o OFISnapshot) Side(s Side) OFISide {
	if s == Yes {
		return o.Yes
	}
	return o.No
}
