package domain

import "time"

// BookLevel is a single price level as delivered by the venue.
type BookLevel struct {
	Price float64
	Size  float64
}

// SideBook is the top-of-book state for one outcome token.
type SideBook struct {
	BestBid      float64
	BestAsk      float64
	Usable       bool // true iff BestBid and BestAsk are both present and BestBid < BestAsk
	LastUpdateTS time.Time
}

// Mid returns the midpoint price. Callers must check Usable first.
func (b SideBook) Mid() float64 {
	return (b.BestBid + b.BestAsk) / 2
}

// BookSnapshot is the atomically-published pair of side books that
// BookState hands to readers. Both sides come from the same update
// epoch (Seq), so a reader never observes a torn pair.
type BookSnapshot struct {
	Seq uint64
	Yes SideBook
	No  SideBook
}

// Side returns the SideBook for s.
func (b BookSnapshot) Side(s Side) SideBook {
	if s == Yes {
		return b.Yes
	}
	return b.No
}
