// Package book maintains top-of-book state for both outcome tokens of a
// market from a stream of snapshot and delta events, publishing a
// consistent BookSnapshot pair to internal/watch readers.
package book

import (
	"time"

	"github.com/alejandrodnm/pmmaker/internal/domain"
)

// Update is the union of events BookState consumes from the public
// stream. Exactly one of the Snapshot/Delta fields is populated,
// selected by Kind.
type Update struct {
	Kind  UpdateKind
	Side  domain.Side
	TS    time.Time
	Bids  []domain.BookLevel // full replace for Kind == Snapshot
	Asks  []domain.BookLevel
	Level domain.BookLevel // single-level delta for Kind == Delta
	IsBid bool             // which book the delta level belongs to
}

type UpdateKind int

const (
	Snapshot UpdateKind = iota
	Delta
)

// State tracks both sides' order books and derives best bid/ask/mid.
// Not safe for concurrent use; a single goroutine owns Apply while
// publishing through Snapshot's watch.Value.
type State struct {
	bids [2]map[float64]float64 // price -> size, indexed by domain.Side
	asks [2]map[float64]float64

	last [2]domain.SideBook // last_valid_book fallback, per side
	seq  uint64
}

// NewState returns an empty book tracker.
func NewState() *State {
	return &State{
		bids: [2]map[float64]float64{{}, {}},
		asks: [2]map[float64]float64{{}, {}},
	}
}

// Apply processes one Update and returns the resulting consistent
// snapshot of both sides.
func (s *State) Apply(u Update) domain.BookSnapshot {
	switch u.Kind {
	case Snapshot:
		s.applySnapshot(u)
	case Delta:
		s.applyDelta(u)
	}
	s.seq++
	return s.buildSnapshot()
}

func (s *State) applySnapshot(u Update) {
	idx := sideIndex(u.Side)
	bids := make(map[float64]float64, len(u.Bids))
	for _, l := range u.Bids {
		if l.Size > 0 {
			bids[l.Price] = l.Size
		}
	}
	asks := make(map[float64]float64, len(u.Asks))
	for _, l := range u.Asks {
		if l.Size > 0 {
			asks[l.Price] = l.Size
		}
	}
	s.bids[idx] = bids
	s.asks[idx] = asks
	s.recompute(u.Side, u.TS)
}

func (s *State) applyDelta(u Update) {
	idx := sideIndex(u.Side)
	book := s.asks[idx]
	if u.IsBid {
		book = s.bids[idx]
	}
	if u.Level.Size <= 0 {
		delete(book, u.Level.Price)
	} else {
		book[u.Level.Price] = u.Level.Size
	}
	s.recompute(u.Side, u.TS)
}

// recompute derives best bid/ask for one side. If the resulting side
// has no usable quote, the prior last-valid values are retained and
// Usable is set false.
func (s *State) recompute(side domain.Side, ts time.Time) {
	idx := sideIndex(side)

	bestBid, hasBid := maxKey(s.bids[idx])
	bestAsk, hasAsk := minKey(s.asks[idx])

	if hasBid && hasAsk && bestBid < bestAsk {
		s.last[idx] = domain.SideBook{
			BestBid:      bestBid,
			BestAsk:      bestAsk,
			Usable:       true,
			LastUpdateTS: ts,
		}
		return
	}

	// Retain last valid quotes but mark unusable and stamp the update time
	// so staleness is still observable.
	prev := s.last[idx]
	prev.Usable = false
	prev.LastUpdateTS = ts
	s.last[idx] = prev
}

func (s *State) buildSnapshot() domain.BookSnapshot {
	return domain.BookSnapshot{
		Seq: s.seq,
		Yes: s.last[sideIndex(domain.Yes)],
		No:  s.last[sideIndex(domain.No)],
	}
}

func sideIndex(s domain.Side) int {
	if s == domain.Yes {
		return 0
	}
	return 1
}

func maxKey(m map[float64]float64) (float64, bool) {
	if len(m) == 0 {
		return 0, false
	}
	best, ok := 0.0, false
	for p, sz := range m {
		if sz <= 0 {
			continue
		}
		if !ok || p > best {
			best, ok = p, true
		}
	}
	return best, ok
}

func minKey(m map[float64]float64) (float64, bool) {
	if len(m) == 0 {
		return 0, false
	}
	best, ok := 0.0, false
	for p, sz := range m {
		if sz <= 0 {
			continue
		}
		if !ok || p < best {
			best, ok = p, true
		}
	}
	return best, ok
}
