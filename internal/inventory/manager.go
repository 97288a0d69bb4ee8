// Package inventory tracks authoritative position and cost state from a
// stream of authenticated fill events and derives the can-open gate the
// Coordinator uses to decide whether new exposure may be opened.
package inventory

import (
	"container/list"
	"context"
	"log/slog"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/watch"
)

// Config holds the three can_open gates. Defaults match spec.md.
type Config struct {
	MaxNetDiff       float64
	MaxPortfolioCost float64
	MaxPositionValue float64
	DedupCapacity    int
}

// DefaultConfig returns spec-defined defaults.
func DefaultConfig() Config {
	return Config{
		MaxNetDiff:       5.0,
		MaxPortfolioCost: 1.02,
		MaxPositionValue: 5.0,
		DedupCapacity:    4096,
	}
}

// dedupCache is a bounded LRU of recently-seen fill keys, grounded on the
// TTL+size eviction shape of a WS fill-listener's dedup cache; here
// eviction is by capacity only since fill keys are never revisited once
// their trade settles for good within a market's lifetime.
type dedupCache struct {
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

func newDedupCache(capacity int) *dedupCache {
	return &dedupCache{capacity: capacity, ll: list.New(), index: make(map[string]*list.Element)}
}

// remember returns true if key was already seen (and refreshes its
// recency), false if it is new (and records it).
func (d *dedupCache) remember(key string) bool {
	if el, ok := d.index[key]; ok {
		d.ll.MoveToFront(el)
		return true
	}
	el := d.ll.PushFront(key)
	d.index[key] = el
	if d.ll.Len() > d.capacity {
		oldest := d.ll.Back()
		if oldest != nil {
			d.ll.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}
	return false
}

// Manager is the runnable InventoryManager actor.
type Manager struct {
	cfg   Config
	log   *slog.Logger
	state domain.Inventory
	dedup *dedupCache
	snap  *watch.Value[domain.Inventory]

	// matched tracks outstanding MATCHED quantity per maker_order_id that
	// hasn't yet been reversed by a FAILED fill for the same order. A
	// FAILED fill can only reverse against an entry here; one map per
	// market session, reset on rotation.
	matched map[string]float64
}

// New constructs a Manager with a flat starting position.
func New(cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:     cfg,
		log:     log,
		state:   domain.DefaultInventory(),
		dedup:   newDedupCache(cfg.DedupCapacity),
		matched: make(map[string]float64),
	}
	m.snap = watch.New(m.state)
	return m
}

// Snapshot exposes the published watch.Value for readers.
func (m *Manager) Snapshot() *watch.Value[domain.Inventory] {
	return m.snap
}

// Run consumes fills until ctx is cancelled or the channel closes.
func (m *Manager) Run(ctx context.Context, fills <-chan domain.FillEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fills:
			if !ok {
				return
			}
			m.Apply(f)
		}
	}
}

// Apply processes one fill event, mutating and publishing state.
// Duplicate (trade_id, maker_order_id, status bucket) triples are no-ops
// after the first delivery; a FAILED reusing the trade_id/maker_order_id
// of its preceding MATCHED is a status transition, not a duplicate, and
// still reaches reverse.
func (m *Manager) Apply(f domain.FillEvent) {
	if m.dedup.remember(f.DedupKey()) {
		m.log.Debug("duplicate fill ignored", "key", f.DedupKey())
		return
	}

	switch f.Status {
	case domain.FillMatched:
		m.applyDelta(f.Side, f.Size, f.Price)
		m.matched[f.MakerOrderID] += f.Size
	case domain.FillConfirmed:
		// Already counted by the preceding MATCHED for the same trade;
		// counting it again would double the position.
	case domain.FillFailed:
		m.reverse(f)
	}

	m.recomputeDerived()
	m.snap.Set(m.state)

	m.log.Info("fill applied",
		"side", f.Side.String(), "size", f.Size, "price", f.Price, "status", f.Status.String(),
		"yes_qty", m.state.YesQty, "no_qty", m.state.NoQty, "net_diff", m.state.NetDiff)
}

// applyDelta adds q at price p to side s using VWAP blending.
func (m *Manager) applyDelta(s domain.Side, q, p float64) {
	switch s {
	case domain.Yes:
		m.state.YesQty, m.state.YesAvgCost = vwapAdd(m.state.YesQty, m.state.YesAvgCost, q, p)
	case domain.No:
		m.state.NoQty, m.state.NoAvgCost = vwapAdd(m.state.NoQty, m.state.NoAvgCost, q, p)
	}
}

// reverse undoes a prior MATCHED fill, keyed by maker_order_id. A FAILED
// fill with no outstanding MATCHED entry for its maker_order_id is an
// anomaly: it is logged and left unmutated rather than guessed at, even
// if the side's aggregate quantity could technically absorb it. A
// reversal that would drive the side's quantity negative is likewise
// refused without mutation, and the average cost resets to zero once a
// side empties.
func (m *Manager) reverse(f domain.FillEvent) {
	outstanding, ok := m.matched[f.MakerOrderID]
	if !ok || outstanding < f.Size {
		m.log.Warn("failed fill with no matching prior MATCHED entry, refusing",
			"maker_order_id", f.MakerOrderID, "side", f.Side.String(), "size", f.Size, "outstanding", outstanding)
		return
	}

	switch f.Side {
	case domain.Yes:
		newQty := m.state.YesQty - f.Size
		if newQty < 0 {
			m.log.Warn("failed fill would drive inventory negative, refusing", "side", "YES", "qty", m.state.YesQty, "reverse", f.Size)
			return
		}
		m.state.YesQty = newQty
		if m.state.YesQty == 0 {
			m.state.YesAvgCost = 0
		}
	case domain.No:
		newQty := m.state.NoQty - f.Size
		if newQty < 0 {
			m.log.Warn("failed fill would drive inventory negative, refusing", "side", "NO", "qty", m.state.NoQty, "reverse", f.Size)
			return
		}
		m.state.NoQty = newQty
		if m.state.NoQty == 0 {
			m.state.NoAvgCost = 0
		}
	}

	if remaining := outstanding - f.Size; remaining <= 0 {
		delete(m.matched, f.MakerOrderID)
	} else {
		m.matched[f.MakerOrderID] = remaining
	}
}

func vwapAdd(qty, avg, addQty, addPrice float64) (newQty, newAvg float64) {
	newQty = qty + addQty
	if newQty <= 0 {
		return 0, 0
	}
	newAvg = (qty*avg + addQty*addPrice) / newQty
	return newQty, newAvg
}

func (m *Manager) recomputeDerived() {
	m.state.NetDiff = m.state.YesQty - m.state.NoQty

	if m.state.YesQty > 0 && m.state.NoQty > 0 {
		m.state.PortfolioCost = m.state.YesAvgCost + m.state.NoAvgCost
	} else {
		m.state.PortfolioCost = 0
	}

	m.state.CanOpen = m.canOpen()
}

func (m *Manager) canOpen() bool {
	netOK := abs(m.state.NetDiff) < m.cfg.MaxNetDiff
	costOK := m.state.PortfolioCost < m.cfg.MaxPortfolioCost || m.state.PortfolioCost == 0
	yesVal := m.state.YesQty * m.state.YesAvgCost
	noVal := m.state.NoQty * m.state.NoAvgCost
	valueOK := yesVal < m.cfg.MaxPositionValue && noVal < m.cfg.MaxPositionValue
	return netOK && costOK && valueOK
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
