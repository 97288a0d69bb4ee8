// Package ofi computes a sliding-window order-flow-imbalance toxicity
// signal per outcome token from a stream of public trade ticks.
package ofi

import (
	"container/list"
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/watch"
)

// Config controls window size and toxicity classification. Defaults
// match spec.md.
type Config struct {
	Window            time.Duration
	ToxicityThreshold float64
	Heartbeat         time.Duration
}

// DefaultConfig returns spec-defined defaults.
func DefaultConfig() Config {
	return Config{
		Window:            3000 * time.Millisecond,
		ToxicityThreshold: 50,
		Heartbeat:         200 * time.Millisecond,
	}
}

type tickEntry struct {
	ts     time.Time
	signed float64
}

// sideWindow is a per-side ring of recent signed trade volumes, evicted
// by both time and (implicitly) unbounded growth is prevented because
// eviction runs on every push and every heartbeat.
type sideWindow struct {
	ticks *list.List // of tickEntry, oldest at Front
}

func newSideWindow() *sideWindow {
	return &sideWindow{ticks: list.New()}
}

func (w *sideWindow) push(e tickEntry) {
	w.ticks.PushBack(e)
}

func (w *sideWindow) evictExpired(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	for e := w.ticks.Front(); e != nil; {
		te := e.Value.(tickEntry)
		if te.ts.Before(cutoff) {
			next := e.Next()
			w.ticks.Remove(e)
			e = next
			continue
		}
		break
	}
}

func (w *sideWindow) compute(threshold float64) domain.OFISide {
	var buy, sell float64
	for e := w.ticks.Front(); e != nil; e = e.Next() {
		te := e.Value.(tickEntry)
		if te.signed >= 0 {
			buy += te.signed
		} else {
			sell += -te.signed
		}
	}
	score := buy - sell
	return domain.OFISide{
		Score:      score,
		BuyVolume:  buy,
		SellVolume: sell,
		Toxic:      abs(score) > threshold,
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Engine is the runnable OFI actor: reads trade ticks off a channel and
// a heartbeat ticker, publishes an OFISnapshot on every recompute.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	yes   *sideWindow
	no    *sideWindow
	snap  *watch.Value[domain.OFISnapshot]
	clock func() time.Time
}

// New constructs an Engine. clock defaults to time.Now if nil, overridable
// for tests; a non-positive Heartbeat falls back to the default cadence.
func New(cfg Config, log *slog.Logger, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultConfig().Heartbeat
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:   cfg,
		log:   log,
		yes:   newSideWindow(),
		no:    newSideWindow(),
		snap:  watch.New(domain.OFISnapshot{}),
		clock: clock,
	}
}

// Snapshot exposes the published watch.Value for readers.
func (e *Engine) Snapshot() *watch.Value[domain.OFISnapshot] {
	return e.snap
}

// Run drives the actor loop until ctx is cancelled: on each trade tick or
// heartbeat, evicts stale entries, recomputes both sides, and publishes.
func (e *Engine) Run(ctx context.Context, trades <-chan domain.TradeTick) {
	ticker := time.NewTicker(e.cfg.Heartbeat)
	defer ticker.Stop()

	wasToxic := [2]bool{}

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-trades:
			if !ok {
				return
			}
			e.ingest(tick)
			e.recomputeAndPublish(&wasToxic)
		case <-ticker.C:
			e.recomputeAndPublish(&wasToxic)
		}
	}
}

func (e *Engine) ingest(t domain.TradeTick) {
	entry := tickEntry{ts: t.TS, signed: t.SignedVolume()}
	if t.Side == domain.Yes {
		e.yes.push(entry)
	} else {
		e.no.push(entry)
	}
}

func (e *Engine) recomputeAndPublish(wasToxic *[2]bool) {
	now := e.clock()
	e.yes.evictExpired(now, e.cfg.Window)
	e.no.evictExpired(now, e.cfg.Window)

	yesSide := e.yes.compute(e.cfg.ToxicityThreshold)
	noSide := e.no.compute(e.cfg.ToxicityThreshold)

	e.logTransition(domain.Yes, wasToxic[0], yesSide.Toxic, yesSide.Score)
	e.logTransition(domain.No, wasToxic[1], noSide.Toxic, noSide.Score)
	wasToxic[0], wasToxic[1] = yesSide.Toxic, noSide.Toxic

	e.snap.Set(domain.OFISnapshot{Yes: yesSide, No: noSide, TS: now})
}

func (e *Engine) logTransition(side domain.Side, was, is bool, score float64) {
	if was == is {
		return
	}
	if is {
		e.log.Warn("ofi toxicity triggered", "side", side.String(), "score", score)
	} else {
		e.log.Info("ofi toxicity cleared", "side", side.String(), "score", score)
	}
}
