// Package coordinator implements the pure decision state machine that
// maps book, order-flow, and inventory snapshots to a set of execution
// commands. GlobalKill takes precedence over Hedge, which takes
// precedence over Balanced.
package coordinator

import (
	"log/slog"
	"math"

	"github.com/alejandrodnm/pmmaker/internal/domain"
)

// Config holds the pricing and sizing parameters. Defaults match spec.md.
type Config struct {
	PairTarget float64
	BidSize    float64
	TickSize   float64
}

// DefaultConfig returns spec-defined defaults.
func DefaultConfig() Config {
	return Config{PairTarget: 0.99, BidSize: 2.0, TickSize: 0.001}
}

// Coordinator is a pure function of its inputs; it holds no I/O and no
// goroutine of its own. A driver (see Run in runner.go) feeds it
// snapshots and forwards its output to the Executor.
type Coordinator struct {
	cfg Config
	log *slog.Logger
}

// New constructs a Coordinator.
func New(cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{cfg: cfg, log: log}
}

// State names the three mutually-exclusive decision states, evaluated
// in GlobalKill > Hedge > Balanced precedence order.
type State int

const (
	StateBalanced State = iota
	StateHedge
	StateGlobalKill
)

func (s State) String() string {
	switch s {
	case StateGlobalKill:
		return "global_kill"
	case StateHedge:
		return "hedge"
	default:
		return "balanced"
	}
}

// Inputs bundles the snapshot triple the Coordinator reads on each tick.
type Inputs struct {
	Book domain.BookSnapshot
	OFI  domain.OFISnapshot
	Inv  domain.Inventory
}

// EvalState derives the current state from OFI and inventory. It never
// consults the book: state selection is orthogonal to pricing.
func EvalState(in Inputs) State {
	if in.OFI.Yes.Toxic || in.OFI.No.Toxic {
		return StateGlobalKill
	}
	if netUnit(in.Inv.NetDiff) != 0 {
		return StateHedge
	}
	return StateBalanced
}

// netUnit treats a fractional residue near zero as flat; a net diff
// below one full unit of size is not worth hedging.
func netUnit(netDiff float64) int {
	if netDiff >= 1 {
		return 1
	}
	if netDiff <= -1 {
		return -1
	}
	return 0
}

// Tick evaluates one decision cycle and returns the commands to send to
// the Executor. It keeps no state between calls; edge-triggered logging
// of state transitions is done by Runner.
func (c *Coordinator) Tick(in Inputs) []domain.ExecutionCmd {
	state := EvalState(in)

	switch state {
	case StateGlobalKill:
		return c.globalKill()
	case StateHedge:
		return c.hedge(in)
	default:
		return c.balanced(in)
	}
}

func (c *Coordinator) globalKill() []domain.ExecutionCmd {
	return []domain.ExecutionCmd{
		domain.CancelSide(domain.Yes, domain.CancelToxicFlow),
		domain.CancelSide(domain.No, domain.CancelToxicFlow),
	}
}

func (c *Coordinator) balanced(in Inputs) []domain.ExecutionCmd {
	if !in.Inv.CanOpen {
		return []domain.ExecutionCmd{
			domain.CancelSlot(domain.Yes, domain.Provide, domain.CancelInventoryLimit),
			domain.CancelSlot(domain.No, domain.Provide, domain.CancelInventoryLimit),
		}
	}

	if !in.Book.Yes.Usable || !in.Book.No.Usable {
		return nil
	}

	midY := in.Book.Yes.Mid()
	midN := in.Book.No.Mid()

	bidY, bidN := midY, midN
	if sum := midY + midN; sum > c.cfg.PairTarget {
		excess := sum - c.cfg.PairTarget
		bidY -= excess / 2
		bidN -= excess / 2
	}

	bidY = safePrice(bidY, c.cfg.TickSize)
	bidN = safePrice(bidN, c.cfg.TickSize)

	return []domain.ExecutionCmd{
		domain.PlaceBid(domain.Yes, domain.Provide, bidY, c.cfg.BidSize, domain.ReasonProvide),
		domain.PlaceBid(domain.No, domain.Provide, bidN, c.cfg.BidSize, domain.ReasonProvide),
	}
}

func (c *Coordinator) hedge(in Inputs) []domain.ExecutionCmd {
	heavy := in.Inv.HeavySide()
	light := heavy.Other()

	if !in.Inv.CanOpen {
		return []domain.ExecutionCmd{
			domain.CancelSide(heavy, domain.CancelInventoryLimit),
		}
	}

	cmds := []domain.ExecutionCmd{domain.CancelSlot(heavy, domain.Provide, domain.CancelInventoryLimit)}

	ceiling := c.cfg.PairTarget - in.Inv.AvgCost(heavy)
	if ceiling <= c.cfg.TickSize {
		// Pair already beyond target; hedging here would realize a loss
		// larger than the spread. Skip placement, still shed the heavy side.
		return cmds
	}

	lightBook := in.Book.Side(light)
	if !lightBook.Usable {
		return cmds
	}

	p := aggressivePrice(ceiling, lightBook.BestAsk, c.cfg.TickSize)
	if p <= 0 {
		return cmds
	}

	return append(cmds, domain.PlaceBid(light, domain.Hedge, p, c.cfg.BidSize, domain.ReasonHedge))
}

// aggressivePrice bids one tick below the best ask, or at the ceiling
// when that is lower, snapped to the tick grid. It returns 0 (refuse to
// hedge) when there is no ask.
func aggressivePrice(ceiling, bestAsk, tick float64) float64 {
	if bestAsk <= 0 {
		return 0
	}
	p := bestAsk - tick
	if ceiling < p {
		p = ceiling
	}
	return safePrice(p, tick)
}

// safePrice floors to the tick grid and clamps to [tick, 1-tick].
func safePrice(p, tick float64) float64 {
	if tick <= 0 {
		return p
	}
	steps := math.Floor(p/tick + 1e-9)
	p = steps * tick
	lo, hi := tick, 1-tick
	if p < lo {
		return lo
	}
	if p > hi {
		return hi
	}
	return p
}
