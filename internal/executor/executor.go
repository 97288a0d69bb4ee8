// Package executor places and cancels post-only orders against the
// venue, owning a fixed per-(side,intent) slot table and the
// debounce/reprice gating that decides whether a Coordinator command
// results in a REST call at all.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/ports"
)

// Config controls rounding, debounce, and reprice gating. Defaults
// match spec.md.
type Config struct {
	TickSize         float64
	DebounceInterval time.Duration
	RepriceThreshold float64
	DryRun           bool
}

// DefaultConfig returns spec-defined defaults.
func DefaultConfig() Config {
	return Config{
		TickSize:         0.001,
		DebounceInterval: 500 * time.Millisecond,
		RepriceThreshold: 0.010,
	}
}

// slotKey indexes the fixed 2x2 table by (side, intent).
type slotKey struct {
	side   domain.Side
	intent domain.Intent
}

// Executor owns the venue-facing side of the pipeline: exactly one live
// order per (side, intent), submitted post-only, cancelled and reposted
// under debounce/reprice control.
type Executor struct {
	cfg    Config
	client ports.ClobClient
	market domain.Market
	log    *slog.Logger
	clock  func() time.Time

	slots [2][2]domain.OrderSlot // [side][intent]
}

// New constructs an Executor for a single market.
func New(cfg Config, client ports.ClobClient, market domain.Market, log *slog.Logger, clock func() time.Time) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Executor{cfg: cfg, client: client, market: market, log: log, clock: clock}
}

func idx(s domain.Side) int {
	if s == domain.Yes {
		return 0
	}
	return 1
}

func iidx(i domain.Intent) int {
	if i == domain.Provide {
		return 0
	}
	return 1
}

func (e *Executor) slot(side domain.Side, intent domain.Intent) *domain.OrderSlot {
	return &e.slots[idx(side)][iidx(intent)]
}

// Apply executes one Coordinator command, returning an OrderFailed if
// the underlying REST action was rejected. A nil result means the
// command was fully handled with no failure to report (including the
// case where debounce/reprice gating suppressed it).
func (e *Executor) Apply(ctx context.Context, cmd domain.ExecutionCmd) *domain.OrderFailed {
	switch cmd.Kind {
	case domain.CmdPlacePostOnlyBid:
		return e.place(ctx, cmd)
	case domain.CmdCancelOrder:
		e.cancelSlot(ctx, cmd.Side, cmd.Intent)
		return nil
	case domain.CmdCancelSide:
		e.cancelSlot(ctx, cmd.Side, domain.Provide)
		e.cancelSlot(ctx, cmd.Side, domain.Hedge)
		return nil
	case domain.CmdCancelAll:
		e.cancelSlot(ctx, domain.Yes, domain.Provide)
		e.cancelSlot(ctx, domain.Yes, domain.Hedge)
		e.cancelSlot(ctx, domain.No, domain.Provide)
		e.cancelSlot(ctx, domain.No, domain.Hedge)
		return nil
	}
	return nil
}

func round(v, grid float64) float64 {
	return math.Round(v/grid) * grid
}

func clampPrice(p, tick float64) float64 {
	lo, hi := tick, 1-tick
	if p < lo {
		return lo
	}
	if p > hi {
		return hi
	}
	return p
}

func (e *Executor) place(ctx context.Context, cmd domain.ExecutionCmd) *domain.OrderFailed {
	price := clampPrice(round(cmd.Price, e.cfg.TickSize), e.cfg.TickSize)
	size := round(cmd.Size, 1e-6)

	s := e.slot(cmd.Side, cmd.Intent)

	if s.Active {
		delta := math.Abs(price - s.Price)
		if delta < e.cfg.RepriceThreshold {
			e.log.Debug("reprice suppressed, below threshold", "side", cmd.Side, "intent", cmd.Intent, "delta", delta)
			return nil
		}
		if e.clock().Sub(s.PostedAt) < e.cfg.DebounceInterval {
			e.log.Debug("reprice suppressed, debounced", "side", cmd.Side, "intent", cmd.Intent)
			return nil
		}
		// Reprice: cancel first, then place. Only proceed once the cancel
		// is confirmed gone (success or not-found); any other cancel
		// error blocks the new post to avoid holding both orders at once.
		if err := e.cancelSlot(ctx, cmd.Side, cmd.Intent); err != nil {
			return &domain.OrderFailed{Side: cmd.Side, Intent: cmd.Intent, Reason: "cancel before reprice: " + err.Error()}
		}
	} else if e.clock().Sub(s.PostedAt) < e.cfg.DebounceInterval && !s.PostedAt.IsZero() {
		e.log.Debug("place suppressed, debounced", "side", cmd.Side, "intent", cmd.Intent)
		return nil
	}

	if e.cfg.DryRun {
		*s = domain.OrderSlot{
			Active: true, ClientID: "dry-run", TokenID: e.market.TokenID(cmd.Side),
			Price: price, Size: size, PostedAt: e.clock(),
		}
		e.log.Info("dry-run place", "side", cmd.Side, "intent", cmd.Intent, "price", price, "size", size)
		return nil
	}

	req := ports.OrderRequest{
		TokenID: e.market.TokenID(cmd.Side), Price: price, Size: size,
		NegRisk: e.market.NegRisk, ClientID: uuid.NewString(),
	}

	ack, err := e.placeWithRetry(ctx, req)
	if err != nil {
		e.log.Warn("place failed", "side", cmd.Side, "intent", cmd.Intent, "err", err)
		*s = domain.OrderSlot{}
		return &domain.OrderFailed{Side: cmd.Side, Intent: cmd.Intent, Reason: err.Error()}
	}

	*s = domain.OrderSlot{
		Active: true, ClientID: req.ClientID, OrderID: ack.OrderID, TokenID: req.TokenID,
		Price: price, Size: size, PostedAt: e.clock(),
	}
	return nil
}

// placeWithRetry issues one immediate retry with small jittered backoff
// (under 250ms) on any error other than rate-limit, auth failure or
// post-only reject; those propagate immediately so the Coordinator's own
// debounce absorbs them. Other venue rejections are not told apart from
// transient errors and are retried once as well.
func (e *Executor) placeWithRetry(ctx context.Context, req ports.OrderRequest) (ports.OrderAck, error) {
	ack, err := e.client.PlaceOrder(ctx, req)
	if err == nil {
		return ack, nil
	}
	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrAuthFailed) || errors.Is(err, domain.ErrPostOnlyReject) {
		return ports.OrderAck{}, err
	}

	backoff := time.Duration(50+rand.Intn(200)) * time.Millisecond
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return ports.OrderAck{}, ctx.Err()
	}
	return e.client.PlaceOrder(ctx, req)
}

// cancelSlot cancels the venue order for (side, intent) if one is
// tracked, then clears the slot. Cancelling an unknown or already-clear
// slot is treated as success (idempotent), as is a not-found response
// (the order is already gone at the venue). Any other error leaves the
// slot in place so the caller can retry the cancel before posting
// anything new for the same (side, intent).
func (e *Executor) cancelSlot(ctx context.Context, side domain.Side, intent domain.Intent) error {
	s := e.slot(side, intent)
	if !s.Active {
		return nil
	}
	if !e.cfg.DryRun && s.OrderID != "" {
		if err := e.client.CancelOrder(ctx, s.OrderID); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			e.log.Warn("cancel failed, retaining slot", "side", side, "intent", intent, "err", err)
			return err
		}
	}
	*s = domain.OrderSlot{}
	return nil
}

// Slot returns a copy of the current slot state for (side, intent), used
// by tests and diagnostics.
func (e *Executor) Slot(side domain.Side, intent domain.Intent) domain.OrderSlot {
	return *e.slot(side, intent)
}
