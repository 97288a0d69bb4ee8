// Package rotation drives one market's full lifecycle end to end: resolve
// a slug, wire the pipeline, run it until the market expires or the
// process is asked to stop, drain, and roll into the next window.
//
// Adapted from the teacher's internal/application/engine/live/rotation.go
// cancel/drain/requeue shape, but driven by expiry timestamps instead of
// staleness/competition heuristics — those are Non-goals here.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/pmmaker/internal/book"
	"github.com/alejandrodnm/pmmaker/internal/coordinator"
	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/executor"
	"github.com/alejandrodnm/pmmaker/internal/inventory"
	"github.com/alejandrodnm/pmmaker/internal/ofi"
	"github.com/alejandrodnm/pmmaker/internal/ports"
)

const (
	cancelAllTimeout = 3 * time.Second
	drainWindow      = 2 * time.Second
	coordinatorTick  = 100 * time.Millisecond
	channelBuffer    = 256

	// Market resolution failures retry with exponential backoff rather
	// than exiting the process; the next window may still resolve.
	resolveBackoffBase = 1 * time.Second
	resolveBackoffMax  = 30 * time.Second
)

// Config bundles the strategy parameters each market session is built
// from.
type Config struct {
	SlugPrefix  string
	Executor    executor.Config
	Coordinator coordinator.Config
	OFI         ofi.Config
	Inventory   inventory.Config
}

// Supervisor resolves and runs one market at a time, rotating into the
// next window at expiry.
type Supervisor struct {
	cfg      Config
	resolver ports.MarketResolver
	public   ports.PublicStream
	user     ports.UserStream
	clob     ports.ClobClient
	log      *slog.Logger
}

// New wires a Supervisor to its venue adapters.
func New(cfg Config, resolver ports.MarketResolver, public ports.PublicStream, user ports.UserStream, clob ports.ClobClient, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, resolver: resolver, public: public, user: user, clob: clob, log: log}
}

// Run resolves and drives markets in sequence until ctx is cancelled.
// It returns nil on a clean shutdown (Ctrl-C), matching the "drain then
// exit 0" contract.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		market, err := s.resolveWithBackoff(ctx)
		if err != nil {
			return nil // ctx cancelled while waiting to resolve
		}

		s.log.Info("rotation: entering market", "slug", market.Slug, "condition_id", market.ConditionID, "expires_at", market.ExpiresAt)

		err = s.runSession(ctx, market)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, domain.ErrAuthFailed) {
				return fmt.Errorf("rotation: auth failure, aborting: %w", err)
			}
			if errors.Is(err, domain.ErrStreamExhausted) {
				return fmt.Errorf("rotation: stream reconnect budget exhausted, aborting: %w", err)
			}
			s.log.Warn("rotation: session ended with error, rotating anyway", "slug", market.Slug, "err", err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// resolveWithBackoff retries Resolve with exponential backoff until it
// succeeds or ctx is cancelled. Market resolution failure is never fatal:
// the next window may still resolve.
func (s *Supervisor) resolveWithBackoff(ctx context.Context) (domain.Market, error) {
	for attempt := 0; ; attempt++ {
		market, err := s.resolver.Resolve(ctx, s.cfg.SlugPrefix)
		if err == nil {
			return market, nil
		}
		if ctx.Err() != nil {
			return domain.Market{}, ctx.Err()
		}

		wait := resolveBackoffBase << uint(attempt)
		if wait > resolveBackoffMax || wait <= 0 {
			wait = resolveBackoffMax
		}
		s.log.Warn("rotation: market resolution failed, retrying", "slug", s.cfg.SlugPrefix, "err", err, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return domain.Market{}, ctx.Err()
		}
	}
}

// runSession runs the full pipeline for one market until it expires,
// ctx is cancelled, or a fatal error occurs.
func (s *Supervisor) runSession(parent context.Context, market domain.Market) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !market.ExpiresAt.IsZero() {
		go s.watchExpiry(ctx, cancel, market)
	}

	bookUpdates := make(chan book.Update, channelBuffer)
	trades := make(chan domain.TradeTick, channelBuffer)
	fills := make(chan domain.FillEvent, channelBuffer)

	bookRunner := book.NewRunner()
	ofiEngine := ofi.New(s.cfg.OFI, s.log, time.Now)
	invManager := inventory.New(s.cfg.Inventory, s.log)
	exec := executor.New(s.cfg.Executor, s.clob, market, s.log, time.Now)
	coord := coordinator.New(s.cfg.Coordinator, s.log)
	coordRunner := coordinator.NewRunner(coord, bookRunner.Snapshot(), ofiEngine.Snapshot(), invManager.Snapshot(), exec, coordinatorTick, s.log)

	errs := make(chan error, 2)
	go func() { errs <- s.public.Run(ctx, market, bookUpdates, trades) }()
	go func() { errs <- s.user.Run(ctx, market, fills) }()
	go bookRunner.Run(ctx, bookUpdates)
	go ofiEngine.Run(ctx, trades)
	go invManager.Run(ctx, fills)
	go coordRunner.Run(ctx)

	var streamErr error
	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			streamErr = err
			s.log.Warn("rotation: stream ended unexpectedly, tearing down session", "slug", market.Slug, "err", err)
		}
		cancel()
	}

	s.log.Info("rotation: draining market", "slug", market.Slug)
	s.cancelAll(market)
	time.Sleep(drainWindow)

	return streamErr
}

const expiryPollInterval = 500 * time.Millisecond

// watchExpiry cancels ctx once market.Expired reports true, polling
// rather than firing a single timer so a market whose expiry moves (a
// re-resolve is out of scope here, but the check stays cheap either way).
func (s *Supervisor) watchExpiry(ctx context.Context, cancel context.CancelFunc, market domain.Market) {
	ticker := time.NewTicker(expiryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if market.Expired(time.Now()) {
				cancel()
				return
			}
		}
	}
}

// cancelAll issues cancel_all for market on a context detached from the
// session's, so a shutdown triggered by Ctrl-C (which already cancelled
// the parent) still gets its 3 s to reach the venue.
func (s *Supervisor) cancelAll(market domain.Market) {
	cctx, cancel := context.WithTimeout(context.Background(), cancelAllTimeout)
	defer cancel()
	if err := s.clob.CancelMarket(cctx, market.ConditionID); err != nil {
		s.log.Warn("rotation: best-effort cancel_all failed", "slug", market.Slug, "err", err)
	}
}
