package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/watch"
)

// Sink is what a Runner sends commands to; internal/executor.Executor
// implements it via its Apply method.
type Sink interface {
	Apply(ctx context.Context, cmd domain.ExecutionCmd) *domain.OrderFailed
}

// Runner drives Coordinator.Tick on a periodic timer, folding in
// OrderFailed feedback for logging (the feedback itself already took
// effect synchronously inside the Executor's slot table).
type Runner struct {
	c       *Coordinator
	book    *watch.Value[domain.BookSnapshot]
	ofi     *watch.Value[domain.OFISnapshot]
	inv     *watch.Value[domain.Inventory]
	sink    Sink
	period  time.Duration
	log     *slog.Logger
	lastState State
}

// NewRunner wires a Coordinator to its input snapshots and output sink.
// period must be >= 100ms per spec.
func NewRunner(c *Coordinator, book *watch.Value[domain.BookSnapshot], ofi *watch.Value[domain.OFISnapshot], inv *watch.Value[domain.Inventory], sink Sink, period time.Duration, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if period < 100*time.Millisecond {
		period = 100 * time.Millisecond
	}
	return &Runner{c: c, book: book, ofi: ofi, inv: inv, sink: sink, period: period, log: log}
}

// Run ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.step(ctx)
		}
	}
}

func (r *Runner) step(ctx context.Context) {
	in := Inputs{Book: r.book.Get(), OFI: r.ofi.Get(), Inv: r.inv.Get()}
	state := EvalState(in)
	if state != r.lastState {
		r.log.Info("coordinator state transition", "from", r.lastState.String(), "to", state.String())
		r.lastState = state
	}

	for _, cmd := range r.c.Tick(in) {
		if failed := r.sink.Apply(ctx, cmd); failed != nil {
			r.log.Warn("order failed", "side", failed.Side.String(), "intent", failed.Intent.String(), "reason", failed.Reason)
		}
	}
}
