package book

import (
	"context"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/watch"
)

// Runner owns a State and republishes it through a watch.Value as
// updates arrive on a channel, mirroring the single-writer/multi-reader
// shape used by the OFI and Inventory components.
type Runner struct {
	state *State
	snap  *watch.Value[domain.BookSnapshot]
}

// NewRunner constructs a Runner with an empty book and a snapshot slot
// readers can observe immediately.
func NewRunner() *Runner {
	return &Runner{
		state: NewState(),
		snap:  watch.New(domain.BookSnapshot{}),
	}
}

// Snapshot exposes the published watch.Value for readers (Coordinator).
func (r *Runner) Snapshot() *watch.Value[domain.BookSnapshot] {
	return r.snap
}

// Run consumes updates until ctx is cancelled or the channel closes.
func (r *Runner) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			r.snap.Set(r.state.Apply(u))
		}
	}
}
