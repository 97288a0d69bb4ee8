// Package ports declares the interfaces the core pipeline (book, ofi,
// inventory, executor, coordinator) depends on but does not implement.
// Concrete implementations live under internal/adapters.
package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/pmmaker/internal/book"
	"github.com/alejandrodnm/pmmaker/internal/domain"
)

// MarketResolver finds the next market matching a slug prefix and
// returns its identity. Failures are retriable by the caller.
type MarketResolver interface {
	Resolve(ctx context.Context, slugPrefix string) (domain.Market, error)
}

// PublicStream delivers book and trade events for a market, independent
// of authentication. Implementations own their own reconnect policy;
// Updates and Trades close together when the stream terminates.
type PublicStream interface {
	Run(ctx context.Context, market domain.Market, updates chan<- book.Update, trades chan<- domain.TradeTick) error
}

// UserStream delivers authenticated fill notifications for a market.
type UserStream interface {
	Run(ctx context.Context, market domain.Market, fills chan<- domain.FillEvent) error
}

// ClobClient submits and cancels orders against the venue's CLOB.
type ClobClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelMarket(ctx context.Context, conditionID string) error
}

// OrderRequest is a post-only buy order.
type OrderRequest struct {
	TokenID  string
	Price    float64
	Size     float64
	NegRisk  bool
	ClientID string
}

// OrderAck is the venue's response to a successful placement.
type OrderAck struct {
	OrderID string
	Status  string // e.g. "live", "matched"
}

// Signer produces the credentials/signatures ClobClient needs to submit
// authenticated requests. Kept opaque to the core pipeline.
type Signer interface {
	SignOrder(ctx context.Context, req OrderRequest) (SignedOrder, error)
}

// SignedOrder is an opaque signed payload ready for submission.
type SignedOrder struct {
	Payload map[string]any
}

// Clock is an injectable monotonic time source for debounce, windows,
// and heartbeats.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
