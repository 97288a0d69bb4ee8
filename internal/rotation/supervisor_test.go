package rotation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/pmmaker/internal/book"
	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/ports"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	calls    int32
	failFor  int32
	failWith error
	markets  []domain.Market
}

func (f *fakeResolver) Resolve(ctx context.Context, slugPrefix string) (domain.Market, error) {
	n := atomic.AddInt32(&f.calls, 1) - 1
	if n < f.failFor {
		return domain.Market{}, f.failWith
	}
	n -= f.failFor
	if int(n) >= len(f.markets) {
		return f.markets[len(f.markets)-1], nil
	}
	return f.markets[n], nil
}

type fakePublicStream struct{}

func (fakePublicStream) Run(ctx context.Context, market domain.Market, updates chan<- book.Update, trades chan<- domain.TradeTick) error {
	defer close(updates)
	defer close(trades)
	<-ctx.Done()
	return ctx.Err()
}

type fakeUserStream struct{}

func (fakeUserStream) Run(ctx context.Context, market domain.Market, fills chan<- domain.FillEvent) error {
	defer close(fills)
	<-ctx.Done()
	return ctx.Err()
}

// failingUserStream returns a fixed error immediately instead of blocking
// on ctx, simulating a session/stream failure the fixed streams above
// never produce.
type failingUserStream struct {
	err error
}

func (f failingUserStream) Run(ctx context.Context, market domain.Market, fills chan<- domain.FillEvent) error {
	defer close(fills)
	return f.err
}

type fakeClob struct {
	cancelMarketCalls int32
}

func (f *fakeClob) PlaceOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderAck, error) {
	return ports.OrderAck{OrderID: "o1", Status: "live"}, nil
}
func (f *fakeClob) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeClob) CancelMarket(ctx context.Context, conditionID string) error {
	atomic.AddInt32(&f.cancelMarketCalls, 1)
	return nil
}

func testConfig() Config {
	return Config{SlugPrefix: "hourly-btc"}
}

// TestRunRotatesOnExpiry drives a market that expires almost immediately
// and confirms the supervisor drains it and resolves into the next one.
// The fixed 2s drain window makes this test slow but deterministic.
func TestRunRotatesOnExpiry(t *testing.T) {
	now := time.Now()
	resolver := &fakeResolver{markets: []domain.Market{
		{Slug: "hourly-btc-1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", ExpiresAt: now.Add(50 * time.Millisecond)},
		{Slug: "hourly-btc-2", ConditionID: "c2", YesTokenID: "y2", NoTokenID: "n2", ExpiresAt: now.Add(10 * time.Hour)},
	}}
	clob := &fakeClob{}
	sup := New(testConfig(), resolver, fakePublicStream{}, fakeUserStream{}, clob, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(8 * time.Second):
		t.Fatal("Run did not return in time")
	}

	require.GreaterOrEqual(t, atomic.LoadInt32(&resolver.calls), int32(2))
	require.GreaterOrEqual(t, atomic.LoadInt32(&clob.cancelMarketCalls), int32(1))
}

// TestRunRetriesResolveOnFailure confirms a market-resolution failure is
// retried with backoff instead of exiting the process.
func TestRunRetriesResolveOnFailure(t *testing.T) {
	resolver := &fakeResolver{
		failFor:  2,
		failWith: errors.New("gamma unreachable"),
		markets: []domain.Market{
			{Slug: "hourly-btc-1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", ExpiresAt: time.Now().Add(10 * time.Hour)},
		},
	}
	clob := &fakeClob{}
	sup := New(testConfig(), resolver, fakePublicStream{}, fakeUserStream{}, clob, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Two failures back backoff at 1s then 2s before the third call
	// succeeds; give it enough headroom to get into the session.
	time.Sleep(4 * time.Second)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&resolver.calls), int32(3))
}

// TestRunAbortsOnAuthFailure confirms an ErrAuthFailed from a stream
// terminates Run with a non-nil error instead of rotating into the next
// market, matching the exit-code-1 contract.
func TestRunAbortsOnAuthFailure(t *testing.T) {
	resolver := &fakeResolver{markets: []domain.Market{
		{Slug: "hourly-btc-1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", ExpiresAt: time.Now().Add(10 * time.Hour)},
	}}
	clob := &fakeClob{}
	sup := New(testConfig(), resolver, fakePublicStream{}, failingUserStream{err: domain.ErrAuthFailed}, clob, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Run(ctx)

	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrAuthFailed)
}

// TestRunAbortsOnStreamExhausted confirms an ErrStreamExhausted from a
// stream is fatal rather than retried forever, matching the
// exit-code-3 contract.
func TestRunAbortsOnStreamExhausted(t *testing.T) {
	resolver := &fakeResolver{markets: []domain.Market{
		{Slug: "hourly-btc-1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", ExpiresAt: time.Now().Add(10 * time.Hour)},
	}}
	clob := &fakeClob{}
	sup := New(testConfig(), resolver, fakePublicStream{}, failingUserStream{err: domain.ErrStreamExhausted}, clob, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Run(ctx)

	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrStreamExhausted)
}

// TestRunReturnsCleanlyOnParentCancel confirms a Ctrl-C-style parent
// cancellation drains the current market and returns nil (exit code 0).
func TestRunReturnsCleanlyOnParentCancel(t *testing.T) {
	resolver := &fakeResolver{markets: []domain.Market{
		{Slug: "hourly-btc-1", ConditionID: "c1", YesTokenID: "y1", NoTokenID: "n1", ExpiresAt: time.Now().Add(10 * time.Hour)},
	}}
	clob := &fakeClob{}
	sup := New(testConfig(), resolver, fakePublicStream{}, fakeUserStream{}, clob, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&clob.cancelMarketCalls))
}
