package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/ports"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	placeCalls  int
	cancelCalls int
	placeErr    error
	cancelErr   error
	nextOrderID string
}

func (f *fakeClient) PlaceOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderAck, error) {
	f.placeCalls++
	if f.placeErr != nil {
		return ports.OrderAck{}, f.placeErr
	}
	return ports.OrderAck{OrderID: f.nextOrderID, Status: "live"}, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) error {
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeClient) CancelMarket(ctx context.Context, conditionID string) error { return nil }

func testMarket() domain.Market {
	return domain.Market{YesTokenID: "yes-tok", NoTokenID: "no-tok", TickSize: 0.001}
}

func TestPlaceRoundsAndClampsPrice(t *testing.T) {
	c := &fakeClient{nextOrderID: "o1"}
	e := New(DefaultConfig(), c, testMarket(), nil, func() time.Time { return time.Unix(0, 0) })

	failed := e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.4999, 2.0, domain.ReasonProvide))

	require.Nil(t, failed)
	require.Equal(t, 1, c.placeCalls)
	slot := e.Slot(domain.Yes, domain.Provide)
	require.True(t, slot.Active)
	require.InDelta(t, 0.500, slot.Price, 1e-9)
}

func TestRepriceBelowThresholdSuppressed(t *testing.T) {
	c := &fakeClient{nextOrderID: "o1"}
	now := time.Unix(0, 0)
	e := New(DefaultConfig(), c, testMarket(), nil, func() time.Time { return now })

	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.490, 2.0, domain.ReasonProvide))
	now = now.Add(2 * time.Second) // past debounce window
	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.495, 2.0, domain.ReasonProvide))

	require.Equal(t, 1, c.placeCalls, "delta below reprice threshold must not re-place")
}

func TestRepriceAboveThresholdCancelsThenPlaces(t *testing.T) {
	c := &fakeClient{nextOrderID: "o1"}
	now := time.Unix(0, 0)
	e := New(DefaultConfig(), c, testMarket(), nil, func() time.Time { return now })

	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.490, 2.0, domain.ReasonProvide))
	now = now.Add(2 * time.Second)
	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.510, 2.0, domain.ReasonProvide))

	require.Equal(t, 2, c.placeCalls)
	require.Equal(t, 1, c.cancelCalls)
}

func TestRepriceBlockedWhenCancelFails(t *testing.T) {
	c := &fakeClient{nextOrderID: "o1", cancelErr: errors.New("timeout")}
	now := time.Unix(0, 0)
	e := New(DefaultConfig(), c, testMarket(), nil, func() time.Time { return now })

	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.490, 2.0, domain.ReasonProvide))
	now = now.Add(2 * time.Second)
	failed := e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.510, 2.0, domain.ReasonProvide))

	require.NotNil(t, failed, "a genuine cancel failure must block the new post")
	require.Equal(t, 1, c.placeCalls, "no new order should be placed while the old one may still be live")
	require.Equal(t, 1, c.cancelCalls)
	slot := e.Slot(domain.Yes, domain.Provide)
	require.True(t, slot.Active, "the old slot must be retained so the cancel can be retried")
	require.InDelta(t, 0.490, slot.Price, 1e-9)
}

func TestRepriceProceedsWhenCancelIsNotFound(t *testing.T) {
	c := &fakeClient{nextOrderID: "o1", cancelErr: domain.ErrOrderNotFound}
	now := time.Unix(0, 0)
	e := New(DefaultConfig(), c, testMarket(), nil, func() time.Time { return now })

	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.490, 2.0, domain.ReasonProvide))
	now = now.Add(2 * time.Second)
	failed := e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.510, 2.0, domain.ReasonProvide))

	require.Nil(t, failed, "a not-found cancel means the old order is already gone, safe to post")
	require.Equal(t, 2, c.placeCalls)
}

func TestDebounceSuppressesRapidReplace(t *testing.T) {
	c := &fakeClient{nextOrderID: "o1"}
	now := time.Unix(0, 0)
	e := New(DefaultConfig(), c, testMarket(), nil, func() time.Time { return now })

	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.490, 2.0, domain.ReasonProvide))
	now = now.Add(10 * time.Millisecond) // within debounce window
	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.520, 2.0, domain.ReasonProvide))

	require.Equal(t, 1, c.placeCalls, "debounce window must suppress the reprice")
}

func TestRateLimitedFailureIsNotRetried(t *testing.T) {
	c := &fakeClient{placeErr: domain.ErrRateLimited}
	e := New(DefaultConfig(), c, testMarket(), nil, nil)

	failed := e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.49, 2.0, domain.ReasonProvide))

	require.NotNil(t, failed)
	require.Equal(t, 1, c.placeCalls)
	require.False(t, e.Slot(domain.Yes, domain.Provide).Active)
}

func TestTransientErrorRetriesOnce(t *testing.T) {
	c := &fakeClient{placeErr: errors.New("connection reset")}
	e := New(DefaultConfig(), c, testMarket(), nil, nil)

	failed := e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.49, 2.0, domain.ReasonProvide))

	require.NotNil(t, failed)
	require.Equal(t, 2, c.placeCalls, "one retry after the first transient failure")
}

func TestCancelUnknownSlotIsNoop(t *testing.T) {
	c := &fakeClient{}
	e := New(DefaultConfig(), c, testMarket(), nil, nil)

	e.Apply(context.Background(), domain.CancelSlot(domain.Yes, domain.Provide, domain.CancelReprice))

	require.Equal(t, 0, c.cancelCalls)
}

func TestCancelAllHitsAllFourSlots(t *testing.T) {
	c := &fakeClient{nextOrderID: "o1"}
	e := New(DefaultConfig(), c, testMarket(), nil, nil)

	e.Apply(context.Background(), domain.PlaceBid(domain.Yes, domain.Provide, 0.49, 2.0, domain.ReasonProvide))
	e.Apply(context.Background(), domain.PlaceBid(domain.No, domain.Provide, 0.49, 2.0, domain.ReasonProvide))

	e.Apply(context.Background(), domain.CancelAll(domain.CancelShutdown))

	require.False(t, e.Slot(domain.Yes, domain.Provide).Active)
	require.False(t, e.Slot(domain.No, domain.Provide).Active)
	require.Equal(t, 2, c.cancelCalls)
}
