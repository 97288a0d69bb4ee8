package coordinator

import (
	"testing"

	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/stretchr/testify/require"
)

func usableBook(yesBid, yesAsk, noBid, noAsk float64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Yes: domain.SideBook{BestBid: yesBid, BestAsk: yesAsk, Usable: true},
		No:  domain.SideBook{BestBid: noBid, BestAsk: noAsk, Usable: true},
	}
}

func cleanOFI() domain.OFISnapshot {
	return domain.OFISnapshot{}
}

func findPlace(cmds []domain.ExecutionCmd, side domain.Side, intent domain.Intent) (domain.ExecutionCmd, bool) {
	for _, c := range cmds {
		if c.Kind == domain.CmdPlacePostOnlyBid && c.Side == side && c.Intent == intent {
			return c, true
		}
	}
	return domain.ExecutionCmd{}, false
}

// S1 — balanced happy path.
func TestS1BalancedHappyPath(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.48, 0.50, 0.48, 0.50),
		OFI:  cleanOFI(),
		Inv:  domain.DefaultInventory(),
	}

	cmds := c.Tick(in)

	y, ok := findPlace(cmds, domain.Yes, domain.Provide)
	require.True(t, ok)
	require.InDelta(t, 0.490, y.Price, 1e-6)

	n, ok := findPlace(cmds, domain.No, domain.Provide)
	require.True(t, ok)
	require.InDelta(t, 0.490, n.Price, 1e-6)
}

// S2 — pair above target, equal deduction.
func TestS2PairAboveTargetDeductsEqually(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.60, 0.62, 0.40, 0.42),
		OFI:  cleanOFI(),
		Inv:  domain.DefaultInventory(),
	}

	cmds := c.Tick(in)

	y, _ := findPlace(cmds, domain.Yes, domain.Provide)
	n, _ := findPlace(cmds, domain.No, domain.Provide)
	require.InDelta(t, 0.595, y.Price, 1e-6)
	require.InDelta(t, 0.395, n.Price, 1e-6)
}

// S3 — GlobalKill cancels both sides and blocks placement.
func TestS3GlobalKillCancelsBothSides(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.48, 0.50, 0.48, 0.50),
		OFI:  domain.OFISnapshot{Yes: domain.OFISide{Score: 80, Toxic: true}},
		Inv:  domain.DefaultInventory(),
	}

	cmds := c.Tick(in)

	require.Len(t, cmds, 2)
	for _, cmd := range cmds {
		require.Equal(t, domain.CmdCancelSide, cmd.Kind)
	}
	_, placedYes := findPlace(cmds, domain.Yes, domain.Provide)
	_, placedNo := findPlace(cmds, domain.No, domain.Provide)
	require.False(t, placedYes)
	require.False(t, placedNo)
}

// S4 — hedge, YES-heavy.
func TestS4HedgeYesHeavy(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0, 0, 0.48, 0.50),
		OFI:  cleanOFI(),
		Inv: domain.Inventory{
			YesQty: 3, NoQty: 0, YesAvgCost: 0.50, NetDiff: 3, CanOpen: true,
		},
	}

	cmds := c.Tick(in)

	foundCancelYesProvide := false
	for _, cmd := range cmds {
		if cmd.Kind == domain.CmdCancelOrder && cmd.Side == domain.Yes && cmd.Intent == domain.Provide {
			foundCancelYesProvide = true
		}
	}
	require.True(t, foundCancelYesProvide)

	hedge, ok := findPlace(cmds, domain.No, domain.Hedge)
	require.True(t, ok)
	require.InDelta(t, 0.490, hedge.Price, 1e-6)
}

// S5 handled at Executor level (see internal/executor tests); the
// Coordinator's contribution is that its output is a pure function of
// current inputs with no memory of past failures, so identical inputs
// on the next tick reproduce the identical command.
func TestS5IdenticalInputsReproduceIdenticalCommand(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.48, 0.50, 0.48, 0.50),
		OFI:  cleanOFI(),
		Inv:  domain.DefaultInventory(),
	}

	first := c.Tick(in)
	second := c.Tick(in)
	require.Equal(t, first, second)
}

func TestBalancedNotCanOpenCancelsBothProvideSlots(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.48, 0.50, 0.48, 0.50),
		OFI:  cleanOFI(),
		Inv:  domain.Inventory{CanOpen: false},
	}

	cmds := c.Tick(in)

	require.Len(t, cmds, 2)
	for _, cmd := range cmds {
		require.Equal(t, domain.CmdCancelOrder, cmd.Kind)
		require.Equal(t, domain.Provide, cmd.Intent)
	}
}

func TestHedgeNotCanOpenOnlyCancelsHeavySide(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.48, 0.50, 0.48, 0.50),
		OFI:  cleanOFI(),
		Inv:  domain.Inventory{YesQty: 6, NetDiff: 6, CanOpen: false},
	}

	cmds := c.Tick(in)

	require.Len(t, cmds, 1)
	require.Equal(t, domain.CmdCancelSide, cmds[0].Kind)
	require.Equal(t, domain.Yes, cmds[0].Side)
}

func TestHedgeRefusesWhenCeilingBelowTick(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0, 0, 0.98, 0.99),
		OFI:  cleanOFI(),
		Inv:  domain.Inventory{YesQty: 3, YesAvgCost: 0.995, NetDiff: 3, CanOpen: true},
	}

	cmds := c.Tick(in)

	_, placed := findPlace(cmds, domain.No, domain.Hedge)
	require.False(t, placed, "ceiling below tick must refuse to hedge")
}

func TestHedgeRefusesOnEmptyBook(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: domain.BookSnapshot{}, // no side usable
		OFI:  cleanOFI(),
		Inv:  domain.Inventory{YesQty: 3, YesAvgCost: 0.50, NetDiff: 3, CanOpen: true},
	}

	cmds := c.Tick(in)

	_, placed := findPlace(cmds, domain.No, domain.Hedge)
	require.False(t, placed)
}

func TestAggressivePriceNeverExceedsCeilingOrAsk(t *testing.T) {
	require.InDelta(t, 0.489, aggressivePrice(0.49, 0.49, 0.001), 1e-9)
	require.InDelta(t, 0.30, aggressivePrice(0.30, 0.60, 0.001), 1e-9, "ceiling wins when tighter than ask")
}

func TestSafePriceClampsToBounds(t *testing.T) {
	require.InDelta(t, 0.001, safePrice(-1, 0.001), 1e-9)
	require.InDelta(t, 0.999, safePrice(2, 0.001), 1e-9)
	require.InDelta(t, 0.500, safePrice(0.5004, 0.001), 1e-9)
}

// Property: GlobalKill state never contains a placement command.
func TestPropertyGlobalKillNeverPlaces(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.48, 0.50, 0.48, 0.50),
		OFI:  domain.OFISnapshot{No: domain.OFISide{Toxic: true}},
		Inv:  domain.Inventory{YesQty: 5, NetDiff: 5, CanOpen: true},
	}

	for _, cmd := range c.Tick(in) {
		require.NotEqual(t, domain.CmdPlacePostOnlyBid, cmd.Kind)
	}
}

// Property: balanced pricing never exceeds pair target and stays in bounds.
func TestPropertyBalancedPricingWithinBounds(t *testing.T) {
	c := New(DefaultConfig(), nil)
	in := Inputs{
		Book: usableBook(0.70, 0.72, 0.70, 0.72),
		OFI:  cleanOFI(),
		Inv:  domain.DefaultInventory(),
	}

	cmds := c.Tick(in)
	y, _ := findPlace(cmds, domain.Yes, domain.Provide)
	n, _ := findPlace(cmds, domain.No, domain.Provide)

	require.LessOrEqual(t, y.Price+n.Price, DefaultConfig().PairTarget+1e-6)
	require.GreaterOrEqual(t, y.Price, 0.001)
	require.LessOrEqual(t, y.Price, 0.999)
	require.GreaterOrEqual(t, n.Price, 0.001)
	require.LessOrEqual(t, n.Price, 0.999)
}
