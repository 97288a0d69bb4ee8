// Package domain holds the plain data types shared by the market-making
// pipeline: book state, order-flow imbalance, inventory, order slots, and
// fill events. None of these types own goroutines or I/O; they are moved
// between the components in internal/{book,ofi,inventory,executor,coordinator}.
package domain

// Side identifies one of the two complementary outcome tokens of a
// binary market.
type Side int

const (
	Yes Side = iota
	No
)

func (s Side) String() string {
	if s == Yes {
		return "YES"
	}
	return "NO"
}

// Other returns the complementary side.
func (s Side) Other() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// Intent distinguishes a passive quote from a risk-reducing hedge order.
// The two never share an Executor slot for the same side.
type Intent int

const (
	Provide Intent = iota
	Hedge
)

func (i Intent) String() string {
	if i == Provide {
		return "provide"
	}
	return "hedge"
}

// TakerSide identifies the aggressor of a public trade tick, used by
// OFIEngine to sign trade volume.
type TakerSide int

const (
	TakerBuy TakerSide = iota
	TakerSell
)
