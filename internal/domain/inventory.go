package domain

// Inventory is the authoritative position/cost snapshot published by
// InventoryManager. Derived fields (NetDiff, PortfolioCost, CanOpen) are
// recomputed by the manager on every mutation, never by readers.
type Inventory struct {
	YesQty      float64
	NoQty       float64
	YesAvgCost  float64
	NoAvgCost   float64
	NetDiff     float64 // YesQty - NoQty
	PortfolioCost float64 // YesAvgCost + NoAvgCost, or 0 if either leg is empty
	CanOpen     bool
}

// Qty returns the quantity held on side s.
func (i Inventory) Qty(s Side) float64 {
	if s == Yes {
		return i.YesQty
	}
	return i.NoQty
}

// AvgCost returns the average entry cost on side s.
func (i Inventory) AvgCost(s Side) float64 {
	if s == Yes {
		return i.YesAvgCost
	}
	return i.NoAvgCost
}

// HeavySide returns the side currently holding the larger net position,
// meaningful only when NetDiff != 0.
func (i Inventory) HeavySide() Side {
	if i.NetDiff > 0 {
		return Yes
	}
	return No
}

// DefaultInventory is the zero position: flat, unconstrained.
func DefaultInventory() Inventory {
	return Inventory{CanOpen: true}
}
