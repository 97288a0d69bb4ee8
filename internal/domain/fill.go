package domain

import "time"

// FillStatus classifies how the venue reports a fill on the authenticated
// stream.
type FillStatus int

const (
	// FillMatched is a newly matched trade: apply it to inventory.
	FillMatched FillStatus = iota
	// FillConfirmed re-announces a trade already applied as FillMatched.
	// Skipped by InventoryManager to avoid double counting.
	FillConfirmed
	// FillFailed reverses a previously applied FillMatched.
	FillFailed
)

func (s FillStatus) String() string {
	switch s {
	case FillMatched:
		return "matched"
	case FillConfirmed:
		return "confirmed"
	case FillFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FillEvent is one authenticated-stream fill notification.
type FillEvent struct {
	TradeID      string
	MakerOrderID string
	Side         Side
	Price        float64
	Size         float64
	Status       FillStatus
	TS           time.Time
}

// dedupBucket collapses FillStatus into the two outcomes that matter for
// duplicate detection: MATCHED and CONFIRMED both mean "this trade is
// live," while FAILED is a distinct status transition on the same trade
// id, not a repeat delivery of it.
func (s FillStatus) dedupBucket() string {
	if s == FillFailed {
		return "FAILED"
	}
	return "SUCCESS"
}

// DedupKey returns the identity used by InventoryManager to discard
// duplicate deliveries of the same fill. The status bucket is part of the
// key so a FAILED reusing the trade_id/maker_order_id of its preceding
// MATCHED is treated as a status transition, not a repeat of it.
func (f FillEvent) DedupKey() string {
	return f.TradeID + "|" + f.MakerOrderID + "|" + f.Status.dedupBucket()
}
