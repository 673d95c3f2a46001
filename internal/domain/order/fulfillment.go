package order

// Aggregate derives the order status from item fulfillment. Only PAID and
// PARTIALLY_SHIPPED orders are recomputed; any other status is returned as
// is, so a shipped, cancelled or refunded order is never rewritten here.
func Aggregate(current Status, items []Item) Status {
	if current != StatusPaid && current != StatusPartiallyShipped {
		return current
	}
	if len(items) == 0 {
		return current
	}

	shipped := 0
	for _, it := range items {
		if it.Shipped() {
			shipped++
		}
	}

	switch {
	case shipped == 0:
		return StatusPaid
	case shipped < len(items):
		return StatusPartiallyShipped
	default:
		return StatusShipped
	}
}
