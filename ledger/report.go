// report.go - Result types for the read-only aggregation queries.
//
// The store produces these; nothing in here mutates state.
package ledger

import "github.com/shopspring/decimal"

// CategoryAggregate is the per-category row count and quantity sum.
// Capacity items are excluded when the query was asked for stock only.
type CategoryAggregate struct {
	Category Category
	Count    int
	TotalQty decimal.Decimal
}

// ExpiryBuckets counts dated entries by how soon they are due.
// Buckets are exclusive: an entry due in 31 days is in Within90 only.
// An entry due exactly today is not expired.
type ExpiryBuckets struct {
	Expired  int // due_date strictly before today
	Within30 int // today .. today+30
	Within90 int // today+31 .. today+90
}

// ToiletBreakdown separates consumable uses from durable fixtures.
// The two sums are never combined.
type ToiletBreakdown struct {
	Uses   decimal.Decimal            // stock quantity in the uses basis unit
	Booths map[string]decimal.Decimal // fixture count per subtype
}
