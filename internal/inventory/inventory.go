package inventory

import (
	"context"
	"sort"
	"strings"

	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
)

type (
	Key     = inventoryDatamodel.Key
	Variant = inventoryDatamodel.Variant
)

// RepositoryAPI is the storage side of the ledger. Decrement and Increment
// are single conditional statements; ok=false means the condition did not
// hold (not enough stock, or no such unit for Increment).
type RepositoryAPI interface {
	Get(ctx context.Context, key Key) (*inventoryDatamodel.Unit, error)
	Decrement(ctx context.Context, key Key, quantity int) (available int, ok bool, err error)
	Increment(ctx context.Context, key Key, quantity int) (available int, ok bool, err error)
	Upsert(ctx context.Context, unit *inventoryDatamodel.Unit) error
	// WithinTx runs fn against a repository bound to one transaction.
	WithinTx(ctx context.Context, fn func(repo RepositoryAPI) error) error
}

// Line is one requested decrement.
type Line struct {
	Key      Key
	Quantity int
}

// ParseProductID splits "cardId:variant". A suffix that is not a known
// variant is kept as part of the card id and the variant defaults to normal.
func ParseProductID(productID string) Key {
	productID = strings.TrimSpace(productID)
	if i := strings.LastIndex(productID, ":"); i > 0 {
		v := inventoryDatamodel.Variant(strings.ToLower(productID[i+1:]))
		if v.Valid() {
			return Key{CardID: productID[:i], Variant: v}
		}
	}
	return Key{CardID: productID, Variant: inventoryDatamodel.VariantNormal}
}

// mergeLines folds repeated keys together and orders them so concurrent
// batches touch rows in the same sequence.
func mergeLines(lines []Line) []Line {
	totals := make(map[Key]int, len(lines))
	order := make([]Key, 0, len(lines))
	for _, l := range lines {
		if _, seen := totals[l.Key]; !seen {
			order = append(order, l.Key)
		}
		totals[l.Key] += l.Quantity
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].String() < order[j].String()
	})

	merged := make([]Line, 0, len(order))
	for _, k := range order {
		merged = append(merged, Line{Key: k, Quantity: totals[k]})
	}
	return merged
}
