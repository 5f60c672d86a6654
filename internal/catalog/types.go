// Package catalog provides the tradeable-item catalog: the authoritative
// list of item ids and names, plus the read-only lookup indices the
// mention-extraction engine matches against. Indices are built once per
// snapshot and are safe for concurrent use without locking.
package catalog

import "context"

// Item is a single catalog entry. Value and BuyLimit are carried for
// downstream economic filtering; matching only uses ID and Name.
type Item struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Value    int    `json:"value"`
	BuyLimit int    `json:"limit"`
}

// Source loads a catalog snapshot. Implementations may refresh on their
// own schedule; every Load returns an internally consistent Index.
type Source interface {
	Load(ctx context.Context) (*Index, error)
}
