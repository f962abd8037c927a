// Package lookup reads account contact data from an external keyed table.
// Lookups are read-only point reads and safe for concurrent use.
package lookup

import (
	"context"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

// Lookup returns the account for id; ok is false when no row exists.
type Lookup interface {
	Get(ctx context.Context, id string) (acct model.Account, ok bool, err error)
	Close() error
}
