// Package ledger is the single mutator of user point balances. Every award,
// deduction and compensating adjustment in the system goes through it, and
// each adjustment is one atomic storage increment, so concurrent actions by
// the two partners can never lose an update against each other.
package ledger

import (
	"context"
	"fmt"

	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Ledger applies point deltas to user balances.
type Ledger struct {
	store storage.StorageInterface
}

// New creates a Ledger backed by the given storage.
func New(store storage.StorageInterface) *Ledger {
	return &Ledger{store: store}
}

// Adjust adds delta (which may be negative) to the user's balance and
// returns the new balance. There is no floor: a compensating deduction
// issued after a completion reversal may legitimately drive a balance
// negative, and surfacing that is preferred over silently clamping it.
func (l *Ledger) Adjust(ctx context.Context, userID primitive.ObjectID, delta int) (int, error) {
	balance, err := l.store.AdjustUserPoints(ctx, userID, delta)
	if err != nil {
		return 0, fmt.Errorf("adjusting points for user %s by %d: %w", userID.Hex(), delta, err)
	}
	return balance, nil
}

// Balance returns the user's current point balance.
func (l *Ledger) Balance(ctx context.Context, userID primitive.ObjectID) (int, error) {
	user, err := l.store.FindUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Points, nil
}
