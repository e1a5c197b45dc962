package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/jghoshh/tandem/backend/models"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestLedger(t *testing.T) (*Ledger, primitive.ObjectID) {
	t.Helper()
	store := storage.NewMemoryStorage()
	user, err := store.AddUser(context.Background(), &models.User{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Role:        models.RolePartnerA,
	})
	require.NoError(t, err)
	return New(store), user.ID
}

func TestAdjustReturnsNewBalance(t *testing.T) {
	pointsLedger, userID := newTestLedger(t)
	ctx := context.Background()

	balance, err := pointsLedger.Adjust(ctx, userID, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	balance, err = pointsLedger.Adjust(ctx, userID, -4)
	require.NoError(t, err)
	assert.Equal(t, 6, balance)
}

func TestAdjustMayDriveBalanceNegative(t *testing.T) {
	pointsLedger, userID := newTestLedger(t)

	balance, err := pointsLedger.Adjust(context.Background(), userID, -5)
	require.NoError(t, err)
	assert.Equal(t, -5, balance)
}

func TestAdjustUnknownUser(t *testing.T) {
	pointsLedger, _ := newTestLedger(t)

	_, err := pointsLedger.Adjust(context.Background(), primitive.NewObjectID(), 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentAdjustsLoseNoUpdates(t *testing.T) {
	pointsLedger, userID := newTestLedger(t)
	ctx := context.Background()

	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := pointsLedger.Adjust(ctx, userID, 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	balance, err := pointsLedger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, balance)
}
