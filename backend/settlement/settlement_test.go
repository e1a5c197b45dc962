package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/jghoshh/tandem/backend/ledger"
	"github.com/jghoshh/tandem/backend/models"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// testEnv bundles a fresh in-memory backend with one paired household.
type testEnv struct {
	store      *storage.MemoryStorage
	ledger     *ledger.Ledger
	settlement *Settlement
	alice      primitive.ObjectID
	bob        primitive.ObjectID
	houseID    primitive.ObjectID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	alice, err := store.AddUser(ctx, &models.User{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Role:        models.RolePartnerA,
	})
	require.NoError(t, err)
	bob, err := store.AddUser(ctx, &models.User{
		Email:       "bob@example.com",
		DisplayName: "Bob",
		Role:        models.RolePartnerB,
	})
	require.NoError(t, err)

	household, err := store.AddHousehold(ctx, &models.Household{
		Members: [2]primitive.ObjectID{alice.ID, bob.ID},
	})
	require.NoError(t, err)

	pointsLedger := ledger.New(store)
	return &testEnv{
		store:      store,
		ledger:     pointsLedger,
		settlement: New(store, pointsLedger),
		alice:      alice.ID,
		bob:        bob.ID,
		houseID:    household.ID,
	}
}

func (env *testEnv) addReward(t *testing.T, pointType models.PointType, cost int) *models.Reward {
	t.Helper()
	reward, err := env.store.AddReward(context.Background(), &models.Reward{
		HouseholdID: env.houseID,
		Title:       "Movie night",
		PointCost:   cost,
		PointType:   pointType,
		CreatedBy:   env.alice,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	return reward
}

func (env *testEnv) setBalance(t *testing.T, userID primitive.ObjectID, points int) {
	t.Helper()
	_, err := env.store.AdjustUserPoints(context.Background(), userID, points)
	require.NoError(t, err)
}

func (env *testEnv) balance(t *testing.T, userID primitive.ObjectID) int {
	t.Helper()
	balance, err := env.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func TestSplitCost(t *testing.T) {
	tests := []struct {
		name                            string
		userPoints, partnerPoints, cost int
		wantUser, wantPartner           int
	}{
		{"proportional thirty seventy", 30, 70, 50, 15, 35},
		{"equal balances even cost", 50, 50, 50, 25, 25},
		{"equal balances odd cost rounds down for user", 50, 50, 25, 12, 13},
		{"claimer has everything", 80, 0, 40, 40, 0},
		{"claimer has nothing", 0, 80, 40, 0, 40},
		{"zero total falls to partner", 0, 0, 10, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userShare, partnerShare := SplitCost(tt.userPoints, tt.partnerPoints, tt.cost)
			assert.Equal(t, tt.wantUser, userShare)
			assert.Equal(t, tt.wantPartner, partnerShare)
			assert.Equal(t, tt.cost, userShare+partnerShare)
		})
	}
}

func TestIndividualClaimDeductsClaimerOnly(t *testing.T) {
	env := newTestEnv(t)
	env.setBalance(t, env.alice, 40)
	env.setBalance(t, env.bob, 40)
	reward := env.addReward(t, models.PointTypeIndividual, 25)

	result, err := env.settlement.Claim(context.Background(), reward.ID, env.alice, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 25, result.UserShare)
	assert.Zero(t, result.PartnerShare)
	assert.Equal(t, 15, env.balance(t, env.alice))
	assert.Equal(t, 40, env.balance(t, env.bob))
	assert.True(t, result.Reward.Claimed())
}

func TestIndividualClaimNeedsOwnBalance(t *testing.T) {
	env := newTestEnv(t)
	env.setBalance(t, env.alice, 10)
	env.setBalance(t, env.bob, 100)
	reward := env.addReward(t, models.PointTypeIndividual, 25)
	ctx := context.Background()

	_, err := env.settlement.Claim(ctx, reward.ID, env.alice, time.Now())
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	// Nothing moved and the reward is still open.
	assert.Equal(t, 10, env.balance(t, env.alice))
	stored, err := env.store.FindRewardByID(ctx, reward.ID)
	require.NoError(t, err)
	assert.False(t, stored.Claimed())
}

func TestCombinedClaimSplitsProportionally(t *testing.T) {
	env := newTestEnv(t)
	env.setBalance(t, env.alice, 30)
	env.setBalance(t, env.bob, 70)
	reward := env.addReward(t, models.PointTypeCombined, 50)

	result, err := env.settlement.Claim(context.Background(), reward.ID, env.alice, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 15, result.UserShare)
	assert.Equal(t, 35, result.PartnerShare)
	assert.Equal(t, env.bob, result.PartnerID)
	assert.Equal(t, 15, env.balance(t, env.alice))
	assert.Equal(t, 35, env.balance(t, env.bob))
}

func TestCombinedClaimNeedsCombinedBalance(t *testing.T) {
	env := newTestEnv(t)
	env.setBalance(t, env.alice, 20)
	env.setBalance(t, env.bob, 20)
	reward := env.addReward(t, models.PointTypeCombined, 50)

	_, err := env.settlement.Claim(context.Background(), reward.ID, env.alice, time.Now())
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	assert.Equal(t, 20, env.balance(t, env.alice))
	assert.Equal(t, 20, env.balance(t, env.bob))
}

func TestSecondClaimIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.setBalance(t, env.alice, 100)
	env.setBalance(t, env.bob, 100)
	reward := env.addReward(t, models.PointTypeIndividual, 25)
	ctx := context.Background()

	_, err := env.settlement.Claim(ctx, reward.ID, env.alice, time.Now())
	require.NoError(t, err)

	_, err = env.settlement.Claim(ctx, reward.ID, env.bob, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, 100, env.balance(t, env.bob))
}

func TestReserveThenClaimClearsReservation(t *testing.T) {
	env := newTestEnv(t)
	env.setBalance(t, env.alice, 100)
	reward := env.addReward(t, models.PointTypeIndividual, 25)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, env.settlement.Reserve(ctx, reward.ID, env.alice, now))

	stored, err := env.store.FindRewardByID(ctx, reward.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReserved)
	require.NotNil(t, stored.ReservedBy)
	assert.Equal(t, env.alice, *stored.ReservedBy)

	result, err := env.settlement.Claim(ctx, reward.ID, env.alice, now)
	require.NoError(t, err)
	assert.False(t, result.Reward.IsReserved)
	assert.Nil(t, result.Reward.ReservedBy)
}

func TestReserveConflict(t *testing.T) {
	env := newTestEnv(t)
	reward := env.addReward(t, models.PointTypeIndividual, 25)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, env.settlement.Reserve(ctx, reward.ID, env.alice, now))
	err := env.settlement.Reserve(ctx, reward.ID, env.bob, now)
	assert.ErrorIs(t, err, ErrAlreadyReserved)
}

func TestEitherPartnerMayUnreserve(t *testing.T) {
	env := newTestEnv(t)
	reward := env.addReward(t, models.PointTypeIndividual, 25)
	ctx := context.Background()

	require.NoError(t, env.settlement.Reserve(ctx, reward.ID, env.alice, time.Now()))
	require.NoError(t, env.settlement.Unreserve(ctx, reward.ID))

	stored, err := env.store.FindRewardByID(ctx, reward.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsReserved)

	// And the other partner can reserve it afterwards.
	require.NoError(t, env.settlement.Reserve(ctx, reward.ID, env.bob, time.Now()))
}

func TestClaimedRewardCannotBeReserved(t *testing.T) {
	env := newTestEnv(t)
	env.setBalance(t, env.alice, 100)
	reward := env.addReward(t, models.PointTypeIndividual, 25)
	ctx := context.Background()

	_, err := env.settlement.Claim(ctx, reward.ID, env.alice, time.Now())
	require.NoError(t, err)

	err = env.settlement.Reserve(ctx, reward.ID, env.bob, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestOutsiderCannotReserveOrClaim(t *testing.T) {
	env := newTestEnv(t)
	reward := env.addReward(t, models.PointTypeIndividual, 25)
	ctx := context.Background()

	outsider, err := env.store.AddUser(ctx, &models.User{
		Email:       "mallory@example.com",
		DisplayName: "Mallory",
		Role:        models.RolePartnerA,
	})
	require.NoError(t, err)

	err = env.settlement.Reserve(ctx, reward.ID, outsider.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = env.settlement.Claim(ctx, reward.ID, outsider.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotMember)
}
