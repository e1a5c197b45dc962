// Package settlement handles reward redemption: affordability checks, the
// proportional split of a combined reward's cost across both partners, and
// the reserve/claim state machine. A reward claim is terminal; the claim
// mark is a conditional storage update so only one of two racing claims can
// ever win it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jghoshh/tandem/backend/ledger"
	"github.com/jghoshh/tandem/backend/models"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInsufficientPoints is returned when the relevant balance (individual,
// or both partners combined) does not cover the reward's cost.
var ErrInsufficientPoints = errors.New("not enough points for this reward")

// ErrAlreadyClaimed is returned when claiming a reward that has already
// been claimed. Claims are terminal; there is no un-claim.
var ErrAlreadyClaimed = errors.New("reward already claimed")

// ErrAlreadyReserved is returned when reserving a reward that is currently
// reserved.
var ErrAlreadyReserved = errors.New("reward already reserved")

// ErrNotMember is returned when the acting user does not belong to the
// household owning the reward.
var ErrNotMember = errors.New("user is not a member of the reward's household")

// Settlement validates and applies reward redemptions.
type Settlement struct {
	store  storage.StorageInterface
	ledger *ledger.Ledger
}

// New creates a Settlement backed by the given storage and ledger.
func New(store storage.StorageInterface, l *ledger.Ledger) *Settlement {
	return &Settlement{store: store, ledger: l}
}

// Reserve marks a reward as reserved by the given user. Only an unreserved,
// unclaimed reward can be reserved; affordability is not checked until
// claim time.
func (s *Settlement) Reserve(ctx context.Context, rewardID, userID primitive.ObjectID, now time.Time) error {
	reward, err := s.store.FindRewardByID(ctx, rewardID)
	if err != nil {
		return err
	}
	if reward.Claimed() {
		return ErrAlreadyClaimed
	}
	if err := s.requireMember(ctx, reward, userID); err != nil {
		return err
	}

	reserved, err := s.store.ReserveReward(ctx, rewardID, userID, now)
	if err != nil {
		return err
	}
	if !reserved {
		return ErrAlreadyReserved
	}
	return nil
}

// Unreserve clears a reward's reservation. Either partner may cancel a
// reservation, not just the one who placed it; in a two-person household
// the reservation is a shared signal, not a lock.
func (s *Settlement) Unreserve(ctx context.Context, rewardID primitive.ObjectID) error {
	reward, err := s.store.FindRewardByID(ctx, rewardID)
	if err != nil {
		return err
	}
	if reward.Claimed() {
		return ErrAlreadyClaimed
	}
	return s.store.UnreserveReward(ctx, rewardID)
}

// ClaimResult reports how a successful claim was settled.
type ClaimResult struct {
	Reward *models.Reward `json:"reward"`
	// UserShare and PartnerShare are the amounts deducted from the
	// claiming user and their partner. For an individual reward the
	// partner share is zero.
	UserShare    int                `json:"userShare"`
	PartnerShare int                `json:"partnerShare"`
	PartnerID    primitive.ObjectID `json:"partnerId"`
}

// Claim redeems a reward for the claiming user.
//
// An individual reward requires the claimer's own balance to cover the
// cost. A combined reward requires the two partners' combined balance to
// cover it, and splits the cost proportionally to each balance:
// userShare = floor(userPoints/totalPoints * cost), partnerShare =
// cost - userShare, so the two shares always sum to exactly the cost and
// the rounding remainder lands on the partner.
//
// The claim mark is written first, conditionally on the reward being
// unclaimed, so a second claim of the same reward fails with
// ErrAlreadyClaimed no matter how the calls interleave. The deductions
// that follow are two independent ledger adjustments; if the process dies
// between them the system is left partially settled, and the wrapped error
// surfaces that rather than attempting a rollback.
func (s *Settlement) Claim(ctx context.Context, rewardID, userID primitive.ObjectID, now time.Time) (*ClaimResult, error) {
	reward, err := s.store.FindRewardByID(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if reward.Claimed() {
		return nil, ErrAlreadyClaimed
	}
	if err := s.requireMember(ctx, reward, userID); err != nil {
		return nil, err
	}

	household, err := s.store.FindHouseholdByID(ctx, reward.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("resolving reward household: %w", err)
	}
	partnerID, _ := household.Partner(userID)

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ClaimResult{Reward: reward, PartnerID: partnerID}

	switch reward.PointType {
	case models.PointTypeIndividual:
		if user.Points < reward.PointCost {
			return nil, ErrInsufficientPoints
		}
		result.UserShare = reward.PointCost
	case models.PointTypeCombined:
		partner, err := s.store.FindUserByID(ctx, partnerID)
		if err != nil {
			return nil, fmt.Errorf("resolving partner: %w", err)
		}
		total := user.Points + partner.Points
		if total < reward.PointCost {
			return nil, ErrInsufficientPoints
		}
		result.UserShare, result.PartnerShare = SplitCost(user.Points, partner.Points, reward.PointCost)
	default:
		return nil, fmt.Errorf("unknown point type %q", reward.PointType)
	}

	// Mark the claim before touching balances: the conditional update is
	// what makes the claim terminal under concurrency.
	claimed, err := s.store.ClaimReward(ctx, rewardID, userID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyClaimed
	}

	if _, err := s.ledger.Adjust(ctx, userID, -result.UserShare); err != nil {
		return nil, fmt.Errorf("reward %s claimed but claimer deduction failed, balances need repair: %w", rewardID.Hex(), err)
	}
	if result.PartnerShare > 0 {
		if _, err := s.ledger.Adjust(ctx, partnerID, -result.PartnerShare); err != nil {
			return nil, fmt.Errorf("reward %s claimed but partner deduction failed, balances need repair: %w", rewardID.Hex(), err)
		}
	}

	claimedReward, err := s.store.FindRewardByID(ctx, rewardID)
	if err == nil {
		result.Reward = claimedReward
	}
	return result, nil
}

// SplitCost divides a combined reward's cost between the claiming user and
// their partner proportionally to their balances. The user's share is
// rounded down, and the partner's share absorbs the remainder, so the two
// shares sum to exactly the cost for any integer inputs.
func SplitCost(userPoints, partnerPoints, cost int) (userShare, partnerShare int) {
	total := userPoints + partnerPoints
	if total <= 0 || cost <= 0 {
		return 0, cost
	}
	userShare = int(math.Floor(float64(userPoints) / float64(total) * float64(cost)))
	partnerShare = cost - userShare
	return userShare, partnerShare
}

// requireMember verifies the acting user belongs to the reward's household.
func (s *Settlement) requireMember(ctx context.Context, reward *models.Reward, userID primitive.ObjectID) error {
	household, err := s.store.FindHouseholdByID(ctx, reward.HouseholdID)
	if err != nil {
		return fmt.Errorf("resolving reward household: %w", err)
	}
	if !household.HasMember(userID) {
		return ErrNotMember
	}
	return nil
}
