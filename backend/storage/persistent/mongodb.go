package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jghoshh/tandem/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on the collections
// backing the habit tracker: users, households, habits, habitCompletions,
// rewards and notifications.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	// Set a timeout for the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Every user has a unique email; the identity provider keys off it.
	usersCollection := m.client.Database(m.dbName).Collection("users")
	emailIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"email": 1, // 1 for ascending order
		},
		Options: options.Index().SetUnique(true),
	}
	_, err = usersCollection.Indexes().CreateOne(ctx, emailIndexModel)
	if err != nil {
		return fmt.Errorf("error creating email index: %v", err)
	}

	// Households are looked up by member id.
	householdsCollection := m.client.Database(m.dbName).Collection("households")
	membersIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"members": 1,
		},
		Options: options.Index(),
	}
	_, err = householdsCollection.Indexes().CreateOne(ctx, membersIndexModel)
	if err != nil {
		return fmt.Errorf("error creating members index: %v", err)
	}

	// Habits are listed per household.
	habitsCollection := m.client.Database(m.dbName).Collection("habits")
	householdIdIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"household_id": 1,
		},
		Options: options.Index(),
	}
	_, err = habitsCollection.Indexes().CreateOne(ctx, householdIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating household_id index: %v", err)
	}

	// The settlement rules depend on at most one completion existing per
	// (habit, user, day); the unique compound index is the idempotence
	// guard the engine relies on.
	completionsCollection := m.client.Database(m.dbName).Collection("habitCompletions")
	completionKeyIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "habit_id", Value: 1},
			{Key: "user_id", Value: 1},
			{Key: "date", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	_, err = completionsCollection.Indexes().CreateOne(ctx, completionKeyIndexModel)
	if err != nil {
		return fmt.Errorf("error creating completion key index: %v", err)
	}

	// The today view queries completions by calendar day alone.
	dateIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"date": 1,
		},
		Options: options.Index(),
	}
	_, err = completionsCollection.Indexes().CreateOne(ctx, dateIndexModel)
	if err != nil {
		return fmt.Errorf("error creating date index: %v", err)
	}

	// Open rewards are listed cheapest first.
	rewardsCollection := m.client.Database(m.dbName).Collection("rewards")
	rewardCostIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "household_id", Value: 1},
			{Key: "point_cost", Value: 1},
		},
		Options: options.Index(),
	}
	_, err = rewardsCollection.Indexes().CreateOne(ctx, rewardCostIndexModel)
	if err != nil {
		return fmt.Errorf("error creating reward cost index: %v", err)
	}

	// Notifications are listed per user, most recent first.
	notificationsCollection := m.client.Database(m.dbName).Collection("notifications")
	notificationIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index(),
	}
	_, err = notificationsCollection.Indexes().CreateOne(ctx, notificationIndexModel)
	if err != nil {
		return fmt.Errorf("error creating notification index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

func (m *MongoStorage) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

// isDuplicateKey reports whether an insert failed on a unique index.
func isDuplicateKey(err error) bool {
	var writeException mongo.WriteException
	if errors.As(err, &writeException) {
		for _, writeError := range writeException.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// AddUser adds a new user document to the 'users' collection.
// Returns the added user instance and an error if validation or the insert
// operation fails.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	result, err := m.collection("users").InsertOne(ctx, user)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("a user with email %q already exists: %w", user.Email, ErrDuplicate)
		}
		return nil, err
	}

	user.ID = result.InsertedID.(primitive.ObjectID)
	return user, nil
}

// FindUserByID finds a user document in the 'users' collection by id.
func (m *MongoStorage) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	user := &models.User{}
	err := m.collection("users").FindOne(ctx, bson.M{"_id": id}).Decode(user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// FindUserByEmail finds a user document in the 'users' collection by email.
func (m *MongoStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := m.collection("users").FindOne(ctx, bson.M{"email": email}).Decode(user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// AdjustUserPoints atomically adds delta to a user's point balance using a
// single $inc update, and returns the balance after the adjustment. Two
// clients adjusting the same balance concurrently can never lose an update
// this way, which a read-then-write flow could.
func (m *MongoStorage) AdjustUserPoints(ctx context.Context, id primitive.ObjectID, delta int) (int, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	result := m.collection("users").FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"points": delta}},
		opts,
	)
	user := &models.User{}
	if err := result.Decode(user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return user.Points, nil
}

// SetUserHousehold records which household a user belongs to.
func (m *MongoStorage) SetUserHousehold(ctx context.Context, id, householdID primitive.ObjectID) error {
	result, err := m.collection("users").UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"household_id": householdID}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddHousehold adds a new household document to the 'households' collection.
func (m *MongoStorage) AddHousehold(ctx context.Context, household *models.Household) (*models.Household, error) {
	if household.Members[0].IsZero() || household.Members[1].IsZero() {
		return nil, errors.New("household requires two members")
	}
	if household.Members[0] == household.Members[1] {
		return nil, errors.New("household members must be distinct")
	}
	result, err := m.collection("households").InsertOne(ctx, household)
	if err != nil {
		return nil, err
	}
	household.ID = result.InsertedID.(primitive.ObjectID)
	return household, nil
}

// FindHouseholdByID finds a household document by id.
func (m *MongoStorage) FindHouseholdByID(ctx context.Context, id primitive.ObjectID) (*models.Household, error) {
	household := &models.Household{}
	err := m.collection("households").FindOne(ctx, bson.M{"_id": id}).Decode(household)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return household, nil
}

// FindHouseholdByMember finds the household document containing the given user.
func (m *MongoStorage) FindHouseholdByMember(ctx context.Context, userID primitive.ObjectID) (*models.Household, error) {
	household := &models.Household{}
	err := m.collection("households").FindOne(ctx, bson.M{"members": userID}).Decode(household)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return household, nil
}

// AddHabit adds a new habit document to the 'habits' collection.
// Returns the added habit instance and an error if validation or the insert
// operation fails.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if err := habit.Validate(); err != nil {
		return nil, err
	}
	result, err := m.collection("habits").InsertOne(ctx, habit)
	if err != nil {
		return nil, err
	}
	habit.ID = result.InsertedID.(primitive.ObjectID)
	return habit, nil
}

// FindHabitByID finds a habit document in the 'habits' collection by id.
func (m *MongoStorage) FindHabitByID(ctx context.Context, id primitive.ObjectID) (*models.Habit, error) {
	habit := &models.Habit{}
	err := m.collection("habits").FindOne(ctx, bson.M{"_id": id}).Decode(habit)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return habit, nil
}

// FindActiveHabits finds all active habit documents of a household.
func (m *MongoStorage) FindActiveHabits(ctx context.Context, householdID primitive.ObjectID) ([]models.Habit, error) {
	cursor, err := m.collection("habits").Find(ctx, bson.M{
		"household_id": householdID,
		"is_active":    true,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var habits []models.Habit
	if err := cursor.All(ctx, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// UpdateHabit applies a partial update to a habit document. Only the non-nil
// fields of the update are written. Returns ErrNotFound if the habit does
// not exist and an error if there is nothing to update.
func (m *MongoStorage) UpdateHabit(ctx context.Context, id primitive.ObjectID, update models.HabitUpdate) error {
	set := bson.M{}
	if update.Title != nil {
		if *update.Title == "" {
			return errors.New("habit title is required")
		}
		set["title"] = *update.Title
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Frequency != nil {
		if _, err := models.ParseFrequency(string(*update.Frequency)); err != nil {
			return err
		}
		set["frequency"] = *update.Frequency
	}
	if update.Weekday != nil {
		if *update.Weekday < 0 || *update.Weekday > 6 {
			return fmt.Errorf("weekday %d out of range 0-6", *update.Weekday)
		}
		set["weekday"] = *update.Weekday
	}
	if update.Points != nil {
		if *update.Points <= 0 {
			return errors.New("habit points must be positive")
		}
		set["points"] = *update.Points
	}
	if update.Condition != nil {
		if _, err := models.ParseCondition(string(*update.Condition)); err != nil {
			return err
		}
		set["completion_condition"] = *update.Condition
	}
	if len(set) == 0 {
		return errors.New("nothing to update")
	}

	result, err := m.collection("habits").UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateHabit soft-deletes a habit by flipping its active flag. The
// document stays in place so past completions keep resolving.
func (m *MongoStorage) DeactivateHabit(ctx context.Context, id primitive.ObjectID) error {
	result, err := m.collection("habits").UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_active": false}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddCompletion adds a completion record to the 'habitCompletions'
// collection. The unique (habit_id, user_id, date) index turns a concurrent
// double-tap into ErrDuplicate instead of a second record.
func (m *MongoStorage) AddCompletion(ctx context.Context, completion *models.Completion) (*models.Completion, error) {
	result, err := m.collection("habitCompletions").InsertOne(ctx, completion)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	completion.ID = result.InsertedID.(primitive.ObjectID)
	return completion, nil
}

// FindCompletion finds the completion record for a (habit, user, date) triple.
func (m *MongoStorage) FindCompletion(ctx context.Context, habitID, userID primitive.ObjectID, date string) (*models.Completion, error) {
	completion := &models.Completion{}
	err := m.collection("habitCompletions").FindOne(ctx, bson.M{
		"habit_id": habitID,
		"user_id":  userID,
		"date":     date,
	}).Decode(completion)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return completion, nil
}

// DeleteCompletion removes the completion record for a (habit, user, date)
// triple. Deleting a record that does not exist is not an error; the result
// reports zero deletions.
func (m *MongoStorage) DeleteCompletion(ctx context.Context, habitID, userID primitive.ObjectID, date string) (*DeleteResult, error) {
	result, err := m.collection("habitCompletions").DeleteOne(ctx, bson.M{
		"habit_id": habitID,
		"user_id":  userID,
		"date":     date,
	})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// FindCompletionsByDate finds all completion records for a calendar day.
func (m *MongoStorage) FindCompletionsByDate(ctx context.Context, date string) ([]models.Completion, error) {
	cursor, err := m.collection("habitCompletions").Find(ctx, bson.M{"date": date})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var completions []models.Completion
	if err := cursor.All(ctx, &completions); err != nil {
		return nil, err
	}
	return completions, nil
}

// FindCompletionsSince finds all completions of a habit on or after the
// given day key. Day keys are zero-padded ISO dates, so a plain string
// comparison orders them chronologically.
func (m *MongoStorage) FindCompletionsSince(ctx context.Context, habitID primitive.ObjectID, sinceDate string) ([]models.Completion, error) {
	cursor, err := m.collection("habitCompletions").Find(ctx, bson.M{
		"habit_id": habitID,
		"date":     bson.M{"$gte": sinceDate},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var completions []models.Completion
	if err := cursor.All(ctx, &completions); err != nil {
		return nil, err
	}
	return completions, nil
}

// AddReward adds a new reward document to the 'rewards' collection.
func (m *MongoStorage) AddReward(ctx context.Context, reward *models.Reward) (*models.Reward, error) {
	if err := reward.Validate(); err != nil {
		return nil, err
	}
	result, err := m.collection("rewards").InsertOne(ctx, reward)
	if err != nil {
		return nil, err
	}
	reward.ID = result.InsertedID.(primitive.ObjectID)
	return reward, nil
}

// FindRewardByID finds a reward document in the 'rewards' collection by id.
func (m *MongoStorage) FindRewardByID(ctx context.Context, id primitive.ObjectID) (*models.Reward, error) {
	reward := &models.Reward{}
	err := m.collection("rewards").FindOne(ctx, bson.M{"_id": id}).Decode(reward)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return reward, nil
}

// FindOpenRewards finds all unclaimed rewards of a household, cheapest first.
func (m *MongoStorage) FindOpenRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error) {
	opts := options.Find().SetSort(bson.D{{Key: "point_cost", Value: 1}})
	cursor, err := m.collection("rewards").Find(ctx, bson.M{
		"household_id": householdID,
		"claimed_by":   bson.M{"$exists": false},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rewards []models.Reward
	if err := cursor.All(ctx, &rewards); err != nil {
		return nil, err
	}
	return rewards, nil
}

// FindReservedRewards finds all reserved, unclaimed rewards of a household.
func (m *MongoStorage) FindReservedRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error) {
	cursor, err := m.collection("rewards").Find(ctx, bson.M{
		"household_id": householdID,
		"is_reserved":  true,
		"claimed_by":   bson.M{"$exists": false},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rewards []models.Reward
	if err := cursor.All(ctx, &rewards); err != nil {
		return nil, err
	}
	return rewards, nil
}

// FindClaimedRewards finds all claimed rewards of a household, most recent
// claim first.
func (m *MongoStorage) FindClaimedRewards(ctx context.Context, householdID primitive.ObjectID) ([]models.Reward, error) {
	opts := options.Find().SetSort(bson.D{{Key: "claimed_at", Value: -1}})
	cursor, err := m.collection("rewards").Find(ctx, bson.M{
		"household_id": householdID,
		"claimed_by":   bson.M{"$exists": true},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rewards []models.Reward
	if err := cursor.All(ctx, &rewards); err != nil {
		return nil, err
	}
	return rewards, nil
}

// UpdateReward applies a partial update to a reward document. Only the
// non-nil fields of the update are written.
func (m *MongoStorage) UpdateReward(ctx context.Context, id primitive.ObjectID, update models.RewardUpdate) error {
	set := bson.M{}
	if update.Title != nil {
		if *update.Title == "" {
			return errors.New("reward title is required")
		}
		set["title"] = *update.Title
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.PointCost != nil {
		if *update.PointCost <= 0 {
			return errors.New("reward point cost must be positive")
		}
		set["point_cost"] = *update.PointCost
	}
	if update.PointType != nil {
		if _, err := models.ParsePointType(string(*update.PointType)); err != nil {
			return err
		}
		set["point_type"] = *update.PointType
	}
	if len(set) == 0 {
		return errors.New("nothing to update")
	}

	result, err := m.collection("rewards").UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReward deletes a reward document from the 'rewards' collection.
func (m *MongoStorage) DeleteReward(ctx context.Context, id primitive.ObjectID) (*DeleteResult, error) {
	result, err := m.collection("rewards").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// ReserveReward marks a reward reserved, but only if it is currently
// unreserved and unclaimed. The state check and the write are one
// conditional update, so two partners racing for the same reward cannot
// both win the reservation.
func (m *MongoStorage) ReserveReward(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (bool, error) {
	result, err := m.collection("rewards").UpdateOne(
		ctx,
		bson.M{
			"_id":         id,
			"is_reserved": false,
			"claimed_by":  bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{
			"is_reserved": true,
			"reserved_by": userID,
			"reserved_at": at,
		}},
	)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// UnreserveReward clears a reward's reservation fields.
func (m *MongoStorage) UnreserveReward(ctx context.Context, id primitive.ObjectID) error {
	result, err := m.collection("rewards").UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":   bson.M{"is_reserved": false},
			"$unset": bson.M{"reserved_by": "", "reserved_at": ""},
		},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimReward marks a reward claimed, but only if no one has claimed it
// before. Claiming is terminal, so the filter on an absent claimed_by is
// what rejects the second of two racing claims.
func (m *MongoStorage) ClaimReward(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (bool, error) {
	result, err := m.collection("rewards").UpdateOne(
		ctx,
		bson.M{
			"_id":        id,
			"claimed_by": bson.M{"$exists": false},
		},
		bson.M{
			"$set":   bson.M{"claimed_by": userID, "claimed_at": at, "is_reserved": false},
			"$unset": bson.M{"reserved_by": "", "reserved_at": ""},
		},
	)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// AddNotification adds an in-app notification document.
func (m *MongoStorage) AddNotification(ctx context.Context, notification *models.Notification) (*models.Notification, error) {
	result, err := m.collection("notifications").InsertOne(ctx, notification)
	if err != nil {
		return nil, err
	}
	notification.ID = result.InsertedID.(primitive.ObjectID)
	return notification, nil
}

// FindNotificationsByUser finds a user's notifications, most recent first.
func (m *MongoStorage) FindNotificationsByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.collection("notifications").Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkNotificationRead marks a notification as read.
func (m *MongoStorage) MarkNotificationRead(ctx context.Context, id primitive.ObjectID) error {
	result, err := m.collection("notifications").UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
