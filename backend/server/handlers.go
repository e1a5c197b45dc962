package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jghoshh/tandem/backend/engine"
	"github.com/jghoshh/tandem/backend/models"
	"github.com/jghoshh/tandem/backend/queue"
	"github.com/jghoshh/tandem/backend/server/auth"
	"github.com/jghoshh/tandem/backend/server/contextkey"
	"github.com/jghoshh/tandem/backend/settlement"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"github.com/jghoshh/tandem/lib/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// streakMilestones are the streak lengths that trigger a milestone
// notification to both partners.
var streakMilestones = map[int]bool{7: true, 30: true, 100: true}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("failed to encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError translates domain errors into HTTP status codes. Anything
// unmapped is a 500 with a generic message; the detail goes to the log, not
// the wire.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrHabitInactive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNotMember), errors.Is(err, settlement.ErrNotMember):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, settlement.ErrAlreadyClaimed), errors.Is(err, settlement.ErrAlreadyReserved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, settlement.ErrInsufficientPoints):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// currentUserID extracts the authenticated user's id from the request
// context. It writes the 401 response itself when there is none.
func currentUserID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	if jwtErr, ok := r.Context().Value(contextkey.JwtErrorKey).(error); ok {
		writeError(w, http.StatusUnauthorized, jwtErr.Error())
		return primitive.NilObjectID, false
	}
	subject, ok := r.Context().Value(contextkey.UserIDKey).(string)
	if !ok || subject == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token subject")
		return primitive.NilObjectID, false
	}
	return id, true
}

// pathID parses the {id} path variable of the current route.
func pathID(r *http.Request) (primitive.ObjectID, error) {
	raw := mux.Vars(r)["id"]
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// publishNotification hands an event to the notification queue. Notification
// delivery is best-effort; a publish failure is logged and never fails the
// request that triggered it.
func (s *Server) publishNotification(userID primitive.ObjectID, kind models.NotificationType, message string, habitID primitive.ObjectID) {
	if s.notifyQueue == nil {
		return
	}
	msg := &queue.NotificationMessage{
		UserID:  userID.Hex(),
		Type:    kind,
		Message: message,
	}
	if !habitID.IsZero() {
		msg.HabitID = habitID.Hex()
	}
	if err := queue.PublishNotification(msg, s.notifyQueue); err != nil {
		log.Printf("failed to publish notification: %v", err)
	}
}

type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// handleRegister creates a user account and issues a token for it. In
// production registration runs through the external identity provider and
// this endpoint only mirrors the account; the issued token makes local
// development and the CLI self-contained.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !utils.ValidateEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	role, err := models.ParseRole(body.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := &models.User{
		Email:       body.Email,
		DisplayName: body.DisplayName,
		Role:        role,
		CreatedAt:   time.Now(),
	}
	user, err = s.store.AddUser(r.Context(), user)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeDomainError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	token, err := auth.CreateToken(user.ID.Hex(), s.tokenTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

// handleSignIn issues a token for an existing account, looked up by email.
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	user, err := s.store.FindUserByEmail(r.Context(), body.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	token, err := auth.CreateToken(user.ID.Hex(), s.tokenTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

// handleMe returns the authenticated user's profile, including the current
// point balance.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	user, err := s.store.FindUserByID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleCreateHousehold pairs the authenticated user with a partner, looked
// up by email. Each user can belong to at most one household.
func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var body struct {
		PartnerEmail string `json:"partnerEmail"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	ctx := r.Context()
	if _, err := s.store.FindHouseholdByMember(ctx, userID); err == nil {
		writeError(w, http.StatusConflict, "you already belong to a household")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	partner, err := s.store.FindUserByEmail(ctx, body.PartnerEmail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if partner.ID == userID {
		writeError(w, http.StatusBadRequest, "cannot pair a household with yourself")
		return
	}
	if _, err := s.store.FindHouseholdByMember(ctx, partner.ID); err == nil {
		writeError(w, http.StatusConflict, "partner already belongs to a household")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	household := &models.Household{
		Members:   [2]primitive.ObjectID{userID, partner.ID},
		CreatedAt: time.Now(),
	}
	household, err = s.store.AddHousehold(ctx, household)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, memberID := range household.Members {
		if err := s.store.SetUserHousehold(ctx, memberID, household.ID); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, household)
}

type householdResponse struct {
	Household *models.Household `json:"household"`
	Members   []models.User     `json:"members"`
}

// handleMyHousehold returns the authenticated user's household with both
// member profiles resolved.
func (s *Server) handleMyHousehold(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	household, err := s.store.FindHouseholdByMember(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	members := make([]models.User, 0, 2)
	for _, memberID := range household.Members {
		member, err := s.store.FindUserByID(r.Context(), memberID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		members = append(members, *member)
	}
	writeJSON(w, http.StatusOK, householdResponse{Household: household, Members: members})
}

// requireHousehold resolves the authenticated user's household, writing the
// error response itself on failure.
func (s *Server) requireHousehold(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) (*models.Household, bool) {
	household, err := s.store.FindHouseholdByMember(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusConflict, "you are not in a household yet")
		} else {
			writeDomainError(w, err)
		}
		return nil, false
	}
	return household, true
}

// handleCreateHabit creates a habit in the authenticated user's household.
func (s *Server) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	household, ok := s.requireHousehold(w, r, userID)
	if !ok {
		return
	}

	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Frequency   string `json:"frequency"`
		Weekday     *int   `json:"weekday"`
		Points      int    `json:"points"`
		Condition   string `json:"completionCondition"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	habit := &models.Habit{
		HouseholdID: household.ID,
		Title:       body.Title,
		Description: body.Description,
		Frequency:   models.Frequency(body.Frequency),
		Weekday:     body.Weekday,
		Points:      body.Points,
		Condition:   models.Condition(body.Condition),
		CreatedBy:   userID,
		CreatedAt:   time.Now(),
		IsActive:    true,
	}
	if err := habit.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	habit, err := s.store.AddHabit(r.Context(), habit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, habit)
}

// handleListHabits lists the household's active habits.
func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	household, ok := s.requireHousehold(w, r, userID)
	if !ok {
		return
	}
	habits, err := s.store.FindActiveHabits(r.Context(), household.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if habits == nil {
		habits = []models.Habit{}
	}
	writeJSON(w, http.StatusOK, habits)
}

// requireHabit loads a habit and verifies it belongs to the authenticated
// user's household.
func (s *Server) requireHabit(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) (*models.Habit, bool) {
	habitID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	habit, err := s.store.FindHabitByID(r.Context(), habitID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	household, err := s.store.FindHouseholdByID(r.Context(), habit.HouseholdID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if !household.HasMember(userID) {
		writeError(w, http.StatusForbidden, "habit belongs to another household")
		return nil, false
	}
	return habit, true
}

// handleUpdateHabit applies a partial update to a habit. The merged result
// is validated as a whole, so an update can't strand a weekly habit without
// a weekday.
func (s *Server) handleUpdateHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	habit, ok := s.requireHabit(w, r, userID)
	if !ok {
		return
	}

	var body struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Frequency   *string `json:"frequency"`
		Weekday     *int    `json:"weekday"`
		Points      *int    `json:"points"`
		Condition   *string `json:"completionCondition"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	update := models.HabitUpdate{
		Title:       body.Title,
		Description: body.Description,
		Weekday:     body.Weekday,
		Points:      body.Points,
	}
	merged := *habit
	if body.Title != nil {
		merged.Title = *body.Title
	}
	if body.Description != nil {
		merged.Description = *body.Description
	}
	if body.Frequency != nil {
		frequency, err := models.ParseFrequency(*body.Frequency)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.Frequency = &frequency
		merged.Frequency = frequency
	}
	if body.Weekday != nil {
		merged.Weekday = body.Weekday
	}
	if body.Points != nil {
		merged.Points = *body.Points
	}
	if body.Condition != nil {
		condition, err := models.ParseCondition(*body.Condition)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.Condition = &condition
		merged.Condition = condition
	}
	if err := merged.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateHabit(r.Context(), habit.ID, update); err != nil {
		writeDomainError(w, err)
		return
	}
	updated, err := s.store.FindHabitByID(r.Context(), habit.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeactivateHabit soft-deletes a habit. Completion history survives.
func (s *Server) handleDeactivateHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	habit, ok := s.requireHabit(w, r, userID)
	if !ok {
		return
	}
	if err := s.store.DeactivateHabit(r.Context(), habit.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleComplete records the authenticated user's completion of a habit for
// today and returns what the completion settled: whether the day is
// satisfied, who was awarded, and the running streak. Notification events
// fan out to the partner after the settlement is committed.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	habitID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.RecordCompletion(r.Context(), habitID, userID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.notifyCompletion(r, habitID, userID, result)
	writeJSON(w, http.StatusCreated, result)
}

// notifyCompletion publishes the notification events a completion triggers:
// a heads-up to the partner, and a milestone to both partners when the
// streak crosses one of the milestone lengths.
func (s *Server) notifyCompletion(r *http.Request, habitID, userID primitive.ObjectID, result *engine.Result) {
	if s.notifyQueue == nil {
		return
	}
	ctx := r.Context()

	habit, err := s.store.FindHabitByID(ctx, habitID)
	if err != nil {
		log.Printf("failed to resolve habit for notification: %v", err)
		return
	}
	household, err := s.store.FindHouseholdByID(ctx, habit.HouseholdID)
	if err != nil {
		log.Printf("failed to resolve household for notification: %v", err)
		return
	}
	partnerID, _ := household.Partner(userID)
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		log.Printf("failed to resolve user for notification: %v", err)
		return
	}

	if result.FirstOfPair {
		message := fmt.Sprintf("%s completed %q. Your turn to close it out!", user.DisplayName, habit.Title)
		s.publishNotification(partnerID, models.NotificationEncouragement, message, habit.ID)
	} else {
		message := fmt.Sprintf("%s completed %q.", user.DisplayName, habit.Title)
		s.publishNotification(partnerID, models.NotificationHabitCompleted, message, habit.ID)
	}

	if result.Satisfied && streakMilestones[result.Streak] {
		message := fmt.Sprintf("%q has a %d-day streak going. Keep it up!", habit.Title, result.Streak)
		s.publishNotification(userID, models.NotificationStreakMilestone, message, habit.ID)
		s.publishNotification(partnerID, models.NotificationStreakMilestone, message, habit.ID)
	}
}

// handleUncomplete removes the authenticated user's completion of a habit
// for today and applies the compensating deductions the reversal calls for.
func (s *Server) handleUncomplete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	habitID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reversal, err := s.engine.RevertCompletion(r.Context(), habitID, userID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, refundID := range reversal.Refund {
		if _, err := s.ledger.Adjust(r.Context(), refundID, -reversal.Points); err != nil {
			writeDomainError(w, fmt.Errorf("completion removed but deduction failed, balances need repair: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, reversal)
}

// handleStreak returns a habit's current consecutive-day streak.
func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	habit, ok := s.requireHabit(w, r, userID)
	if !ok {
		return
	}
	streak, err := s.engine.Streak(r.Context(), habit.ID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"streak":     streak,
		"windowDays": s.engine.WindowDays(),
	})
}

// handleToday returns the day snapshot of every habit scheduled for today.
func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	household, ok := s.requireHousehold(w, r, userID)
	if !ok {
		return
	}
	statuses, err := s.engine.TodayStatuses(r.Context(), household.ID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if statuses == nil {
		statuses = []engine.HabitStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleStats returns the household's completion rates and streak summary.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	household, ok := s.requireHousehold(w, r, userID)
	if !ok {
		return
	}
	stats, err := s.engine.Stats(r.Context(), household.ID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCreateReward creates a reward in the authenticated user's household.
func (s *Server) handleCreateReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	household, ok := s.requireHousehold(w, r, userID)
	if !ok {
		return
	}

	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		PointCost   int    `json:"pointCost"`
		PointType   string `json:"pointType"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	reward := &models.Reward{
		HouseholdID: household.ID,
		Title:       body.Title,
		Description: body.Description,
		PointCost:   body.PointCost,
		PointType:   models.PointType(body.PointType),
		CreatedBy:   userID,
		CreatedAt:   time.Now(),
	}
	if err := reward.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reward, err := s.store.AddReward(r.Context(), reward)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

// handleListRewards lists the household's rewards. The status query
// parameter selects open (the default), reserved or claimed rewards.
func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	household, ok := s.requireHousehold(w, r, userID)
	if !ok {
		return
	}

	var rewards []models.Reward
	var err error
	switch status := r.URL.Query().Get("status"); status {
	case "", "open":
		rewards, err = s.store.FindOpenRewards(r.Context(), household.ID)
	case "reserved":
		rewards, err = s.store.FindReservedRewards(r.Context(), household.ID)
	case "claimed":
		rewards, err = s.store.FindClaimedRewards(r.Context(), household.ID)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown reward status %q", status))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rewards == nil {
		rewards = []models.Reward{}
	}
	writeJSON(w, http.StatusOK, rewards)
}

// requireReward loads a reward and verifies it belongs to the authenticated
// user's household.
func (s *Server) requireReward(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) (*models.Reward, bool) {
	rewardID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	reward, err := s.store.FindRewardByID(r.Context(), rewardID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	household, err := s.store.FindHouseholdByID(r.Context(), reward.HouseholdID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if !household.HasMember(userID) {
		writeError(w, http.StatusForbidden, "reward belongs to another household")
		return nil, false
	}
	return reward, true
}

// handleUpdateReward applies a partial update to an unclaimed reward.
func (s *Server) handleUpdateReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	reward, ok := s.requireReward(w, r, userID)
	if !ok {
		return
	}
	if reward.Claimed() {
		writeError(w, http.StatusConflict, "claimed rewards cannot be edited")
		return
	}

	var body struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		PointCost   *int    `json:"pointCost"`
		PointType   *string `json:"pointType"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	update := models.RewardUpdate{
		Title:       body.Title,
		Description: body.Description,
		PointCost:   body.PointCost,
	}
	if body.PointType != nil {
		pointType, err := models.ParsePointType(*body.PointType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		update.PointType = &pointType
	}

	if err := s.store.UpdateReward(r.Context(), reward.ID, update); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDomainError(w, err)
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	updated, err := s.store.FindRewardByID(r.Context(), reward.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteReward removes an unclaimed reward. Claimed rewards are the
// household's redemption history and stay put.
func (s *Server) handleDeleteReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	reward, ok := s.requireReward(w, r, userID)
	if !ok {
		return
	}
	if reward.Claimed() {
		writeError(w, http.StatusConflict, "claimed rewards cannot be deleted")
		return
	}
	if _, err := s.store.DeleteReward(r.Context(), reward.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReserveReward marks a reward as reserved by the authenticated user.
func (s *Server) handleReserveReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	rewardID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.settlement.Reserve(r.Context(), rewardID, userID, time.Now()); err != nil {
		writeDomainError(w, err)
		return
	}
	reward, err := s.store.FindRewardByID(r.Context(), rewardID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

// handleUnreserveReward clears a reward's reservation. Either partner may
// cancel it.
func (s *Server) handleUnreserveReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	reward, ok := s.requireReward(w, r, userID)
	if !ok {
		return
	}
	if err := s.settlement.Unreserve(r.Context(), reward.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	updated, err := s.store.FindRewardByID(r.Context(), reward.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleClaimReward redeems a reward for the authenticated user and returns
// how the cost was settled across the two balances.
func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	rewardID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.settlement.Claim(r.Context(), rewardID, userID, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListNotifications returns the authenticated user's notifications,
// most recent first.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	notifications, err := s.store.FindNotificationsByUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// handleMarkNotificationRead marks one of the user's notifications as read.
func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUserID(w, r); !ok {
		return
	}
	notificationID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), notificationID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
