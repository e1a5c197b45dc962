package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jghoshh/tandem/backend/engine"
	"github.com/jghoshh/tandem/backend/ledger"
	"github.com/jghoshh/tandem/backend/models"
	"github.com/jghoshh/tandem/backend/server/auth"
	"github.com/jghoshh/tandem/backend/settlement"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	auth.InitAuth("test-signing-key")
	os.Exit(m.Run())
}

// newTestServer builds a Server on the in-memory backend with the
// notification queue disabled.
func newTestServer() *Server {
	store := storage.NewMemoryStorage()
	pointsLedger := ledger.New(store)
	completionEngine := engine.New(store, pointsLedger, 0)
	rewardSettlement := settlement.New(store, pointsLedger)
	return NewServer(store, completionEngine, pointsLedger, rewardSettlement, nil)
}

// do performs one request against the server's router and decodes the JSON
// response into out when out is non-nil.
func do(t *testing.T, router http.Handler, method, path, token string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if out != nil && recorder.Code < 300 {
		require.NoError(t, json.NewDecoder(recorder.Body).Decode(out))
	}
	return recorder
}

// register creates an account through the API and returns the user and a
// usable bearer token.
func register(t *testing.T, router http.Handler, email, name, role string) (*models.User, string) {
	t.Helper()
	var resp struct {
		User  *models.User `json:"user"`
		Token string       `json:"token"`
	}
	recorder := do(t, router, "POST", "/auth/register", "", map[string]string{
		"email":       email,
		"displayName": name,
		"role":        role,
	}, &resp)
	require.Equal(t, http.StatusCreated, recorder.Code)
	require.NotEmpty(t, resp.Token)
	return resp.User, resp.Token
}

// pairHousehold registers two users and forms their household, returning
// both tokens.
func pairHousehold(t *testing.T, router http.Handler) (string, string) {
	t.Helper()
	_, aliceToken := register(t, router, "alice@example.com", "Alice", "partner_a")
	_, bobToken := register(t, router, "bob@example.com", "Bob", "partner_b")

	recorder := do(t, router, "POST", "/households", aliceToken, map[string]string{
		"partnerEmail": "bob@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)
	return aliceToken, bobToken
}

func TestMeRequiresAuthentication(t *testing.T) {
	router := newTestServer().Router()

	recorder := do(t, router, "GET", "/me", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = do(t, router, "GET", "/me", "garbage-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRegisterAndMe(t *testing.T) {
	router := newTestServer().Router()
	user, token := register(t, router, "alice@example.com", "Alice", "partner_a")

	var me models.User
	recorder := do(t, router, "GET", "/me", token, nil, &me)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, user.ID, me.ID)
	assert.Equal(t, "Alice", me.DisplayName)
	assert.Zero(t, me.Points)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	router := newTestServer().Router()

	recorder := do(t, router, "POST", "/auth/register", "", map[string]string{
		"email": "not-an-email", "displayName": "X", "role": "partner_a",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = do(t, router, "POST", "/auth/register", "", map[string]string{
		"email": "a@example.com", "displayName": "X", "role": "roommate",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	router := newTestServer().Router()
	register(t, router, "alice@example.com", "Alice", "partner_a")

	recorder := do(t, router, "POST", "/auth/register", "", map[string]string{
		"email": "alice@example.com", "displayName": "Alice Again", "role": "partner_a",
	}, nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestHouseholdPairingRules(t *testing.T) {
	router := newTestServer().Router()
	aliceToken, _ := pairHousehold(t, router)

	// Already paired.
	recorder := do(t, router, "POST", "/households", aliceToken, map[string]string{
		"partnerEmail": "bob@example.com",
	}, nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)

	// A third user cannot pair with someone already in a household.
	_, carolToken := register(t, router, "carol@example.com", "Carol", "partner_a")
	recorder = do(t, router, "POST", "/households", carolToken, map[string]string{
		"partnerEmail": "bob@example.com",
	}, nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestCompletionFlow(t *testing.T) {
	router := newTestServer().Router()
	aliceToken, bobToken := pairHousehold(t, router)

	var habit models.Habit
	recorder := do(t, router, "POST", "/habits", aliceToken, map[string]interface{}{
		"title":               "Evening walk",
		"frequency":           "daily",
		"points":              5,
		"completionCondition": "both",
	}, &habit)
	require.Equal(t, http.StatusCreated, recorder.Code)

	// First half of the pair: recorded, not yet awarded.
	var first engine.Result
	recorder = do(t, router, "POST", "/habits/"+habit.ID.Hex()+"/complete", aliceToken, nil, &first)
	require.Equal(t, http.StatusCreated, recorder.Code)
	assert.True(t, first.FirstOfPair)
	assert.False(t, first.Satisfied)

	// Double-tap is rejected.
	recorder = do(t, router, "POST", "/habits/"+habit.ID.Hex()+"/complete", aliceToken, nil, nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)

	// The partner closes the day and both are awarded.
	var second engine.Result
	recorder = do(t, router, "POST", "/habits/"+habit.ID.Hex()+"/complete", bobToken, nil, &second)
	require.Equal(t, http.StatusCreated, recorder.Code)
	assert.True(t, second.Satisfied)
	assert.Len(t, second.AwardedTo, 2)

	var me models.User
	do(t, router, "GET", "/me", aliceToken, nil, &me)
	assert.Equal(t, 5, me.Points)

	// Undo by one partner refunds both.
	var reversal engine.Reversal
	recorder = do(t, router, "POST", "/habits/"+habit.ID.Hex()+"/uncomplete", bobToken, nil, &reversal)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, reversal.Removed)
	assert.Len(t, reversal.Refund, 2)

	do(t, router, "GET", "/me", aliceToken, nil, &me)
	assert.Zero(t, me.Points)
}

func TestTodayAndStats(t *testing.T) {
	router := newTestServer().Router()
	aliceToken, _ := pairHousehold(t, router)

	var habit models.Habit
	recorder := do(t, router, "POST", "/habits", aliceToken, map[string]interface{}{
		"title":               "Read together",
		"frequency":           "daily",
		"points":              3,
		"completionCondition": "either",
	}, &habit)
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = do(t, router, "POST", "/habits/"+habit.ID.Hex()+"/complete", aliceToken, nil, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var statuses []engine.HabitStatus
	recorder = do(t, router, "GET", "/today", aliceToken, nil, &statuses)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Satisfied)
	assert.Equal(t, 1, statuses[0].Streak)

	var stats engine.Statistics
	recorder = do(t, router, "GET", "/stats", aliceToken, nil, &stats)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, stats.CurrentStreak)
}

func TestRewardFlow(t *testing.T) {
	router := newTestServer().Router()
	aliceToken, bobToken := pairHousehold(t, router)

	// Earn some points first.
	var habit models.Habit
	do(t, router, "POST", "/habits", aliceToken, map[string]interface{}{
		"title":               "Cook dinner",
		"frequency":           "daily",
		"points":              30,
		"completionCondition": "either",
	}, &habit)
	recorder := do(t, router, "POST", "/habits/"+habit.ID.Hex()+"/complete", aliceToken, nil, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var reward models.Reward
	recorder = do(t, router, "POST", "/rewards", aliceToken, map[string]interface{}{
		"title":     "Movie night",
		"pointCost": 25,
		"pointType": "individual",
	}, &reward)
	require.Equal(t, http.StatusCreated, recorder.Code)

	// Bob has no points; his claim is rejected and the reward stays open.
	recorder = do(t, router, "POST", "/rewards/"+reward.ID.Hex()+"/claim", bobToken, nil, nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)

	// Alice reserves, then claims.
	recorder = do(t, router, "POST", "/rewards/"+reward.ID.Hex()+"/reserve", aliceToken, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var claim settlement.ClaimResult
	recorder = do(t, router, "POST", "/rewards/"+reward.ID.Hex()+"/claim", aliceToken, nil, &claim)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 25, claim.UserShare)

	// Claims are terminal.
	recorder = do(t, router, "POST", "/rewards/"+reward.ID.Hex()+"/claim", aliceToken, nil, nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)

	var me models.User
	do(t, router, "GET", "/me", aliceToken, nil, &me)
	assert.Equal(t, 5, me.Points)

	var claimed []models.Reward
	recorder = do(t, router, "GET", "/rewards?status=claimed", aliceToken, nil, &claimed)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, claimed, 1)
	assert.Equal(t, reward.ID, claimed[0].ID)
}

func TestHabitOwnershipEnforced(t *testing.T) {
	router := newTestServer().Router()
	aliceToken, _ := pairHousehold(t, router)

	var habit models.Habit
	do(t, router, "POST", "/habits", aliceToken, map[string]interface{}{
		"title":               "Water plants",
		"frequency":           "daily",
		"points":              2,
		"completionCondition": "either",
	}, &habit)

	// An outsider pair cannot touch the habit.
	_, carolToken := register(t, router, "carol@example.com", "Carol", "partner_a")
	register(t, router, "dave@example.com", "Dave", "partner_b")
	recorder := do(t, router, "POST", "/households", carolToken, map[string]string{
		"partnerEmail": "dave@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = do(t, router, "DELETE", "/habits/"+habit.ID.Hex(), carolToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = do(t, router, "POST", "/habits/"+habit.ID.Hex()+"/complete", carolToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}
