// Package client is the REST client the CLI frontend talks to the backend
// through. The signed-in token lives in the system keyring, so a session
// survives the shell but never touches disk in plain text.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/jghoshh/tandem/backend/engine"
	"github.com/jghoshh/tandem/backend/models"
	"github.com/jghoshh/tandem/backend/settlement"
	"github.com/zalando/go-keyring"
)

// jwtSigningKey is used to verify JWT tokens client-side before use.
var jwtSigningKey string

// KeyringKey is used to store and retrieve the JWT token from the system keyring.
var KeyringKey string

// ServerURL is the URL of the server the client is connecting to.
var ServerURL string

// httpClient is the HTTP client used to make requests to the server.
var httpClient = &http.Client{Timeout: 15 * time.Second}

// KeyringService is the name of the service in the system keyring where the JWT token is stored.
const KeyringService = "Tandem"

// InitClient initializes the package-level configuration. This function must
// be called before using any other functions in the package.
func InitClient(serverURL, signingKey, authToken string) {
	ServerURL = serverURL
	jwtSigningKey = signingKey
	KeyringKey = authToken
}

// decodeJWT decodes a JWT token and returns the claims contained within it.
// Returns the claims if the token is valid, else an error.
func decodeJWT(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// storeToken stores the JWT token in the system keyring.
func storeToken(token string) error {
	if err := keyring.Set(KeyringService, KeyringKey, token); err != nil {
		return errors.New("failed to store token in keyring: " + err.Error())
	}
	return nil
}

// ClearKeyring clears the JWT token from the system keyring.
func ClearKeyring() error {
	err := keyring.Delete(KeyringService, KeyringKey)
	if err != nil && err != keyring.ErrNotFound {
		return errors.New("failed to clear keyring: " + err.Error())
	}
	return nil
}

// IsUserAuthenticated checks if a valid JWT token exists in the system
// keyring. If a valid token is found it is returned; an expired or invalid
// token is cleared and an empty string is returned.
func IsUserAuthenticated() (string, error) {
	tokenStr, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", nil
		}
		return "", errors.New("failed to access keyring: " + err.Error())
	}

	if _, err := decodeJWT(tokenStr); err != nil {
		ClearKeyring()
		return "", nil
	}
	return tokenStr, nil
}

// errorResponse mirrors the backend's error body.
type errorResponse struct {
	Error string `json:"error"`
}

// request performs one JSON round trip against the backend. A stored token,
// when present, rides along in the Authorization header. Non-2xx responses
// are turned into errors carrying the backend's message.
func request(method, path string, body interface{}, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(encoded)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, ServerURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := IsUserAuthenticated()
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.New("failed to reach server: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return errors.New(errResp.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.New("failed to decode server response: " + err.Error())
		}
	}
	return nil
}

// authResponse mirrors the backend's register/signin body.
type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates an account and stores the issued token in the keyring.
func Register(email, displayName, role string) (*models.User, error) {
	var resp authResponse
	err := request("POST", "/auth/register", map[string]string{
		"email":       email,
		"displayName": displayName,
		"role":        role,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if err := storeToken(resp.Token); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// SignIn signs into an existing account by email and stores the issued
// token in the keyring.
func SignIn(email string) (*models.User, error) {
	var resp authResponse
	err := request("POST", "/auth/signin", map[string]string{"email": email}, &resp)
	if err != nil {
		return nil, err
	}
	if err := storeToken(resp.Token); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// SignOut clears the stored session token.
func SignOut() error {
	return ClearKeyring()
}

// Me fetches the signed-in user's profile and point balance.
func Me() (*models.User, error) {
	user := &models.User{}
	if err := request("GET", "/me", nil, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateHousehold pairs the signed-in user with the partner behind the
// given email.
func CreateHousehold(partnerEmail string) (*models.Household, error) {
	household := &models.Household{}
	err := request("POST", "/households", map[string]string{"partnerEmail": partnerEmail}, household)
	if err != nil {
		return nil, err
	}
	return household, nil
}

// HouseholdInfo mirrors the backend's household body with both member
// profiles resolved.
type HouseholdInfo struct {
	Household *models.Household `json:"household"`
	Members   []models.User     `json:"members"`
}

// MyHousehold fetches the signed-in user's household.
func MyHousehold() (*HouseholdInfo, error) {
	info := &HouseholdInfo{}
	if err := request("GET", "/households/me", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// HabitInput carries the fields for creating a habit.
type HabitInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Frequency   string `json:"frequency"`
	Weekday     *int   `json:"weekday,omitempty"`
	Points      int    `json:"points"`
	Condition   string `json:"completionCondition"`
}

// CreateHabit creates a habit in the signed-in user's household.
func CreateHabit(input HabitInput) (*models.Habit, error) {
	habit := &models.Habit{}
	if err := request("POST", "/habits", input, habit); err != nil {
		return nil, err
	}
	return habit, nil
}

// Habits lists the household's active habits.
func Habits() ([]models.Habit, error) {
	var habits []models.Habit
	if err := request("GET", "/habits", nil, &habits); err != nil {
		return nil, err
	}
	return habits, nil
}

// DeactivateHabit soft-deletes a habit.
func DeactivateHabit(habitID string) error {
	return request("DELETE", "/habits/"+habitID, nil, nil)
}

// CompleteHabit marks a habit done for today and returns what the
// completion settled.
func CompleteHabit(habitID string) (*engine.Result, error) {
	result := &engine.Result{}
	if err := request("POST", "/habits/"+habitID+"/complete", nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// UncompleteHabit removes today's completion of a habit.
func UncompleteHabit(habitID string) (*engine.Reversal, error) {
	reversal := &engine.Reversal{}
	if err := request("POST", "/habits/"+habitID+"/uncomplete", nil, reversal); err != nil {
		return nil, err
	}
	return reversal, nil
}

// StreakInfo mirrors the backend's streak body.
type StreakInfo struct {
	Streak     int `json:"streak"`
	WindowDays int `json:"windowDays"`
}

// Streak fetches a habit's current consecutive-day streak.
func Streak(habitID string) (*StreakInfo, error) {
	info := &StreakInfo{}
	if err := request("GET", "/habits/"+habitID+"/streak", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Today fetches the day snapshot of every habit scheduled for today.
func Today() ([]engine.HabitStatus, error) {
	var statuses []engine.HabitStatus
	if err := request("GET", "/today", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Stats fetches the household's completion rates and streak summary.
func Stats() (*engine.Statistics, error) {
	stats := &engine.Statistics{}
	if err := request("GET", "/stats", nil, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// RewardInput carries the fields for creating a reward.
type RewardInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PointCost   int    `json:"pointCost"`
	PointType   string `json:"pointType"`
}

// CreateReward creates a reward in the signed-in user's household.
func CreateReward(input RewardInput) (*models.Reward, error) {
	reward := &models.Reward{}
	if err := request("POST", "/rewards", input, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// Rewards lists the household's rewards with the given status: open,
// reserved or claimed. An empty status lists open rewards.
func Rewards(status string) ([]models.Reward, error) {
	path := "/rewards"
	if status != "" {
		path += "?status=" + status
	}
	var rewards []models.Reward
	if err := request("GET", path, nil, &rewards); err != nil {
		return nil, err
	}
	return rewards, nil
}

// ReserveReward marks a reward as reserved by the signed-in user.
func ReserveReward(rewardID string) (*models.Reward, error) {
	reward := &models.Reward{}
	if err := request("POST", "/rewards/"+rewardID+"/reserve", nil, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// UnreserveReward clears a reward's reservation.
func UnreserveReward(rewardID string) (*models.Reward, error) {
	reward := &models.Reward{}
	if err := request("POST", "/rewards/"+rewardID+"/unreserve", nil, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// ClaimReward redeems a reward and returns how the cost was settled across
// the two balances.
func ClaimReward(rewardID string) (*settlement.ClaimResult, error) {
	result := &settlement.ClaimResult{}
	if err := request("POST", "/rewards/"+rewardID+"/claim", nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Notifications fetches the signed-in user's notifications, most recent
// first.
func Notifications() ([]models.Notification, error) {
	var notifications []models.Notification
	if err := request("GET", "/notifications", nil, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkNotificationRead marks one notification as read.
func MarkNotificationRead(notificationID string) error {
	return request("POST", "/notifications/"+notificationID+"/read", nil, nil)
}
