// Package server exposes the backend over a JSON REST API. Every route runs
// behind the JWT, recovery, CORS and logging middleware; handlers read the
// authenticated user out of the request context and translate domain errors
// into HTTP status codes.
package server

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jghoshh/tandem/backend/engine"
	"github.com/jghoshh/tandem/backend/ledger"
	"github.com/jghoshh/tandem/backend/queue"
	"github.com/jghoshh/tandem/backend/server/auth"
	"github.com/jghoshh/tandem/backend/server/contextkey"
	"github.com/jghoshh/tandem/backend/settlement"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
)

// Server bundles the storage backend, the domain services built on it, and
// the notification queue the handlers publish events to.
type Server struct {
	store       storage.StorageInterface
	engine      *engine.Engine
	ledger      *ledger.Ledger
	settlement  *settlement.Settlement
	notifyQueue *queue.Queue
	tokenTTL    time.Duration
}

// NewServer wires a Server from its dependencies. The notification queue
// may be nil, in which case event notifications are skipped.
func NewServer(store storage.StorageInterface, e *engine.Engine, l *ledger.Ledger, s *settlement.Settlement, notifyQueue *queue.Queue) *Server {
	return &Server{
		store:       store,
		engine:      e,
		ledger:      l,
		settlement:  s,
		notifyQueue: notifyQueue,
		tokenTTL:    24 * time.Hour,
	}
}

// jwtMiddleware is a middleware function that performs JWT validation.
//
// It reads the JWT from the Authorization header of the HTTP request. If a
// valid JWT is present, it injects the token's subject (the user's id) into
// the request's context under contextkey.UserIDKey. If verification fails,
// the error is injected under contextkey.JwtErrorKey instead.
//
// The function does not stop the HTTP request processing and always calls
// the next http.Handler regardless of whether a JWT was present and valid.
// It's up to the handlers to interpret the data in the request's context and
// react accordingly.
func jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			splitToken := strings.Split(authHeader, "Bearer ")
			if len(splitToken) == 2 {
				subject, err := auth.VerifyToken(strings.TrimSpace(splitToken[1]))
				if err != nil {
					log.Println("JWT token validation error:", err)
					ctx := context.WithValue(r.Context(), contextkey.JwtErrorKey, err)
					r = r.WithContext(ctx)
				} else {
					ctx := context.WithValue(r.Context(), contextkey.UserIDKey, subject)
					r = r.WithContext(ctx)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware is a middleware function that recovers from panics and
// provides a generic error message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %s\n", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Router builds the full route table. Split out from Start so the handler
// tests can exercise the routes through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/auth/signin", s.handleSignIn).Methods("POST")

	r.HandleFunc("/me", s.handleMe).Methods("GET")

	r.HandleFunc("/households", s.handleCreateHousehold).Methods("POST")
	r.HandleFunc("/households/me", s.handleMyHousehold).Methods("GET")

	r.HandleFunc("/habits", s.handleCreateHabit).Methods("POST")
	r.HandleFunc("/habits", s.handleListHabits).Methods("GET")
	r.HandleFunc("/habits/{id}", s.handleUpdateHabit).Methods("PATCH")
	r.HandleFunc("/habits/{id}", s.handleDeactivateHabit).Methods("DELETE")
	r.HandleFunc("/habits/{id}/complete", s.handleComplete).Methods("POST")
	r.HandleFunc("/habits/{id}/uncomplete", s.handleUncomplete).Methods("POST")
	r.HandleFunc("/habits/{id}/streak", s.handleStreak).Methods("GET")

	r.HandleFunc("/today", s.handleToday).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")

	r.HandleFunc("/rewards", s.handleCreateReward).Methods("POST")
	r.HandleFunc("/rewards", s.handleListRewards).Methods("GET")
	r.HandleFunc("/rewards/{id}", s.handleUpdateReward).Methods("PATCH")
	r.HandleFunc("/rewards/{id}", s.handleDeleteReward).Methods("DELETE")
	r.HandleFunc("/rewards/{id}/reserve", s.handleReserveReward).Methods("POST")
	r.HandleFunc("/rewards/{id}/unreserve", s.handleUnreserveReward).Methods("POST")
	r.HandleFunc("/rewards/{id}/claim", s.handleClaimReward).Methods("POST")

	r.HandleFunc("/notifications", s.handleListNotifications).Methods("GET")
	r.HandleFunc("/notifications/{id}/read", s.handleMarkNotificationRead).Methods("POST")

	return recoveryMiddleware(jwtMiddleware(r))
}

// Start initializes and starts the REST server. The function requires a
// serverURL (the URL where the server must be deployed) and the JWT signing
// key.
func (s *Server) Start(serverURL, signingKey string) {
	auth.InitAuth(signingKey)

	routed := s.Router()

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PATCH", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(routed)

	// Apply the logging middleware
	loggingRouter := handlers.LoggingHandler(os.Stdout, corsRouter)

	u, err := url.Parse(serverURL)
	if err != nil {
		panic(err)
	}

	server := &http.Server{
		Handler:      loggingRouter,
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}
