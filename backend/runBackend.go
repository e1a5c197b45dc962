// Package backend assembles the storage, queue and domain services and runs
// the REST server.
package backend

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jghoshh/tandem/backend/engine"
	"github.com/jghoshh/tandem/backend/ledger"
	"github.com/jghoshh/tandem/backend/notifications"
	"github.com/jghoshh/tandem/backend/queue"
	"github.com/jghoshh/tandem/backend/server"
	"github.com/jghoshh/tandem/backend/settlement"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"github.com/joho/godotenv"
)

// RunBackend is the main function that sets up and runs the backend server.
func RunBackend() {

	// Load the .env file.
	err := godotenv.Load("backend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables from the .env file using os.Getenv.
	signingKey := os.Getenv("JWT_SIGNING_KEY")  // JWT signing key for token verification
	serverURL := os.Getenv("SERVER_URL")        // The URL where the server is running
	dbURI := os.Getenv("MONGODB_URI")           // MongoDB database URI
	dbName := os.Getenv("DB_NAME")              // The name of the MongoDB database
	redisURL := os.Getenv("REDIS_URL")          // The Redis URL for the notification dedup cache
	rabbitMQURL := os.Getenv("RABBITMQ_URL")    // The URL for the RabbitMQ message broker
	windowDays := streakWindowDaysFromEnv()     // How far back the streak scan walks
	numNotificationProducers := 1               // The number of notification producers
	numNotificationConsumers := 2               // The number of notification consumers
	ctx := context.Background()                 // Create a new context

	// Connect the persistent storage backend.
	store, err := storage.NewStorage(dbName, dbURI)
	if err != nil {
		log.Fatal("error connecting to storage: ", err)
	}

	// Wire the notification service to its storage backend.
	notifications.InitNotificationService(store)

	// Initialize the notification dedup cache using the Redis URL.
	dedupCache := queue.InitNotificationCache(redisURL)

	// Build the notification queue and start its consumers.
	notificationQueue := queue.BuildNotificationQueue(rabbitMQURL, numNotificationProducers, numNotificationConsumers, dedupCache)
	_, _, err = notificationQueue.StartConsumers(ctx)
	if err != nil {
		log.Fatal("error starting queue consumers: ", err)
	}

	// Assemble the domain services on top of the storage backend.
	pointsLedger := ledger.New(store)
	completionEngine := engine.New(store, pointsLedger, windowDays)
	rewardSettlement := settlement.New(store, pointsLedger)

	// Start the core server.
	srv := server.NewServer(store, completionEngine, pointsLedger, rewardSettlement, notificationQueue)
	go srv.Start(serverURL, signingKey)

	// Setting up the signal interrupt handler to gracefully shutdown our server
	sigs := make(chan os.Signal, 1)

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		fmt.Println()
		fmt.Println(sig)
		if err := store.Disconnect(); err != nil {
			log.Println("error disconnecting storage: ", err)
		}
		os.Exit(0)
	}()

	select {}
}

// streakWindowDaysFromEnv reads STREAK_WINDOW_DAYS, falling back to the
// engine default when unset or unparsable.
func streakWindowDaysFromEnv() int {
	raw := os.Getenv("STREAK_WINDOW_DAYS")
	if raw == "" {
		return engine.DefaultStreakWindowDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		log.Printf("invalid STREAK_WINDOW_DAYS %q, using default", raw)
		return engine.DefaultStreakWindowDays
	}
	return days
}
