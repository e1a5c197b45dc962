// Package frontend runs the interactive CLI on top of the REST client.
package frontend

import (
	"fmt"
	"os"

	"github.com/jghoshh/tandem/frontend/client"
	"github.com/jghoshh/tandem/frontend/cmd"
	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

func RunFrontend() {
	// Load the .env file
	err := godotenv.Load("frontend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables
	signingKey := os.Getenv("JWT_SIGNING_KEY")
	authToken := os.Getenv("AUTH_TOKEN")
	serverURL := os.Getenv("SERVER_URL")

	if authToken == "" {
		authToken = "tandem_auth_token"
	}

	// Start each session without a stale token
	keyring.Delete(client.KeyringService, authToken)
	client.InitClient(serverURL, signingKey, authToken)
	cmd.InitCmd()
	cmd.Execute()
}
