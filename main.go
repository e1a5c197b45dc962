package main

import (
	"github.com/jghoshh/tandem/backend"
	"github.com/jghoshh/tandem/frontend"
)

func main() {
	// Run the backend server in the background and hand the terminal to
	// the CLI frontend.
	go backend.RunBackend()
	frontend.RunFrontend()
}
