// Command syncctl is the administrative CLI for the sync engine: it
// initializes configuration, reports queue and transfer status, retries
// failed transfers, and can run the signer HTTP service for local
// development.
package main

import (
	"os"

	"github.com/nimbusfs/syncengine/cmd/syncctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
