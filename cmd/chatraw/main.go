// Command chatraw is the entry point for the chatraw retrieval-augmented
// chat backend. It provides a CLI interface (via Cobra) with an HTTP server
// for interactive use and an offline document ingestion command.
package main

import (
	"fmt"
	"os"

	"github.com/chatraw/chatraw/cmd/chatraw/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
