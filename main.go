package main

import (
	"os"

	"github.com/feed-sync/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}