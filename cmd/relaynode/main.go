package main

import (
	"os"

	"github.com/relaynode/relaynode/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
