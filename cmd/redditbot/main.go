package main

import (
	"os"

	"github.com/qepting91/redditbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
