// Package main is the entry point for the cadence CLI.
package main

import (
	"os"

	"github.com/KafClaw/cadence/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
