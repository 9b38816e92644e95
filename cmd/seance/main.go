// Package main provides the seance entrypoint.
package main

import (
	"os"

	"github.com/harun/seance/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
