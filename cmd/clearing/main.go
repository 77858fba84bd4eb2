// Package main is the entry point for the clearing CLI.
package main

import (
	"os"

	"github.com/shunichi-ikebuchi/clearing-engine/cmd/clearing/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
