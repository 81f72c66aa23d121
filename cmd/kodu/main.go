// Package main provides the entry point for the kodu CLI.
package main

import (
	"fmt"
	"os"

	"github.com/kodu-ai/kodu/cmd/kodu/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
