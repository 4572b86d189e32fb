// Package main provides the entry point for the agime headless CLI.
package main

import (
	"fmt"
	"os"

	"github.com/jsjm1986/agime/cmd/agime/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
