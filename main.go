// Package main is the entry point for the fedlink federation runtime.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/fedlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
