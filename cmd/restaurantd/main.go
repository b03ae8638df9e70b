// Package main provides restaurantd, the restaurant directory service and
// its operator tooling.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
