// Command plnfit fits Poisson-lognormal models from CSV files and serves
// fits over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "plnfit:", err)
		os.Exit(1)
	}
}
