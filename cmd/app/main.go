package main

import (
	"fmt"
	"os"

	_ "net/http/pprof" // For pprof profiling on the watch metrics server
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
