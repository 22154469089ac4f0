package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// exitInterrupted matches the shell convention for SIGINT so cron wrappers can
// tell an interrupted batch from a failed one.
const exitInterrupted = 130

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(exitInterrupted)
		}
		fmt.Fprintln(os.Stderr, "squish:", err)
		os.Exit(1)
	}
}
