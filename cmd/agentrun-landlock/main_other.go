//go:build !linux

package main

import (
	"fmt"
	"os"
)

func run(_ []string) int {
	fmt.Fprintln(os.Stderr, "agentrun-landlock: only supported on linux")
	return exitUnavailable
}
