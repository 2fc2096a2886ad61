//go:build !linux

package main

import (
	"fmt"
	"runtime"

	"github.com/hupe1980/memgo/process"
)

func registerTarget(*process.Registry, int, string) (string, error) {
	return "", fmt.Errorf("attaching to processes is not supported on %s", runtime.GOOS)
}

func findProcesses(string) ([]int, error) {
	return nil, fmt.Errorf("listing processes is not supported on %s", runtime.GOOS)
}
