//go:build linux

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/process/linux"
)

func registerTarget(registry *process.Registry, pid int, name string) (string, error) {
	if pid == 0 {
		if name == "" {
			return "", fmt.Errorf("--pid or --process is required")
		}
		pids, err := linux.Find(name)
		if err != nil {
			return "", err
		}
		if len(pids) > 1 {
			log.Warn("several processes match, using the first", "process", name, "pids", pids)
		}
		pid = pids[0]
	}
	key := strconv.Itoa(pid)
	registry.Register(key, linux.Opener(pid))
	return key, nil
}

func findProcesses(name string) ([]int, error) {
	return linux.Find(name)
}
