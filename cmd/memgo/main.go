// Command memgo searches and patches the memory of a running process.
//
//	memgo --process game search -t int4 100
//	memgo --process game search -t int4 95
//	memgo --process game results
//	memgo --process game write --all -t int4 999
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error(err.Error())
		}
		os.Exit(1)
	}
}
