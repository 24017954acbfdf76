package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/root4loot/goutils/log"
)

const author = "@danielantonsen"

func init() {
	log.Init("sharpshot")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
