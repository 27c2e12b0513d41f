package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func parseUint(str string) (uint64, error) {
	return strconv.ParseUint(str, 0, 64)
}

// runContext is done on SIGINT, SIGTERM or after 'duration' if it is not 0
func runContext(duration time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	if duration <= 0 {
		return ctx, cancel
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, duration)
	return ctx, func() {
		cancelTimeout()
		cancel()
	}
}
