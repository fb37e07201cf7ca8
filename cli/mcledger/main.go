package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mutualcredit/mcledger/cli/mcledger/cmd"
	"github.com/mutualcredit/mcledger/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.New(logger.New).Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcledger: %v\n", err)
		os.Exit(1)
	}
}
