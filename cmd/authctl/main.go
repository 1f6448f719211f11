package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/sessionkeeper/internal/cli"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(os.Stdin, os.Stdout)
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		code := 2
		if !errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, "error:", err)
			code = 1
		}
		stop()
		os.Exit(code)
	}

}
