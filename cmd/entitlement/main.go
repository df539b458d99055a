// Package main — CLI клиента подписок: вход, покупка, проверка доступа и фоновый агент.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := newCLI(os.Stdout)
	err := cli.root().ExecuteContext(ctx)
	cli.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.describe(err))
		stop()
		os.Exit(1)
	}
}
