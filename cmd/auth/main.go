package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	server "github.com/olympstage/olympstage/internal/services/auth/app"
)

func main() {
	log.SetPrefix("[AUTH] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, server.LoadConfigFromEnv()); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
