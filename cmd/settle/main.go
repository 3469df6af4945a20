package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"stock-settlement/internal/adapters/cli"
	"stock-settlement/internal/app"
	"stock-settlement/internal/auth"
	"stock-settlement/internal/config"
	"stock-settlement/internal/core"
	"stock-settlement/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 2
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer log.Sync()

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "token" {
		return issueToken(cfg, args[1:])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open runtime", zap.Error(err))
		return 1
	}
	defer rt.Close()

	svc := app.NewAppService(rt.Store, auth.NewTokenProvider(cfg.JWTSecret, cfg.Token), log, app.Options{
		MaxRetries:   cfg.MaxRetries,
		ExpiryWindow: cfg.ExpiryWindow,
		Guard:        rt.Guard,
	})

	if err := cli.Run(ctx, svc, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}

// issueToken prints a signed bearer token for SETTLE_TOKEN.
func issueToken(cfg config.Config, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: settle token <user-id> <owner|admin> [name]")
		return 2
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		return 1
	}
	role, err := core.ParseRole(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	id := core.Identity{UserID: args[0], Role: role}
	if len(args) > 2 {
		id.Name = args[2]
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, id, auth.TokenExpiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
