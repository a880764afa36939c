package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	authcli "github.com/everwith/appcore/internal/cmd/authcli"
	"github.com/everwith/appcore/internal/platform/config"
)

func main() {
	cfg, err := authcli.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := authcli.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("%v", err)
	}
}
