package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/injector"
)

const Version = "0.1.0"

const usage = `Scene hub server.

Usage:
    server [--config=<path>] [--listen=<addr>]
    server -h | --help
    server --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    YAML configuration file.
    --listen=<addr>    Override server.listen_addr.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	path, _ := opts.String("--config")
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(2)
	}
	if listen, _ := opts.String("--listen"); listen != "" {
		cfg.Server.ListenAddr = listen
	}

	if err = run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := injector.InitializeServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err = srv.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	err = g.Wait()
	_ = srv.Close()
	return err
}
