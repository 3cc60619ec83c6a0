package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/zeusync/scenesync/internal/auth"
	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/injector"
)

const Version = "0.1.0"

const usage = `Scene control.

Edits a scene held by a scene hub from the terminal, one command per line.
Type "help" inside the editor for the command list.

Usage:
    scenectl edit <scene> [--config=<path>] [--url=<url>] [--token=<jwt>]
        [--template=<key>] [--view-only]
    scenectl token <subject> --secret=<secret> [--ttl=<ttl>] [--scene=<scene>...]
    scenectl -h | --help
    scenectl --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    YAML configuration file.
    --url=<url>        Hub websocket url, e.g. ws://127.0.0.1:8080/ws.
    --token=<jwt>      Hub access token.
    --template=<key>   Template used to seed a fresh scene.
    --view-only        Open the scene read-only.
    --secret=<secret>  Hub JWT secret.
    --ttl=<ttl>        Token lifetime [default: 24h].
    --scene=<scene>    Restrict the token to this scene. Repeatable.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if edit_, _ := opts.Bool("edit"); edit_ {
		err = edit(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		err = token(opts)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func token(opts docopt.Opts) error {
	subject, _ := opts.String("<subject>")
	secret, _ := opts.String("--secret")
	ttlStr, _ := opts.String("--ttl")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		return fmt.Errorf("invalid --ttl: %w", err)
	}
	var scenes []string
	if v, ok := opts["--scene"].([]string); ok {
		scenes = v
	}

	signed, err := auth.Issue([]byte(secret), subject, ttl, scenes...)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func edit(opts docopt.Opts) error {
	path, _ := opts.String("--config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	sceneID, _ := opts.String("<scene>")
	templateKey, _ := opts.String("--template")
	if viewOnly, _ := opts.Bool("--view-only"); viewOnly {
		cfg.Session.ViewOnly = true
	}

	// The editor always talks to a hub; --url and --token override the file.
	cfg.Store.Backend = config.BackendRemote
	if url, _ := opts.String("--url"); url != "" {
		cfg.Store.HubURL = url
	}
	if tok, _ := opts.String("--token"); tok != "" {
		cfg.Store.Token = tok
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, cleanup, err := injector.InitializeController(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() { _ = ctrl.Close() }()

	sc := scene.New(cfg.SceneOptions())
	if ctrl.Bus() != nil {
		sub, err := ctrl.Bus().Subscribe(sceneID, bus.AnyType, printEvent(os.Stdout))
		if err == nil {
			defer sub.Cancel()
		}
	}

	s, err := ctrl.Open(ctx, cfg.SessionConfig(sceneID, templateKey), sc)
	if err != nil {
		return err
	}

	ed := newEditor(s, sc, os.Stdout)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ed.prompt()
	for {
		select {
		case <-ctx.Done():
			return s.Flush(context.Background())
		case line, ok := <-lines:
			if !ok {
				return s.Flush(context.Background())
			}
			if quit := ed.exec(ctx, line); quit {
				return nil
			}
			ed.prompt()
		}
	}
}
