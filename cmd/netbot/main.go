package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/bdobrica/Netbot/common/environment"
	"github.com/bdobrica/Netbot/common/version"
	"github.com/bdobrica/Netbot/internal/netbot/app"
	"github.com/bdobrica/Netbot/internal/netbot/observability"
)

type Options struct {
	EnvFile   string `long:"env-file" default:".env" description:"dotenv file loaded before reading the environment"`
	LogLevel  string `long:"log-level" description:"debug, info, warn or error (overrides LOG_LEVEL)"`
	LogFormat string `long:"log-format" description:"text or json (overrides LOG_FORMAT)"`
	Version   bool   `long:"version" description:"print version information and exit"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if opts.Version {
		fmt.Println(version.Info())
		return
	}

	if err := environment.LoadFile(opts.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := opts.LogLevel
	if level == "" {
		level = environment.StringOr("LOG_LEVEL", "info")
	}
	format := opts.LogFormat
	if format == "" {
		format = environment.StringOr("LOG_FORMAT", "text")
	}
	observability.Setup(level, format)
	slog.Info("starting", "version", version.Info())

	config, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	netbot, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize netbot: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = netbot.Run(ctx)
	stop()
	netbot.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running netbot: %v\n", err)
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}
