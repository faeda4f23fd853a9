// Govd runs the governance core: the decision loop, the HTTP API and, when
// enabled, the NATS event bus.
//
//	govd [-config path] [-env-file path]         run the daemon
//	govd [-config path] [-env-file path] check   validate configuration and exit
//	govd version                                 print build information
//
// Configuration comes from ~/.config/govcore/config.yaml (or .toml), the
// -config file, and GOVCORE_* variables, in increasing precedence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fyrsmithlabs/govcore/internal/config"
	"github.com/fyrsmithlabs/govcore/internal/governance"
	"github.com/fyrsmithlabs/govcore/internal/logging"
	"github.com/fyrsmithlabs/govcore/internal/telemetry"
)

// Set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := govd(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// govd parses args and dispatches. It returns the process exit code.
func govd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("govd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "configuration file (.yaml or .toml)")
	envFile := fs.String("env-file", "", "load GOVCORE_* variables from this file first")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: govd [-config path] [-env-file path] [check|version]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cmd := fs.Arg(0)
	if cmd == "version" {
		fmt.Fprintf(stdout, "govd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		return 0
	}
	if cmd != "" && cmd != "check" {
		fmt.Fprintf(stderr, "govd: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(stderr, "govd: loading %s: %v\n", *envFile, err)
			return 1
		}
	}

	var err error
	if cmd == "check" {
		err = check(*configPath, stdout)
	} else {
		err = run(ctx, *configPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "govd: %v\n", err)
		return 1
	}
	return 0
}

// check loads the configuration and builds every component from it without
// starting anything.
func check(configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCfg := logging.NewDefaultConfig()
	if err := cfg.Unmarshal("logging", logCfg); err != nil {
		return err
	}
	if err := logCfg.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	telCfg := telemetry.NewDefaultConfig()
	if err := cfg.Unmarshal("telemetry", telCfg); err != nil {
		return err
	}
	if err := telCfg.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if _, err := newScrubber(cfg); err != nil {
		return err
	}
	if _, err := governance.New(coreConfig(cfg)); err != nil {
		return fmt.Errorf("governance: %w", err)
	}

	fmt.Fprintf(out, "config ok\n  listen     %s\n  data dir   %s\n  cycle      %s (budget %s)\n  query mode %t\n  nats       %t\n  token      %s\n",
		cfg.Server.Addr(), orNone(cfg.DataDir), cfg.Cycle.Interval, cfg.Cycle.Budget,
		cfg.Cycle.QueryMode, cfg.NATS.Enabled, orNone(cfg.Server.Token.String()))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
