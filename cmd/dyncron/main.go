// dyncron runs persistent cron schedules on a device whose clock may be
// unset at boot.
//
//	dyncron run      [-c config.yaml]
//	dyncron next     [-n 5] [--from RFC3339] <crontab> | -c config.yaml
//	dyncron validate [-c config.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dyncron/internal/action"
	"dyncron/internal/app"
	"dyncron/internal/config"
	"dyncron/internal/cronexpr"
	"dyncron/internal/schedule"
	logx "dyncron/pkg/logx"

	"github.com/spf13/pflag"
)

// buildEpoch is the firmware build time in unix seconds, set with
// -ldflags "-X main.buildEpoch=$(date +%s)".
var buildEpoch string

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		args = append([]string{"run"}, args...)
	}
	switch args[0] {
	case "run":
		return runDaemon(args[1:])
	case "next":
		return runNext(args[1:], out)
	case "validate":
		return runValidate(args[1:], out)
	case "help":
		fmt.Fprintln(out, "usage: dyncron [run|next|validate] [flags]")
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func configFlag(fs *pflag.FlagSet) *string {
	return fs.StringP("config", "c", "./dyncron.yaml", "path to config (yaml, json or jsonc)")
}

func runDaemon(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.NewApp(*cfgPath, app.WithBuildEpoch(resolveBuildEpoch()))
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(context.Background()); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// resolveBuildEpoch falls back to the executable's modification time when
// the binary was built without the ldflag.
func resolveBuildEpoch() int64 {
	if v, err := strconv.ParseInt(strings.TrimSpace(buildEpoch), 10, 64); err == nil && v > 0 {
		return v
	}
	if exe, err := os.Executable(); err == nil {
		if fi, err := os.Stat(exe); err == nil {
			return fi.ModTime().Unix()
		}
	}
	return 0
}

func runNext(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("next", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "", "preview every schedule in this config")
	n := fs.IntP("count", "n", 5, "number of runs to list")
	from := fs.String("from", "", "start time (RFC 3339 or YYYY-MM-DD; default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := config.ParseTimeField("from", *from)
	if err != nil {
		return err
	}
	if start.IsZero() {
		start = time.Now()
	}

	type item struct{ label, crontab string }
	var items []item
	switch {
	case *cfgPath != "":
		cfg, err := config.NewConfigManager(*cfgPath).Load()
		if err != nil {
			return err
		}
		for _, s := range cfg.Schedules {
			c := strings.TrimSpace(s.Crontab)
			if c == "" {
				c = schedule.DefaultCrontab
			}
			items = append(items, item{label: s.ID, crontab: c})
		}
	case fs.NArg() > 0:
		items = append(items, item{crontab: strings.Join(fs.Args(), " ")})
	default:
		return errors.New("next: a crontab argument or --config is required")
	}

	for _, it := range items {
		expr, err := cronexpr.Parse(it.crontab)
		if err != nil {
			return err
		}
		if it.label != "" {
			fmt.Fprintf(out, "%s (%s)\n", it.label, it.crontab)
		}
		runs := expr.NextN(start.Unix(), *n)
		if len(runs) == 0 {
			fmt.Fprintln(out, "  never")
		}
		for _, r := range runs {
			fmt.Fprintf(out, "  %s\n", time.Unix(r, 0).UTC().Format(time.DateTime))
		}
	}
	return nil
}

func runValidate(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.NewConfigManager(*cfgPath).Load()
	if err != nil {
		return err
	}
	for _, s := range cfg.Schedules {
		if _, err := action.Build(s.ID, s.Action, logx.Nop()); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%s: ok (%d schedules)\n", *cfgPath, len(cfg.Schedules))
	return nil
}
