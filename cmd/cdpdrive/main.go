package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"cdpdrive/internal/config"
	"cdpdrive/internal/logger"
	"cdpdrive/internal/netmgr"
	"cdpdrive/pkg/api"
)

func main() {
	var (
		configPath string
		devtools   string
		target     string
		mode       string
		block      string
		auth       string
		userAgent  string
		offline    bool
		waitIdle   bool
		recent     int
	)

	flag.StringVar(&configPath, "config", "cdpdrive.yaml", "Config file path")
	flag.StringVar(&devtools, "devtools", "", "DevTools endpoint URL (overrides config)")
	flag.StringVar(&target, "target", "", "Target page id (first page when empty)")
	flag.StringVar(&mode, "mode", "", "Interception mode: modern or legacy")
	flag.StringVar(&block, "block", "", "Comma-separated URL patterns to abort")
	flag.StringVar(&auth, "auth", "", "HTTP auth credentials as user:pass")
	flag.StringVar(&userAgent, "ua", "", "User agent override")
	flag.BoolVar(&offline, "offline", false, "Emulate offline")
	flag.BoolVar(&waitIdle, "wait-idle", false, "Exit once the network goes idle")
	flag.IntVar(&recent, "recent", 0, "Print the N most recent archived requests and exit")
	flag.Parse()

	if err := run(configPath, devtools, target, mode, block, auth, userAgent, offline, waitIdle, recent); err != nil {
		color.Red("cdpdrive: %v", err)
		os.Exit(1)
	}
}

func run(configPath, devtools, target, mode, block, auth, userAgent string, offline, waitIdle bool, recent int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if devtools != "" {
		cfg.DevTools.URL = devtools
	}
	if target != "" {
		cfg.DevTools.Target = target
	}
	if mode != "" {
		cfg.DevTools.InterceptMode = mode
	}

	log := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	svc, err := api.NewService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	if recent > 0 {
		return printRecent(svc, recent)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := svc.StartSession(ctx)
	if err != nil {
		return err
	}
	color.Green("attached to %s (session %s)", cfg.DevTools.URL, id)

	mgr, err := svc.Network(id)
	if err != nil {
		return err
	}

	if auth != "" {
		user, pass, ok := strings.Cut(auth, ":")
		if !ok {
			return fmt.Errorf("-auth wants user:pass, got %q", auth)
		}
		if err := svc.Authenticate(ctx, id, user, pass); err != nil {
			return err
		}
	}
	if userAgent != "" {
		if err := mgr.SetUserAgent(ctx, userAgent); err != nil {
			return err
		}
	}
	if offline {
		if err := mgr.SetOfflineMode(ctx, true); err != nil {
			return err
		}
	}

	var blocked []string
	if block != "" {
		blocked = strings.Split(block, ",")
		if err := svc.SetInterception(ctx, id, true); err != nil {
			return err
		}
	}

	mgr.OnRequest(func(r *netmgr.Request) {
		for _, pattern := range blocked {
			if netmgr.MatchURL(r.URL(), strings.TrimSpace(pattern)) {
				if err := r.Abort(ctx, "blocked-by-client"); err != nil {
					log.Err(err, "abort failed", "url", r.URL())
				}
				color.Yellow("✗ %-6s %s (blocked)", r.Method(), r.URL())
				return
			}
		}
		if len(blocked) > 0 {
			if err := r.Continue(ctx, nil); err != nil {
				log.Err(err, "continue failed", "url", r.URL())
			}
		}
		fmt.Printf("→ %-6s %s\n", r.Method(), r.URL())
	})
	mgr.OnResponse(func(r *netmgr.Response) {
		line := fmt.Sprintf("← %3d %s %s", r.Status(), r.StatusText(), r.URL())
		if r.OK() {
			color.Green("%s", line)
		} else {
			color.Red("%s", line)
		}
	})
	mgr.OnRequestFailed(func(r *netmgr.Request) {
		color.Red("✗ %-6s %s: %s", r.Method(), r.URL(), r.Failure())
	})

	if waitIdle {
		if err := svc.WaitForIdle(ctx, id); err != nil {
			return err
		}
		color.Cyan("network idle")
		return nil
	}

	<-ctx.Done()
	return nil
}

func printRecent(svc api.Service, n int) error {
	records, err := svc.RecentRecords(n)
	if err != nil {
		return err
	}
	for _, rec := range records {
		when := rec.CreatedAt.Format(time.RFC3339)
		if rec.FailureText != "" {
			color.Red("%s  %-6s %s: %s", when, rec.Method, rec.RequestURL, rec.FailureText)
			continue
		}
		fmt.Printf("%s  %3d %-6s %s\n", when, rec.Status, rec.Method, rec.RequestURL)
	}
	return nil
}
