package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sidecar-core/sidecar/internal/audit"
	"github.com/sidecar-core/sidecar/internal/autoapprove"
	"github.com/sidecar-core/sidecar/internal/buildinfo"
	"github.com/sidecar-core/sidecar/internal/config"
	"github.com/sidecar-core/sidecar/internal/core"
	"github.com/sidecar-core/sidecar/internal/detect"
	"github.com/sidecar-core/sidecar/internal/detectctx"
	"github.com/sidecar-core/sidecar/internal/ipc"
	"github.com/sidecar-core/sidecar/internal/paneadapter"
	"github.com/sidecar-core/sidecar/internal/poller"
	"github.com/sidecar-core/sidecar/internal/procinfo"
	"github.com/sidecar-core/sidecar/internal/sender"
	"github.com/sidecar-core/sidecar/internal/statedir"
	"github.com/sidecar-core/sidecar/internal/statestore"
	"github.com/sidecar-core/sidecar/internal/team"
	"github.com/sidecar-core/sidecar/internal/wrapper"
)

const appName = "sidecar"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runDaemon(os.Args[2:]))
	case "wrap":
		os.Exit(runWrap(os.Args[2:]))
	case "audit":
		os.Exit(runAudit(os.Args[2:]))
	case "version", "-v", "--version":
		fmt.Println(appName, buildinfo.Get())
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s <command> [flags]

commands:
  run              start the observation daemon
  wrap <cmd> ...   run an agent CLI under the PTY wrapper
  audit            print the audit log, rotated file first
  version          print the version
`, appName)
}

// openLogFile routes slog to the state-dir log file; stderr stays free for
// the wrapped child's terminal passthrough.
func openLogFile(dir string, debug bool) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	f, err := os.OpenFile(statedir.LogPath(dir, appName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), f
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (default ~/.config/sidecar/daemon.json)")
	debugFlag := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	cfg, err := config.LoadFrom(firstNonEmpty(*configPath, config.DefaultPath()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: config: %v (continuing with defaults)\n", appName, err)
	}

	dir := cfg.StateDir
	if dir == "" {
		if dir, err = statedir.Resolve(appName); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
			return 1
		}
	}
	logger, logCloser := openLogFile(dir, *debugFlag)
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	sockPath := statedir.SocketPath(dir)
	if ipc.ProbeStale(sockPath) {
		fmt.Fprintf(os.Stderr, "%s: another instance is already running on %s\n", appName, sockPath)
		return 1
	}
	listener, err := ipc.Listen(sockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	defer os.Remove(sockPath)

	auditDir, err := statedir.AuditDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	auditPipe := audit.New(auditDir, cfg.AuditRotateBytes, logger)
	auditPipe.Start()
	defer auditPipe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ipcServer := ipc.NewServer(logger)
	go func() {
		if err := ipcServer.Serve(ctx, listener); err != nil {
			logger.Warn("ipc: serve ended", "err", err)
		}
	}()

	store := statestore.New()
	adapter := paneadapter.New()
	procs := procinfo.New()
	stopSweep := procs.StartCleanup()
	defer stopSweep()
	registry := detect.NewRegistry()
	settings := detectctx.NewSettingsCache()
	gitCache := detectctx.NewGitCache()
	cmdSender := sender.New(store, ipcServer, adapter)
	facade := core.New(store, cmdSender, ipcServer, cfg, registry, auditPipe)

	if cwd, err := os.Getwd(); err == nil {
		facade.SetAgentDefinitions(team.ScanAgentDefinitions(cwd))
	}

	teams := team.NewScanner(team.DefaultRoot(), logger)
	teamWake, err := teams.Watch(ctx)
	if err != nil {
		logger.Debug("team: watcher unavailable, relying on periodic scan", "err", err)
	}

	p := poller.New(adapter, procs, registry, settings, gitCache, ipcServer, store, auditPipe, facade, logger)
	p.Interval = cfg.PollInterval
	p.CaptureLines = cfg.CaptureLines
	p.TeamScanner = teams
	p.TeamWake = teamWake

	if mode := autoapprove.ParseMode(cfg.AutoApproveMode); mode != autoapprove.ModeOff {
		var provider autoapprove.JudgmentProvider
		if mode == autoapprove.ModeAi || mode == autoapprove.ModeHybrid {
			provider = autoapprove.NewCLIJudge(cfg.AutoApproveModel, cfg.AutoApproveCommand)
		}
		svc := autoapprove.New(mode, nil, provider, cmdSender, store, registry, logger)
		sub := facade.Subscribe()
		defer facade.Unsubscribe(sub)
		go svc.Run(ctx, sub.C)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("daemon: shutting down")
		facade.Shutdown()
		cancel()
	}()

	logger.Info("daemon: started", "version", buildinfo.Get(), "state_dir", dir)
	p.Run(ctx)
	return 0
}

func runWrap(args []string) int {
	fs := flag.NewFlagSet("wrap", flag.ExitOnError)
	paneID := fs.String("pane-id", os.Getenv("TMUX_PANE"), "multiplexer pane id to register as")
	teamName := fs.String("team", "", "team name")
	memberName := fs.String("member", "", "team member name")
	isLead := fs.Bool("lead", false, "register as team lead")
	noExfil := fs.Bool("no-exfil", false, "disable the exfiltration detector")
	debugFlag := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	command := fs.Args()
	if len(command) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s wrap [flags] <command> [args...]\n", appName)
		return 2
	}

	dir, err := statedir.Resolve(appName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	logger, logCloser := openLogFile(dir, *debugFlag)
	if logCloser != nil {
		defer logCloser.Close()
	}

	opts := wrapper.Options{
		Command:       command,
		PaneID:        *paneID,
		SocketPath:    statedir.SocketPath(dir),
		StateFilePath: filepath.Join(dir, fmt.Sprintf("wrap-%d.json", os.Getpid())),
		IsTeamLead:    *isLead,
		ExfilEnabled:  !*noExfil,
		Logger:        logger,
	}
	if *teamName != "" {
		opts.TeamName = teamName
	}
	if *memberName != "" {
		opts.TeamMemberName = memberName
	}
	defer os.Remove(opts.StateFilePath)

	code, err := wrapper.New(opts).Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: wrap: %v\n", appName, err)
	}
	return code
}

func runAudit(args []string) int {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	noColor := fs.Bool("no-color", false, "disable colour output")
	fs.Parse(args)

	dir, err := statedir.Resolve(appName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	auditDir, err := statedir.AuditDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	events, err := audit.ReadAll(auditDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: audit: %v\n", appName, err)
		return 1
	}
	color := audit.ColorEnabled() && !*noColor
	if err := audit.Render(os.Stdout, events, color); err != nil {
		fmt.Fprintf(os.Stderr, "%s: audit: %v\n", appName, err)
		return 1
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
