package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/pushbridge/internal/api"
	"github.com/mattjoyce/pushbridge/internal/auth"
	"github.com/mattjoyce/pushbridge/internal/config"
	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/script"
	"github.com/mattjoyce/pushbridge/internal/session"
	"github.com/mattjoyce/pushbridge/internal/transport/ws"
	"github.com/mattjoyce/pushbridge/internal/tui/watch"
	"github.com/mattjoyce/pushbridge/internal/webhook"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "script":
		return runScriptNoun(args)

	// --- VERBS ---
	case "exec":
		if hasHelpFlag(args) {
			printExecHelp()
			return 0
		}
		return runExec(args)
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: pushbridge version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("pushbridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`pushbridge - push notification and analytics bridge for scripting layers

Usage:
  pushbridge <noun> <action> [flags]
  pushbridge <verb> [flags]

System Commands:
  system start          Run the bridge with its API and WebSocket surface
  system watch          Live activity monitor (TUI)

Config Commands:
  config check          Validate syntax, policy, and integrity
  config lock           Record integrity hashes for the config and resources

Script Commands:
  script run <file>     Run a script against an in-process bridge

Commands:
  exec <action> [args]  Run one bridge command in-process and print the response
  version               Show version information
  help                  Show this help message

Use 'pushbridge <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runScriptNoun(args []string) int {
	if len(args) < 1 {
		printScriptNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printScriptNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "run":
		if hasHelpFlag(actionArgs) {
			printScriptRunHelp()
			return 0
		}
		return runScript(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown script action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pushbridge system <start|watch> [flags]")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pushbridge config <check|lock> [flags]")
}

func printScriptNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pushbridge script run <file> [flags]")
}

func printSystemStartHelp() {
	fmt.Println("Usage: pushbridge system start [--config PATH] [--launch-event JSON]")
	fmt.Println("Run the bridge in the foreground until interrupted.")
	fmt.Println("--launch-event buffers the event that launched the host until a callback registers.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: pushbridge system watch [flags]")
	fmt.Println()
	fmt.Println("Live activity monitor: command outcomes, gate state, and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Bridge API URL (default: http://localhost:8181)")
	fmt.Println("  --api-key KEY    API Bearer Token (or PUSHBRIDGE_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: pushbridge config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration syntax, policy, and integrity.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: pushbridge config lock [--config PATH]")
	fmt.Println("Authorize the current configuration by regenerating its integrity hashes.")
}

func printScriptRunHelp() {
	fmt.Println("Usage: pushbridge script run <file> [--config PATH] [--timeout DURATION]")
	fmt.Println("Evaluate a script with the global `bridge` object and wait for its callbacks.")
}

func printExecHelp() {
	fmt.Println("Usage: pushbridge exec <action> [json-args] [--config PATH]")
	fmt.Println("Run one bridge command in-process. Arguments are a JSON array, e.g.")
	fmt.Println(`  pushbridge exec subscribe '["news"]'`)
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	launchEvent := fs.String("launch-event", "", "JSON object buffered as the launch event")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	var launch session.Payload
	if *launchEvent != "" {
		if err := json.Unmarshal([]byte(*launchEvent), &launch); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --launch-event: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stdout)
	logger := log.WithComponent("main")
	logger.Info("pushbridge starting", "version", version, "config", cfg.Path, "provider", cfg.Provider.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		logger.Error("failed to start runtime", "error", err)
		return 1
	}
	defer rt.Close()

	// The primary plugin is driven by the HTTP surface and, when configured,
	// by an embedded script.
	var host *script.Host
	var primaryDeliverer session.Deliverer = logDeliverer(log.WithComponent("deliver"))
	if cfg.Script.Path != "" {
		host = script.New()
		defer host.Close()
		primaryDeliverer = host
	}
	primary := rt.newPlugin(primaryDeliverer)
	primary.Session.Attach()
	defer primary.Session.Teardown()

	if launch != nil {
		primary.SetLaunchEvent(launch)
		logger.Info("launch event buffered")
	}

	if cfg.Provider.AutoInitialize && rt.hasCredentials() {
		if err := rt.initialize(ctx, primary); err != nil {
			logger.Error("auto initialize failed", "error", err)
			return 1
		}
	}

	if host != nil {
		if err := host.Bind(primary); err != nil {
			logger.Error("failed to bind script host", "error", err)
			return 1
		}
		src, err := os.ReadFile(cfg.Script.Path)
		if err != nil {
			logger.Error("failed to read script", "path", cfg.Script.Path, "error", err)
			return 1
		}
		evalCtx, cancel := context.WithTimeout(ctx, cfg.Script.Timeout)
		_, err = host.Eval(evalCtx, string(src), cfg.Script.Path)
		cancel()
		if err != nil {
			logger.Error("script failed", "path", cfg.Script.Path, "error", err)
			return 1
		}
		logger.Info("script loaded", "path", cfg.Script.Path)
	}

	sockets := ws.NewHandler(rt.newPlugin, nil, ws.WithObserver(rt.hub.Publish))

	// External events go to the primary plugin and to every web view.
	notify := func(payload session.Payload) int {
		delivered := sockets.Broadcast(payload)
		if primary.Notify(payload) {
			delivered++
		}
		return delivered
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		server := api.New(api.Config{
			Listen:      cfg.API.Listen,
			APIKey:      cfg.API.Auth.APIKey,
			Tokens:      tokens,
			ExecTimeout: cfg.API.ExecTimeout,
		}, primary, sockets, rt.hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if len(cfg.Webhooks.Endpoints) > 0 {
		hookConfig, err := webhook.FromConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}
		hooks := webhook.New(hookConfig, notify, log.WithComponent("webhook"))
		g.Go(func() error {
			if err := hooks.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("webhook: %w", err)
			}
			return nil
		})
		logger.Info("webhook server enabled", "listen", hookConfig.Listen, "endpoints", len(hookConfig.Endpoints))
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("pushbridge running (press Ctrl+C to stop)")
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("pushbridge stopped")
	return 0
}

func runExec(args []string) int {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		printExecHelp()
		return 1
	}
	action := args[0]
	rest := args[1:]
	rawArgs := ""
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		rawArgs = rest[0]
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	timeout := fs.Duration("timeout", 30*time.Second, "How long to wait for the response")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cmd, err := protocol.DecodeCommand(action, []byte(rawArgs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start runtime: %v\n", err)
		return 1
	}
	defer rt.Close()

	p := rt.newPlugin(logDeliverer(log.WithComponent("deliver")))
	p.Session.Attach()
	defer p.Session.Teardown()

	if action != "initialize" && rt.hasCredentials() {
		if err := rt.initialize(ctx, p); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}

	resp, err := p.Call(ctx, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return printResponse(resp)
}

func printResponse(resp protocol.Response) int {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render response: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	if !resp.OK() {
		return 1
	}
	return 0
}

func runScript(args []string) int {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		printScriptRunHelp()
		return 1
	}
	file := args[0]

	fs := flag.NewFlagSet("script run", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	timeout := fs.Duration("timeout", 0, "Overall time limit (default: script.timeout from config)")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	src, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read script: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)

	limit := cfg.Script.Timeout
	if *timeout > 0 {
		limit = *timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start runtime: %v\n", err)
		return 1
	}
	defer rt.Close()

	host := script.New()
	defer host.Close()
	p := rt.newPlugin(host)
	p.Session.Attach()
	defer p.Session.Teardown()

	if err := host.Bind(p); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind script host: %v\n", err)
		return 1
	}
	if _, err := host.Eval(ctx, string(src), file); err != nil {
		fmt.Fprintf(os.Stderr, "Script failed: %v\n", err)
		return 1
	}
	if err := host.WaitIdle(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Script did not finish: %v\n", err)
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8181", "Bridge API URL")
	apiKey := fs.String("api-key", os.Getenv("PUSHBRIDGE_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or PUSHBRIDGE_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
