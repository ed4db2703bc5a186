package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/lock"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	envConfig = "SWITCHBOARD_CONFIG"
	envAPIURL = "SWITCHBOARD_API_URL"
	envAPIKey = "SWITCHBOARD_API_KEY"
)

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
	case "start":
		return runStart(args)
	case "config":
		return runConfigNoun(args)
	case "plugins":
		return runPlugins(args)
	case "inspect":
		return runInspect(args)
	case "monitor":
		return runMonitor(args)
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

func printUsage() {
	fmt.Print(`switchboard - plugin message broker for an editor host

Usage:
  switchboard <command> [flags]

Commands:
  start             Run the broker in the foreground
  config check      Validate configuration, policy and integrity
  config lock       Write BLAKE3 checksums for every config file
  plugins           List registered plugins (via API)
  inspect <plugin>  Show a plugin's settings and recent traffic
  monitor           Live activity TUI (via API)
  version           Show version information
  help              Show this help message

Environment:
  SWITCHBOARD_CONFIG    Default for --config
  SWITCHBOARD_API_URL   Default for --api-url
  SWITCHBOARD_API_KEY   Default for --token
`)
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// parseFlags parses args. It returns the exit code to use when the caller
// should stop: 0 for --help, 1 for a flag error.
func parseFlags(fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1, false
	}
	return 0, true
}

func configFlag(fs *pflag.FlagSet) *string {
	def := os.Getenv(envConfig)
	if def == "" {
		def = "config.yaml"
	}
	return fs.StringP("config", "c", def, "Path to configuration file or directory")
}

func apiFlags(fs *pflag.FlagSet) (apiURL, token *string) {
	url := os.Getenv(envAPIURL)
	if url == "" {
		url = "http://127.0.0.1:8080"
	}
	apiURL = fs.String("api-url", url, "Switchboard API URL")
	token = fs.String("token", os.Getenv(envAPIKey), "API bearer token")
	return apiURL, token
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := newFlagSet("version")
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: switchboard version [--json]")
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

	fmt.Printf("switchboard %s\n", info.Version)
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
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
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

func runStart(args []string) int {
	fs := newFlagSet("start")
	configPath := configFlag(fs)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("switchboard starting", "version", version, "config", *configPath)

	if lockPath := lock.PathFor(cfg.State.Path); lockPath != "" {
		pidLock, err := lock.AcquirePIDLock(lockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
			return 1
		}
		defer func() { _ = pidLock.Release() }()
		logger.Info("acquired PID lock", "path", lockPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	logger.Info("database opened", "path", cfg.State.Path)

	a, err := newApp(cfg, db)
	if err != nil {
		logger.Error("failed to initialize broker", "error", err)
		return 1
	}
	logger.Info("broker ready",
		"endpoints", a.table.Len(),
		"plugins", len(cfg.Plugins),
		"codec", cfg.Service.Codec,
		"backend", a.bus.Backend(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)
	a.start(ctx, errCh, logger)

	logger.Info("switchboard running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("switchboard stopped")
	return 0
}
