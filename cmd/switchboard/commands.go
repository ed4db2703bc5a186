package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/switchboard/internal/api"
	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/doctor"
	"github.com/mattjoyce/switchboard/internal/inspect"
	"github.com/mattjoyce/switchboard/internal/storage"
	"github.com/mattjoyce/switchboard/internal/tui"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigHelp(os.Stderr)
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "help", "--help", "-h":
		printConfigHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigHelp(w *os.File) {
	fmt.Fprint(w, `Usage: switchboard config <action> [flags]

Actions:
  check   Validate syntax, policy and integrity
  lock    Write BLAKE3 checksums for every config file
`)
}

func runConfigCheck(args []string) int {
	fs := newFlagSet("check")
	configPath := configFlag(fs)
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := config.LoadUnverified(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	table, err := hostTable(nil, capability.NewCompiler())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Endpoint table error: %v\n", err)
		return 1
	}
	result := doctor.New(cfg, table).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := newFlagSet("lock")
	configPath := configFlag(fs)
	dryRun := fs.Bool("dry-run", false, "Show what would be hashed without writing")
	verbose := fs.BoolP("verbose", "v", false, "Verbose output")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := config.LoadUnverified(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	dir := filepath.Dir(cfg.SourceFiles[0])
	report, err := config.GenerateChecksums(dir, cfg.SourceFiles, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
		return 1
	}

	if *verbose || *dryRun {
		for _, f := range report.Files {
			fmt.Printf("  HASH %s %s\n", f.Hash[:16], f.Filename)
		}
	}
	if report.Written {
		fmt.Printf("Wrote %s (%d file(s))\n", report.ChecksumPath, len(report.Files))
	} else {
		fmt.Printf("DRY-RUN %s (not written)\n", report.ChecksumPath)
	}
	return 0
}

func runPlugins(args []string) int {
	fs := newFlagSet("plugins")
	apiURL, token := apiFlags(fs)
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := api.NewClient(*apiURL, *token).Plugins(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list plugins: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Print(formatPlugins(list))
	return 0
}

func formatPlugins(list api.PluginListResponse) string {
	if len(list.Plugins) == 0 {
		return "No plugins registered.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %-20s %-36s %-6s %s\n", "TITLE", "ORIGIN", "STREAM", "ALLOW")
	for _, p := range list.Plugins {
		marker := " "
		if p.Focused {
			marker = "*"
		}
		stream := "no"
		if p.Streaming {
			stream = "yes"
		}
		allow := "*"
		if len(p.Allow) > 0 {
			allow = strings.Join(p.Allow, ",")
		}
		fmt.Fprintf(&b, "%s %-20s %-36s %-6s %s\n", marker, p.Title, p.Origin, stream, allow)
	}
	return b.String()
}

func runInspect(args []string) int {
	fs := newFlagSet("inspect")
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	limit := fs.Int("limit", inspect.DefaultLimit, "Number of log entries to read")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchboard inspect <plugin> [--config PATH] [--json] [--limit N]")
		return 1
	}
	plugin := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, db, plugin, *limit)
		if err == nil {
			report += "\n"
		}
	} else {
		report, err = inspect.BuildReport(ctx, db, plugin, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

func runMonitor(args []string) int {
	fs := newFlagSet("monitor")
	apiURL, token := apiFlags(fs)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	if *token == "" {
		fmt.Fprintf(os.Stderr, "Error: API token required. Use --token or %s env var.\n", envAPIKey)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tui.Run(ctx, api.NewClient(*apiURL, *token)); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
