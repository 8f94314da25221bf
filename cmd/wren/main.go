// Wren is an LLM agent that connects to MCP (Model Context Protocol)
// servers and puts their tools and resources at a language model's
// disposal.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	wren chat                Start an interactive chat session
//	wren ask <question>      Ask a single question and exit
//	wren tools               List tools exposed by the MCP server
//	wren resources           List resources exposed by the MCP server
//	wren init [path]         Write a starter config file
//	wren version             Print version and build information
//	wren -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/wren-agent/wren/internal/agent"
	"github.com/wren-agent/wren/internal/buildinfo"
	"github.com/wren-agent/wren/internal/config"
	"github.com/wren-agent/wren/internal/connwatch"
	"github.com/wren-agent/wren/internal/llm"
	"github.com/wren-agent/wren/internal/mcp"
	"github.com/wren-agent/wren/internal/memory"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the wren command. All OS-level
// dependencies are injected as parameters so the lifecycle can be
// driven from tests. We parse arguments by hand rather than using the
// flag package to avoid global state that interferes with parallel
// tests; the argument surface is small enough that manual parsing is
// clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var serverName string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-server" && i+1 < len(args):
			serverName = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-server="):
			serverName = strings.TrimPrefix(args[i], "-server=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s (see wren -help)", args[i])
			}
		}
	}

	switch command {
	case "version":
		return cmdVersion(stdout, outputFmt)
	case "init":
		return cmdInit(stdout, configPath, cmdArgs)
	case "chat":
		return cmdChat(ctx, stdout, stderr, configPath, serverName)
	case "ask":
		return cmdAsk(ctx, stdout, stderr, configPath, serverName, cmdArgs)
	case "tools":
		return cmdTools(ctx, stdout, stderr, configPath, serverName, outputFmt)
	case "resources":
		return cmdResources(ctx, stdout, stderr, configPath, serverName, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command %q (see wren -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, `wren - an MCP-connected LLM agent

Usage:
  wren [flags] <command> [args]

Commands:
  chat              Start an interactive chat session
  ask <question>    Ask a single question and exit
  tools             List tools exposed by the MCP server
  resources         List resources exposed by the MCP server
  init [path]       Write a starter config file
  version           Print version and build information

Flags:
  -config <path>    Config file (default: search wren.yaml, ~/.config/wren/, /etc/wren/)
  -server <name>    MCP server from the config to connect to (default: default_server)
  -o <format>       Output format: text or json`)
	return nil
}

// loadConfig finds and loads the config file, then builds the logger
// from its log level. Logs go to stderr so command output on stdout
// stays machine-readable.
func loadConfig(stderr io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	return cfg, logger, nil
}

// connect builds and connects the MCP client for the named server.
func connect(ctx context.Context, cfg *config.Config, serverName string, logger *slog.Logger) (*mcp.Client, error) {
	if serverName == "" {
		serverName = cfg.DefaultServer
	}

	sc, err := cfg.Server(serverName)
	if err != nil {
		return nil, err
	}

	transport := mcp.NewStdioTransport(mcp.StdioConfig{
		Command: sc.Command,
		Args:    sc.Args,
		Env:     sc.Env,
		Logger:  logger,
	})

	client := mcp.NewClient(serverName, transport, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to MCP server %q: %w", serverName, err)
	}
	return client, nil
}

// buildAgent wires provider, MCP session, and the optional transcript
// store into an agent ready to process messages.
func buildAgent(ctx context.Context, cfg *config.Config, client *mcp.Client, logger *slog.Logger) (*agent.Agent, *memory.Store, error) {
	provider, err := llm.New(cfg.LLM.Provider, llm.Config{
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	var store *memory.Store
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err = memory.Open(filepath.Join(cfg.DataDir, "wren.db"), cfg.History.MaxMessages)
		if err != nil {
			return nil, nil, fmt.Errorf("open transcript store: %w", err)
		}
	}

	var transcript agent.Transcript
	if store != nil {
		transcript = store
	}

	a := agent.New(agent.Options{
		Provider:    provider,
		Session:     client,
		Logger:      logger,
		Transcript:  transcript,
		SessionID:   uuid.NewString(),
		CallTimeout: time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	if err := a.Start(ctx); err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return a, store, nil
}

func cmdVersion(stdout io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(buildinfo.Info())
	}
	fmt.Fprintln(stdout, buildinfo.String())
	return nil
}

func cmdInit(stdout io.Writer, configPath string, cmdArgs []string) error {
	path := configPath
	if len(cmdArgs) > 0 {
		path = cmdArgs[0]
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determine home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "wren", "config.yaml")
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Created config at %s\n", path)
	fmt.Fprintln(stdout, "Edit it to add your API key and MCP server commands.")
	return nil
}

func cmdChat(ctx context.Context, stdout, stderr io.Writer, configPath, serverName string) error {
	cfg, logger, err := loadConfig(stderr, configPath)
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg, serverName, logger)
	if err != nil {
		return err
	}
	a, store, err := buildAgent(ctx, cfg, client, logger)
	if err != nil {
		client.Disconnect()
		return err
	}
	defer func() {
		a.Cleanup()
		if store != nil {
			store.Close()
		}
	}()

	// Warn mid-session if the server process dies underneath us.
	watcher := connwatch.Watch(ctx, connwatch.Config{
		Name:  client.Name(),
		Probe: client.Ping,
		OnDown: func(err error) {
			fmt.Fprintf(stderr, "warning: MCP server unreachable: %v\n", err)
		},
		Logger: logger,
	})
	defer watcher.Stop()

	toolNames := make([]string, 0, len(client.Tools()))
	for _, t := range client.Tools() {
		toolNames = append(toolNames, t.Name)
	}
	fmt.Fprintf(stdout, "Connected to %s. Available tools: %s\n",
		client.Name(), strings.Join(toolNames, ", "))
	fmt.Fprintln(stdout, "Type 'quit' to exit.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "quit", "exit", "q":
			return nil
		}

		reply, err := a.ProcessMessage(ctx, line)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(stdout, "wren> %s\n", reply)
	}
}

func cmdAsk(ctx context.Context, stdout, stderr io.Writer, configPath, serverName string, cmdArgs []string) error {
	if len(cmdArgs) == 0 {
		return fmt.Errorf("usage: wren ask <question>")
	}
	question := strings.Join(cmdArgs, " ")

	cfg, logger, err := loadConfig(stderr, configPath)
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg, serverName, logger)
	if err != nil {
		return err
	}
	a, store, err := buildAgent(ctx, cfg, client, logger)
	if err != nil {
		client.Disconnect()
		return err
	}
	defer func() {
		a.Cleanup()
		if store != nil {
			store.Close()
		}
	}()

	reply, err := a.ProcessMessage(ctx, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, reply)
	return nil
}

func cmdTools(ctx context.Context, stdout, stderr io.Writer, configPath, serverName, outputFmt string) error {
	cfg, logger, err := loadConfig(stderr, configPath)
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg, serverName, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	tools := client.Tools()
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(tools)
	}

	if len(tools) == 0 {
		fmt.Fprintln(stdout, "No tools available.")
		return nil
	}
	for _, t := range tools {
		fmt.Fprintf(stdout, "%s\t%s\n", t.Name, t.Description)
	}
	return nil
}

func cmdResources(ctx context.Context, stdout, stderr io.Writer, configPath, serverName, outputFmt string) error {
	cfg, logger, err := loadConfig(stderr, configPath)
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg, serverName, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	resources := client.Resources()
	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(resources)
	}

	if len(resources) == 0 {
		fmt.Fprintln(stdout, "No resources available.")
		return nil
	}
	for _, r := range resources {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", r.URI, r.Name, r.MimeType)
	}
	return nil
}
