// Package main provides a minimal demonstration CLI for the agent
// orchestration engine core. It wires a root Orchestrator backed by
// in-memory or sqlite-backed stores and a deterministic echo model
// session. No concrete model provider or tool implementation ships
// with this module; real deployments supply their own.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/obra/lace-sub007/internal/activitylog"
	"github.com/obra/lace-sub007/internal/agent"
	"github.com/obra/lace-sub007/internal/agentroles"
	"github.com/obra/lace-sub007/internal/approval"
	"github.com/obra/lace-sub007/internal/convstore"
	"github.com/obra/lace-sub007/internal/debuglog"
	"github.com/obra/lace-sub007/internal/metrics"
	"github.com/obra/lace-sub007/internal/modelsession"
	"github.com/obra/lace-sub007/internal/orchestrator"
	"github.com/obra/lace-sub007/internal/toolregistry"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached,
// separated from main() for testability.
func buildRootCmd() *cobra.Command {
	var (
		dbPath    string
		logLevel  string
		echoReply string
	)

	rootCmd := &cobra.Command{
		Use:          "agentengine",
		Short:        "Agent orchestration engine demo CLI",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path; empty uses in-memory stores")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	runCmd := &cobra.Command{
		Use:   "run [session-id] [message]",
		Short: "Run one turn through the root agent and print the response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, message := args[0], args[1]
			orch, cleanup, err := buildOrchestrator(dbPath, logLevel, echoReply)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := orch.HandleMessage(cmd.Context(), sessionID, message)
			if err != nil {
				return fmt.Errorf("process turn: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Content)
			return nil
		},
	}
	runCmd.Flags().StringVar(&echoReply, "echo-reply", "", "canned reply the fake model returns (default echoes the input)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Read session-id<TAB>message lines from stdin and print responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, cleanup, err := buildOrchestrator(dbPath, logLevel, echoReply)
			if err != nil {
				return err
			}
			defer cleanup()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := scanner.Text()
				sessionID, message, ok := splitTab(line)
				if !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed line: %q\n", line)
					continue
				}
				result, err := orch.HandleMessage(cmd.Context(), sessionID, message)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "turn failed: %v\n", err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Content)
			}
			return scanner.Err()
		},
	}

	rootCmd.AddCommand(runCmd, serveCmd)
	return rootCmd
}

func splitTab(line string) (sessionID, message string, ok bool) {
	for i, r := range line {
		if r == '\t' {
			return line[:i], line[i+1:], true
		}
	}
	return "", "", false
}

// buildOrchestrator wires a demo Orchestrator: sqlite-backed stores
// when dbPath is set, in-memory otherwise, a fail-open allowlist
// approval policy, the builtin role catalog, and a fake model session
// provider scripted to return echoReply (or echo the user's message
// when unset) for every call.
func buildOrchestrator(dbPath, logLevel, echoReply string) (*orchestrator.Orchestrator, func(), error) {
	debugLogger := debuglog.New(debuglog.Config{Level: logLevel})

	roles, err := agentroles.NewBuiltinRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("load role catalog: %w", err)
	}

	var (
		actLog activitylog.Log
		store  convstore.Store
	)
	if dbPath == "" {
		actLog = activitylog.NewMemoryLog(0, debugLogger)
		store = convstore.NewMemoryStore()
	} else {
		sqliteLog, err := activitylog.NewSQLiteLog(activitylog.Config{Path: dbPath}, debugLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("open activity log: %w", err)
		}
		actLog = sqliteLog
		sqliteStore, err := convstore.NewSQLiteStore(convstore.Config{Path: dbPath})
		if err != nil {
			return nil, nil, fmt.Errorf("open conversation store: %w", err)
		}
		store = sqliteStore
	}

	m := metrics.New(prometheus.NewRegistry())

	registry := toolregistry.New(debugLogger, actLog)
	registry.Register(agent.NewDelegateTool())

	provider := orchestrator.ModelProviderFunc(func(ctx context.Context, modelName string) (modelsession.Session, error) {
		return newEchoSession(modelsession.Definition{
			Name:          modelName,
			Provider:      "demo",
			ContextWindow: 128000,
			InputPrice:    3,
			OutputPrice:   15,
		}, echoReply), nil
	})

	orch, err := orchestrator.New(orchestrator.Config{
		ActivityLog:   actLog,
		ConvStore:     store,
		ToolRegistry:  registry,
		Approval:      approval.NewListPolicy(nil, nil, true),
		DebugLog:      debugLogger,
		Roles:         roles,
		ModelProvider: provider,
		Metrics:       m,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = orch.Close()
	}
	return orch, cleanup, nil
}
