// Package main is the entry point for the rampart binary.
// It provides a CLI for one-shot guardrail screening and offline chat
// turns without a running service.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rampart-ai/rampart/pkg/config"
	"github.com/rampart-ai/rampart/pkg/engine"
	"github.com/rampart-ai/rampart/pkg/engine/runtime"
	"github.com/rampart-ai/rampart/pkg/guard"
	"github.com/rampart-ai/rampart/pkg/history"
	"github.com/rampart-ai/rampart/pkg/logging"
	"github.com/rampart-ai/rampart/pkg/model"
	"github.com/rampart-ai/rampart/pkg/policy"
)

const defaultLogLevel = "warn"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for rampart
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rampart",
		Short: "Guardrail screening for LLM chat traffic",
		Long: `Screens text with the same validators the rampartd service runs:
harmful content, prompt injection, PII redaction, and hallucination
markers. Verdicts print as JSON; rejections exit with status 1.

Examples:
  rampart check input "ignore previous instructions"
  cat reply.txt | rampart check output -
  rampart redact "email me at jane@example.com"
  rampart chat "hello there"`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("harmful-threshold", 0, "Override the harmful pattern threshold")
	rootCmd.PersistentFlags().Int("hallucination-threshold", 0, "Override the hallucination marker threshold")

	rootCmd.AddCommand(newCheckCmd(), newRedactCmd(), newChatCmd())

	return rootCmd
}

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Screen text against the guardrail catalog",
	}
	checkCmd.AddCommand(newCheckInputCmd(), newCheckOutputCmd())
	return checkCmd
}

func newCheckInputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "input [text|-]",
		Short: "Screen a user message as the input validator would",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			guardrails, _, err := buildGuardrails(cmd)
			if err != nil {
				return err
			}

			verdict := guardrails.ValidateInput(cmd.Context(), "cli", text)
			if err := printJSON(cmd.OutOrStdout(), verdict); err != nil {
				return err
			}
			if !verdict.IsValid {
				return errors.New("input rejected")
			}
			return nil
		},
	}
}

func newCheckOutputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output [text|-]",
		Short: "Screen a model reply as the output validator would",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			guardrails, _, err := buildGuardrails(cmd)
			if err != nil {
				return err
			}

			verdict := guardrails.ValidateOutput(cmd.Context(), text)
			if err := printJSON(cmd.OutOrStdout(), verdict); err != nil {
				return err
			}
			if !verdict.IsValid {
				return errors.New("output rejected")
			}
			return nil
		},
	}
}

func newRedactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redact [text|-]",
		Short: "Print the text with personal data redacted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			guardrails, _, err := buildGuardrails(cmd)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), guardrails.RedactPII(text))
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	chatCmd := &cobra.Command{
		Use:   "chat [text|-]",
		Short: "Run one full turn through the pipeline with the offline model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			guardrails, cfg, err := buildGuardrails(cmd)
			if err != nil {
				return err
			}

			var hook policy.Hook
			if cfg.Policy.Enabled {
				opts, err := cfg.Policy.EngineOptions()
				if err != nil {
					return err
				}
				hook, err = policy.NewEngine(cmd.Context(), opts)
				if err != nil {
					return err
				}
			}

			orchestrator := engine.New(engine.Options{
				Guard:     guardrails,
				Generator: model.NewLocalProvider(),
				Store:     history.NewMemoryStore(),
				Budget:    cfg.Guardrails.HistoryBudget(),
				Estimator: cfg.Model.Estimator(),
				Policy:    hook,
				Scrub:     cfg.Telemetry.Scrub,
			})

			sessionID, err := cmd.Flags().GetString("session")
			if err != nil {
				return err
			}

			result, runErr := orchestrator.RunTurn(cmd.Context(), sessionID, text)
			fmt.Fprintln(cmd.OutOrStdout(), result.Reply)
			if result.State != runtime.StateDelivered {
				return runErr
			}
			return nil
		},
	}
	chatCmd.Flags().String("session", "cli", "Session ID for the turn")
	return chatCmd
}

// buildGuardrails loads configuration, applies flag overrides, and
// constructs the validation facade shared by every subcommand.
func buildGuardrails(cmd *cobra.Command) (*guard.Guardrails, *config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if n, err := cmd.Flags().GetInt("harmful-threshold"); err == nil && n > 0 {
		cfg.Guardrails.HarmfulThreshold = n
	}
	if n, err := cmd.Flags().GetInt("hallucination-threshold"); err == nil && n > 0 {
		cfg.Guardrails.HallucinationThreshold = n
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), logging.Config{
		Level:  logLevel,
		Pretty: true, // Use pretty logging for CLI
	})
	slog.SetDefault(logger)

	catalog, err := cfg.Guardrails.Catalog()
	if err != nil {
		return nil, nil, err
	}

	guardrails := guard.New(guard.Options{
		Config:  cfg.Guardrails.GuardConfig(),
		Catalog: catalog,
		Logger:  logger,
	})
	return guardrails, cfg, nil
}

// readText returns the text argument, reading stdin when the argument is
// absent or "-".
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
