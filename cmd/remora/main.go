// Package main is the entrypoint for the remora CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remoradev/remora/internal/config"
	"github.com/remoradev/remora/internal/deployer"
	"github.com/remoradev/remora/internal/output"
	"github.com/remoradev/remora/internal/payload"
	"github.com/remoradev/remora/internal/transport"
	"github.com/remoradev/remora/pkg/facts"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	debug   bool
	noColor bool
	envFile string
)

// Deploy-specific flags
var payloadFile string

// ArgumentError reports unrecognized CLI input.
type ArgumentError struct {
	Arg string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("unrecognized argument %q", e.Arg)
}

// noPositionalArgs rejects stray arguments with a typed error.
func noPositionalArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &ArgumentError{Arg: args[0]}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newOutput builds a diagnostics writer honoring the global flags.
func newOutput() *output.Output {
	out := output.New(os.Stderr)
	out.SetColor(!noColor)
	out.SetDebug(debug)
	return out
}

// diag reports err in the standard diagnostic format and hands the
// failure back to Execute without cobra's own error line.
func diag(cmd *cobra.Command, out *output.Output, err error) error {
	out.Error("%v", err)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return err
}

var rootCmd = &cobra.Command{
	Use:   "remora",
	Short: "Remora - remote Debian bootstrap and proxy deployment",
	Long: `Remora packages a local environment file and a setup payload, ships
them to a remote Debian host over OpenSSH, and runs the payload there
with root privileges. Transient staging directories are removed on both
sides whether the run succeeds or fails.

Host-key verification prompts are disabled: remora trusts that
first-connection host authenticity is handled by the operator.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Args:    noPositionalArgs,
	RunE:    runDeploy,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "deploy.env", "Deployment configuration file (KEY=VALUE lines)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output with detailed stage information")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.Flags().StringVar(&payloadFile, "payload", "setup.sh", "Setup payload executed on the remote host")

	// Add subcommands
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(initCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	dep := deployer.New()
	dep.Output.SetColor(!noColor)
	dep.Output.SetDebug(debug)

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	result, err := dep.Run(ctx, envFile, payloadFile)
	if err != nil || !result.Success {
		// Diagnostics were already emitted by the pipeline.
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		os.Exit(1)
	}

	return nil
}

// validateCmd checks the configuration without any network activity.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the deployment configuration",
	Long: `Load and validate the configuration file without connecting anywhere.

This checks for:
  - Readable configuration file
  - Required keys (remoteHost, remoteSshPort, remoteUsername)
  - A usable port number`,
	Args: noPositionalArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()

		cfg, err := config.Load(envFile)
		if err != nil {
			return diag(cmd, out, err)
		}

		fmt.Printf("OK: %s\n", cfg)
		return nil
	},
}

// checkCmd runs the preflight: config, transport, and remote probes.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Preflight the deployment without running the payload",
	Long: `Validate the configuration, select the transport, and probe the remote
host: reachability, OS facts, and which privilege escalation strategy a
deploy would pick. Nothing is staged and nothing is executed remotely
beyond the probes.`,
	Args: noPositionalArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()

		cfg, err := config.Load(envFile)
		if err != nil {
			return diag(cmd, out, err)
		}

		tr, err := transport.Select(cfg)
		if err != nil {
			return diag(cmd, out, err)
		}

		out.Warn("host-key verification is disabled; host authenticity is not checked")
		out.Info("probing %s", cfg)

		gathered, err := facts.Gather(cmd.Context(), tr)
		if err != nil {
			return diag(cmd, out, err)
		}

		keys := make([]string, 0, len(gathered))
		for k := range gathered {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-22s %v\n", k, gathered[k])
		}

		if gathered["escalation"] == "interactive-su" && cfg.RootPassword == "" {
			out.Warn("deploy would need rootPassword: not root and no passwordless sudo")
		}
		return nil
	},
}

// initCmd scaffolds a starter configuration and payload.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold deploy.env and the default setup payload",
	Long: `Write a sample deploy.env and the default Debian hardening + proxy
setup payload into the current directory. Existing files are never
overwritten.`,
	Args: noPositionalArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := payload.WriteScaffold(".")
		if err != nil {
			return diag(cmd, newOutput(), err)
		}

		for _, path := range written {
			fmt.Printf("wrote %s\n", path)
		}
		fmt.Println("\nEdit deploy.env, then run: remora")
		return nil
	},
}
