// Package main is the entry point for the patchwork mod loader CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patchworkmods/patchwork/internal/config"
	"github.com/patchworkmods/patchwork/internal/loader"
	"github.com/patchworkmods/patchwork/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Root flags.
var (
	flagModPaths  []string
	flagConfigDir string
	flagLogLevel  string
	flagPolicy    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "patchwork",
		Short:   "Discover, order, and load mods with typed configuration",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}

	root.PersistentFlags().StringSliceVar(&flagModPaths, "mods", []string{"mods"}, "Directories to search for mods")
	root.PersistentFlags().StringVar(&flagConfigDir, "configs", "configs", "Directory holding per-mod config documents")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Minimum log level (trace|debug|info|warn|error)")
	root.PersistentFlags().StringVar(&flagPolicy, "policy", "error", "Incompatible config version policy (error|clobber|force-load)")

	root.AddCommand(newListCmd(), newValidateCmd(), newRunCmd())
	return root
}

func newController() *logging.Controller {
	return logging.NewController(
		logging.WithLevel(logging.ParseLevel(flagLogLevel)),
		logging.WithHandler(logging.NewWriterHandler(os.Stderr)),
	)
}

func parsePolicy(s string) (config.VersionPolicy, error) {
	switch s {
	case "error":
		return config.PolicyError, nil
	case "clobber":
		return config.PolicyClobber, nil
	case "force-load":
		return config.PolicyForceLoad, nil
	default:
		return config.PolicyError, fmt.Errorf("unknown version policy %q", s)
	}
}

func newLoader(ctrl *logging.Controller) (*loader.Loader, error) {
	policy, err := parsePolicy(flagPolicy)
	if err != nil {
		return nil, err
	}
	return loader.New(loader.Options{
		ModPaths:  flagModPaths,
		ConfigDir: flagConfigDir,
		Policy:    policy,
		Logging:   ctrl,
	}), nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered mods in canonical load order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl := newController()
			defer ctrl.Close()

			ldr, err := newLoader(ctrl)
			if err != nil {
				return err
			}
			for _, m := range ldr.Discover() {
				if _, err := ldr.Register(m); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", m, err)
				}
			}
			ldr.ResolveAndOrder()

			for i, mod := range ldr.Order() {
				kind := "mod"
				if mod.IsGamePack() {
					kind = "game pack"
				}
				deps := ""
				for id := range mod.Dependencies() {
					if deps != "" {
						deps += ", "
					}
					deps += id
				}
				if deps == "" {
					deps = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. %-30s %-10s %-9s deps: %s\n", i+1, mod.ID(), mod.Version(), kind, deps)
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifests of every discoverable mod",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl := newController()
			defer ctrl.Close()

			ldr, err := newLoader(ctrl)
			if err != nil {
				return err
			}
			found := ldr.Discover()
			for _, m := range found {
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%s)\n", m, m.Path())
			}
			if len(found) == 0 {
				return fmt.Errorf("no valid mods found under %v", flagModPaths)
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load all mods, run their patches, and wait for shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl := newController()
			defer ctrl.Close()

			ldr, err := newLoader(ctrl)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := ldr.LoadAll(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "some mods failed to register: %v\n", err)
			}

			for _, mod := range ldr.Order() {
				status := "loaded"
				if mod.EarlyMonkeysFailed() || mod.MonkeysFailed() {
					status = "failed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", mod, status)
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			<-signals

			ldr.ShutdownAll(ctx, true)
			return nil
		},
	}
}
