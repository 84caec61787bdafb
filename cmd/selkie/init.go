package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"selkie/internal/client"
	"selkie/internal/config"
)

// probeTimeout bounds the backend reachability check so init never hangs
// on a dead server.
const probeTimeout = 10 * time.Second

func newInitCmd() *cobra.Command {
	var (
		force   bool
		noCheck bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and check the backend",
		Long: `Init writes a config file with defaults to the user config directory
and checks that the selected backend is reachable. An existing config
file is left alone unless --force is given.

The --model and --provider flags override the defaults before saving.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), force, noCheck)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "skip the backend reachability check")

	return cmd
}

func runInit(ctx context.Context, force, noCheck bool) error {
	path := config.GetConfigPath()
	if path == "" {
		return fmt.Errorf("could not determine config path")
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	cfg.Version = version
	if model != "" {
		cfg.Model.Name = model
	}
	if provider != "" {
		cfg.Model.Provider = provider
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("✓ wrote %s\n", path)
	fmt.Printf("  model %s\n", cfg.Model.Name)

	if noCheck {
		return nil
	}
	checkBackend(ctx, cfg)
	return nil
}

// checkBackend probes the configured backend and reports what it finds.
// Problems are printed, not returned: a dead server should not undo a
// successful init.
func checkBackend(ctx context.Context, cfg *config.Config) {
	cl, err := client.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ could not create client: %v\n", err)
		return
	}
	defer cl.Close()

	oc, ok := cl.(*client.OllamaClient)
	if !ok {
		// Hosted providers have no ping surface; the first turn verifies them.
		fmt.Printf("  provider %s is checked on first run\n", cfg.Model.Provider)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := oc.Healthcheck(probeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Ollama unreachable: %v\n", err)
		fmt.Fprintf(os.Stderr, "  start it with: ollama serve\n")
		return
	}
	fmt.Println("✓ Ollama reachable")

	available, err := oc.IsModelAvailable(probeCtx, cfg.Model.Name)
	if err != nil || available {
		if available {
			fmt.Printf("✓ model %s installed\n", cfg.Model.Name)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "⚠ model %s is not installed\n", cfg.Model.Name)
	fmt.Fprintf(os.Stderr, "  pull it with: ollama pull %s\n", cfg.Model.Name)
}
