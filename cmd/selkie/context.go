package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"selkie/internal/client"
	"selkie/internal/engine"
)

func newContextCmd() *cobra.Command {
	var userPaths []string

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show what context assembly would send to the model",
		Long: `Context scans the project, runs an assembly pass without calling the
model, and lists every indexed file. Files marked ">" would be sent by
a turn run now; "*" marks files whose content is cached.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root, err := resolveRoot()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cl, err := client.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create model client: %w", err)
			}
			eng, err := engine.New(root, cfg, cl)
			if err != nil {
				cl.Close()
				return err
			}
			defer eng.Close()

			files, err := eng.Prime(ctx, userPaths)
			if err != nil {
				return err
			}

			var sentFiles, sentTokens int
			for _, f := range files {
				marks := "  "
				if f.IncludedInLastTurn {
					marks = "> "
					sentFiles++
					sentTokens += f.Tokens
				}
				if f.Cached {
					marks = marks[:1] + "*"
				}
				fmt.Printf("%s %8d  %s\n", marks, f.Tokens, f.Path)
			}

			fmt.Printf("\n%d of %d files selected, ~%d of %d tokens\n",
				sentFiles, len(files), sentTokens, cfg.Context.MaxTokens)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&userPaths, "path", nil, "root-relative file to prioritize; repeatable")

	return cmd
}
