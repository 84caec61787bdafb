package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	model      string
	provider   string
	projectDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "selkie",
		Short: "Model-driven coding assistant for project trees",
		Long: `Selkie assembles a token-budgeted view of a project, streams it with
your prompt to a local or hosted model, and executes the action blocks
in the reply as real file, shell, and git operations confined to the
project root.`,
	}

	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use (default from config)")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "model provider: ollama or gemini (default: detect from model name)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", "", "project root (default: current directory)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newContextCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("selkie version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
