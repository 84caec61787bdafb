package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"selkie/internal/audit"
	"selkie/internal/client"
	"selkie/internal/config"
	"selkie/internal/engine"
	"selkie/internal/ignore"
	"selkie/internal/logging"
	"selkie/internal/remote"
	"selkie/internal/render"
	"selkie/internal/watcher"
)

// errCancelled marks a turn the user interrupted; main maps it to exit
// code 130 without printing a second error line.
var errCancelled = errors.New("turn cancelled")

func newRunCmd() *cobra.Command {
	var (
		prompts    []string
		userPaths  []string
		formatName string
		noColor    bool
		remoteAddr string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a prompt against the project and execute the reply",
		Long: `Run sends your prompt plus an assembled view of the project to the
model, executes the action blocks embedded in the streamed reply, and
renders the turn. Repeating --prompt runs the prompts as sequential
turns of one conversation. With no prompt, standard input is read
until EOF.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				prompts = append(prompts, strings.Join(args, " "))
			}
			if len(prompts) == 0 {
				piped, err := readStdin()
				if err != nil {
					return err
				}
				if piped == "" {
					return fmt.Errorf("no prompt given (use --prompt, an argument, or pipe stdin)")
				}
				prompts = []string{piped}
			}

			err := runTurns(runOptions{
				prompts:    prompts,
				userPaths:  userPaths,
				formatName: formatName,
				noColor:    noColor,
				remoteAddr: remoteAddr,
				debug:      debug,
			})
			if errors.Is(err, errCancelled) {
				cmd.SilenceErrors = true
			}
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&prompts, "prompt", "p", nil, "prompt to run; repeat for sequential turns")
	cmd.Flags().StringArrayVar(&userPaths, "path", nil, "root-relative file to prioritize in context; repeatable")
	cmd.Flags().StringVarP(&formatName, "format", "f", "text", "output format: text, markdown, or json")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable styled output")
	cmd.Flags().StringVar(&remoteAddr, "remote", "", "apply file actions over SFTP: [user@]host[:port]")
	cmd.Flags().BoolVar(&debug, "debug", false, "log debug detail to stderr")

	return cmd
}

type runOptions struct {
	prompts    []string
	userPaths  []string
	formatName string
	noColor    bool
	remoteAddr string
	debug      bool
}

func runTurns(opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if opts.debug {
		logging.Configure(logging.LevelDebug, os.Stderr)
	} else if cfg.Logging.File {
		if dir := config.Dir(); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err == nil {
				if err := logging.EnableFileLogging(dir, logging.ParseLevel(cfg.Logging.Level)); err != nil {
					fmt.Fprintf(os.Stderr, "warning: file logging unavailable: %v\n", err)
				}
			}
		}
	}
	defer logging.Close()

	root, err := resolveRoot()
	if err != nil {
		return err
	}

	format, err := render.ParseFormat(opts.formatName)
	if err != nil {
		return err
	}
	r, err := render.New(format, !opts.noColor && isTerminal(os.Stdout))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl, err := client.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	client.SetStatusCallback(cl, statusPrinter{})

	engOpts := []engine.Option{}

	if cfg.Audit.Enabled {
		if dir := config.Dir(); dir != "" {
			auditLog, err := audit.Open(dir, uuid.New().String(), audit.DefaultConfig())
			if err != nil {
				logging.Warn("audit log unavailable", "error", err)
			} else {
				defer auditLog.Close()
				if n, err := auditLog.CleanupOldSessions(); err == nil && n > 0 {
					logging.Debug("removed expired audit sessions", "count", n)
				}
				engOpts = append(engOpts, engine.WithAudit(auditLog))
			}
		}
	}

	if opts.remoteAddr != "" {
		rcfg, err := parseRemote(opts.remoteAddr)
		if err != nil {
			return err
		}
		rfs, err := remote.Dial(ctx, rcfg)
		if err != nil {
			cl.Close()
			return fmt.Errorf("failed to connect to %s: %w", rcfg.Addr(), err)
		}
		defer rfs.Close()
		engOpts = append(engOpts, engine.WithFileSystem(rfs))
	}

	eng, err := engine.New(root, cfg, cl, engOpts...)
	if err != nil {
		cl.Close()
		return err
	}
	defer eng.Close()

	// The watcher keeps the cache coherent while commands run by the
	// model touch the tree between turns.
	if cfg.Watcher.Enabled {
		if w := startWatcher(eng, cfg); w != nil {
			defer w.Stop()
		}
	}

	var history []client.Message
	for i, prompt := range opts.prompts {
		if i > 0 && format == render.FormatText {
			fmt.Println()
		}
		record, err := runOne(ctx, eng, r, engine.TurnRequest{
			Message:   prompt,
			History:   history,
			UserPaths: opts.userPaths,
		})
		if err != nil {
			return err
		}
		if record.Err != nil {
			return record.Err
		}
		if record.Cancelled {
			return errCancelled
		}
		history = append(history,
			client.Message{Role: client.RoleUser, Text: prompt},
			client.Message{Role: client.RoleAssistant, Text: record.Transcript()},
		)
	}
	return nil
}

// runOne drains a single turn. Text format streams as events arrive and
// closes with the footer; markdown and json render once at the end.
func runOne(ctx context.Context, eng *engine.Engine, r *render.Renderer, req engine.TurnRequest) (*engine.TurnRecord, error) {
	streaming := r.Format() == render.FormatText

	var record *engine.TurnRecord
	for ev := range eng.RunTurn(ctx, req) {
		switch ev.Type {
		case engine.EventTextChunk:
			if streaming {
				fmt.Print(r.Text(ev.Text))
			}
		case engine.EventActionStarted:
			if streaming {
				fmt.Print(r.ActionStarted(ev.Block))
			}
		case engine.EventActionCompleted:
			if streaming {
				fmt.Print(r.ActionResult(ev.Block, ev.Result))
			}
		case engine.EventTurnComplete:
			record = ev.Record
		}
	}
	if record == nil {
		return nil, fmt.Errorf("turn ended without a record")
	}

	if streaming {
		fmt.Print(r.Footer(record))
		return record, nil
	}
	rendered, err := r.Turn(record)
	if err != nil {
		return nil, err
	}
	fmt.Print(rendered)
	return record, nil
}

// loadConfig loads configuration and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if model != "" {
		cfg.Model.Name = model
	}
	if provider != "" {
		cfg.Model.Provider = provider
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Version = version
	return cfg, nil
}

func resolveRoot() (string, error) {
	if projectDir != "" {
		return projectDir, nil
	}
	root, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return root, nil
}

func startWatcher(eng *engine.Engine, cfg *config.Config) *watcher.Watcher {
	rules := ignore.New(eng.Root())
	if err := rules.Load(); err != nil {
		logging.Warn("failed to load ignore rules for watcher", "error", err)
	}
	w, err := watcher.NewWatcher(eng.Root(), rules, watcher.Config{
		Enabled:    true,
		DebounceMs: cfg.Watcher.DebounceMs,
		MaxWatches: cfg.Watcher.MaxWatches,
	})
	if err != nil {
		logging.Warn("watcher unavailable", "error", err)
		return nil
	}
	w.SetHandler(func(rel string, _ watcher.Operation) { eng.Invalidate(rel) })
	if err := w.Start(); err != nil {
		logging.Warn("watcher failed to start", "error", err)
		return nil
	}
	return w
}

// parseRemote parses [user@]host[:port] into a remote config, leaving
// key discovery to the defaults.
func parseRemote(addr string) (*remote.Config, error) {
	cfg := remote.DefaultConfig()
	host := addr
	if at := strings.LastIndex(host, "@"); at >= 0 {
		cfg.User = host[:at]
		host = host[at+1:]
	}
	if colon := strings.LastIndex(host, ":"); colon >= 0 {
		port, err := strconv.Atoi(host[colon+1:])
		if err != nil || port <= 0 {
			return nil, fmt.Errorf("invalid remote port in %q", addr)
		}
		cfg.Port = port
		host = host[:colon]
	}
	if host == "" || cfg.User == "" {
		return nil, fmt.Errorf("invalid remote address %q", addr)
	}
	cfg.Host = host
	return cfg, nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func readStdin() (string, error) {
	if isTerminal(os.Stdin) {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// statusPrinter surfaces client progress on stderr so stdout stays
// parseable in every output format.
type statusPrinter struct{}

func (statusPrinter) OnRetry(attempt, maxAttempts int, delay time.Duration, reason string) {
	fmt.Fprintf(os.Stderr, "retrying (%d/%d) in %s: %s\n", attempt, maxAttempts, delay.Round(time.Millisecond), reason)
}

func (statusPrinter) OnRateLimit(wait time.Duration) {
	fmt.Fprintf(os.Stderr, "rate limited, waiting %s\n", wait.Round(time.Millisecond))
}

func (statusPrinter) OnStreamIdle(elapsed time.Duration) {
	fmt.Fprintf(os.Stderr, "waiting for model (%s)\n", elapsed.Round(time.Second))
}

func (statusPrinter) OnStreamResume() {}

func (statusPrinter) OnError(err error, recoverable bool) {
	if recoverable {
		fmt.Fprintf(os.Stderr, "recovered: %v\n", err)
	}
}
