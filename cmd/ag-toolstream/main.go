package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"phobos.org.uk/toolstream/internal/config"
	"phobos.org.uk/toolstream/internal/logging"
	"phobos.org.uk/toolstream/internal/server"
	"phobos.org.uk/toolstream/internal/stream"
	"phobos.org.uk/toolstream/internal/tools"
)

var version = "dev"

var (
	configPath string
	portFlag   int
	bindFlag   string

	replayTools    []string
	replayLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ag-toolstream",
	Short: "Streaming tool-call argument parser",
	Long: `ag-toolstream turns streamed tool-call argument deltas into progressively
more complete typed arguments.

Run "serve" for the HTTP service or "replay" to push a recorded NDJSON chunk
stream through the parsers and print every result.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var replayCmd = &cobra.Command{
	Use:   "replay [file|-]",
	Short: "Replay a recorded NDJSON chunk stream",
	Long: `Replay reads one chunk per line from a file, or stdin when the argument is
"-" or omitted, and prints each streaming result as a JSON line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplayCmd,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&bindFlag, "bind", "", "Address to bind to (overrides config)")

	replayCmd.Flags().StringSliceVar(&replayTools, "tools", nil, "Streaming parsers to register (default all)")
	replayCmd.Flags().StringVar(&replayLogLevel, "log-level", "warn", "Log level for result logging on stderr")

	rootCmd.AddCommand(serveCmd, replayCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	if portFlag > 0 {
		cfg.Port = portFlag
	}
	if bindFlag != "" {
		cfg.Bind = bindFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Bind != "127.0.0.1" && cfg.Bind != "localhost" && cfg.Bind != "::1" {
		fmt.Fprintf(os.Stderr, "Warning: toolstream bind=%q exposes unauthenticated endpoints. Prefer 127.0.0.1.\n", cfg.Bind)
	}

	s, err := server.New(cfg, version)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintf(os.Stderr, "\nShutting down...\n")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		os.Exit(0)
	}()

	return s.Start()
}

func runReplayCmd(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening chunk stream: %w", err)
		}
		defer f.Close()
		in = f
	}

	level, ok := logging.ParseLevel(replayLogLevel)
	if !ok {
		return fmt.Errorf("log-level must be debug, info, warn, or error, got %q", replayLogLevel)
	}
	log := logging.New(logging.Config{
		Output:    cmd.ErrOrStderr(),
		Level:     level,
		Component: "toolstream-replay",
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return replay(ctx, in, cmd.OutOrStdout(), log, replayTools)
}

// replay prints every streaming result of the chunk stream on r to w, one
// JSON object per line.
func replay(ctx context.Context, r io.Reader, w io.Writer, log *logging.Logger, names []string) error {
	c := stream.NewCoordinator()
	if err := tools.RegisterStreamingParsers(c, names...); err != nil {
		return err
	}

	results := stream.NewResultLogger(log.WithSession("replay"))
	enc := json.NewEncoder(w)
	err := stream.Replay(ctx, r, c, func(res *stream.StreamingResult) error {
		results.LogResult(res)
		return enc.Encode(res)
	})
	if err != nil {
		results.LogParserError(err)
		return err
	}
	return nil
}
