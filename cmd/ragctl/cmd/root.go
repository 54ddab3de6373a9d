package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"ragassist/internal/app"
	"ragassist/internal/config"
)

var (
	// outputFormat is the output format (table, json, yaml)
	outputFormat string
	// verbose enables logging at the configured level instead of warnings only
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Manage documents and ask questions against the local document index",
	Long: `ragctl works directly on the data directory used by the API server.

Configuration comes from the same environment variables and .env file.

Examples:
  # Upload two files and index them
  ragctl ingest notes.txt guide.md --index

  # Import every .txt and .md file below a directory
  ragctl import ./docs --index

  # Search the index
  ragctl search "how do I reset my password" -k 10

  # Ask a question and stream the answer
  ragctl ask "what does the guide say about backups?" --stream`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at the configured LOG_LEVEL instead of warnings only")
}

// openApp loads configuration and wires the application. Logs go to stderr
// so they never mix with command output.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := slog.LevelWarn
	if verbose {
		level = cfg.LogLevel
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	return app.New(ctx, cfg)
}

// printOutput writes v as JSON or YAML, or calls table for the default format.
func printOutput(w io.Writer, v any, table func(tw *tabwriter.Writer)) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
	}
}
