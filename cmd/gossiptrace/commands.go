package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	serveradapter "github.com/evanschultz/gossiptrace/internal/adapters/server"
	servercommon "github.com/evanschultz/gossiptrace/internal/adapters/server/common"
	"github.com/evanschultz/gossiptrace/internal/adapters/tracecsv"
	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/domain"
	"github.com/evanschultz/gossiptrace/internal/report"
	"github.com/evanschultz/gossiptrace/internal/tui"
	"github.com/spf13/cobra"
)

// clipboardWriter copies summary output for `summary --copy`.
var clipboardWriter = clipboard.WriteAll

// newReplayCommand builds `replay`.
func newReplayCommand(state *cliState) *cobra.Command {
	var (
		tracePath    string
		variant      string
		format       string
		outPath      string
		dropFinalRow bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a trace and record propagation completion",
		Example: "  gossiptrace replay --trace sim.csv --variant '5 followers'\n" +
			"  gossiptrace replay --trace events.csv --format events --out records.csv",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.withSession(cmd.Context(), "replay", false, func(sess *session) error {
				opts := tracecsv.Options{
					Format:       tracecsv.Format(sess.cfg.Trace.Format),
					DropFinalRow: sess.cfg.Trace.DropFinalRow,
				}
				if cmd.Flags().Changed("format") {
					opts.Format = tracecsv.Format(format)
				}
				if cmd.Flags().Changed("drop-final-row") {
					opts.DropFinalRow = dropFinalRow
				}
				return runReplay(cmd.Context(), sess, state.stdout, tracePath, variant, outPath, opts)
			})
		},
	}
	cmd.Flags().StringVar(&tracePath, "trace", "", "trace CSV file")
	cmd.Flags().StringVar(&variant, "variant", "", "experiment variant label for this run")
	cmd.Flags().StringVar(&format, "format", "", "trace format: ssb or events (default from config)")
	cmd.Flags().StringVar(&outPath, "out", "-", "completed records CSV ('-' for stdout, '' to skip)")
	cmd.Flags().BoolVar(&dropFinalRow, "drop-final-row", true, "skip the trace's last row")
	_ = cmd.MarkFlagRequired("trace")
	_ = cmd.MarkFlagRequired("variant")
	return cmd
}

// runReplay streams one trace file through the service.
func runReplay(ctx context.Context, sess *session, stdout io.Writer, tracePath, variant, outPath string, opts tracecsv.Options) error {
	if _, err := tracecsv.ParseFormat(string(opts.Format)); err != nil {
		return err
	}
	in, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, closeOut, err := openOutput(outPath, stdout)
	if err != nil {
		return err
	}
	var writer *tracecsv.RecordWriter
	var onComplete func(domain.PropagationRecord) error
	if out != nil {
		writer = tracecsv.NewRecordWriter(out)
		onComplete = writer.Write
	}

	sess.logger.Info("replaying trace", "trace", tracePath, "format", opts.Format, "variant", variant, "drop_final_row", opts.DropFinalRow)
	result, replayErr := sess.svc.Replay(ctx, app.ReplayInput{
		Variant:    variant,
		TracePath:  tracePath,
		Format:     string(opts.Format),
		Events:     tracecsv.Events(in, opts),
		OnComplete: onComplete,
	})
	if writer != nil {
		if err := writer.Flush(); err != nil && replayErr == nil {
			replayErr = fmt.Errorf("write records: %w", err)
		}
	}
	if err := closeOut(); err != nil && replayErr == nil {
		replayErr = fmt.Errorf("close records output: %w", err)
	}
	if replayErr != nil {
		if result.Run.ID != "" {
			return fmt.Errorf("run %s failed: %w", result.Run.ID, replayErr)
		}
		return replayErr
	}

	sess.logger.Info("run recorded",
		"run", result.Run.ID,
		"events", result.Stats.Events,
		"stale_stores", result.Stats.StaleStores,
		"records", result.Stats.Opened,
		"completed", result.Stats.Completed,
		"pending", len(result.Pending),
	)
	return nil
}

// newRunsCommand builds `runs`.
func newRunsCommand(state *cliState) *cobra.Command {
	var variants []string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored replay runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.withSession(cmd.Context(), "runs", false, func(sess *session) error {
				runs, err := sess.svc.ListRuns(cmd.Context(), variants...)
				if err != nil {
					return err
				}
				return report.WriteRuns(state.stdout, runs, time.Now())
			})
		},
	}
	cmd.Flags().StringArrayVar(&variants, "variant", nil, "only runs with this variant (repeatable)")
	return cmd
}

// newSummaryCommand builds `summary`.
func newSummaryCommand(state *cliState) *cobra.Command {
	var (
		runIDs    []string
		variants  []string
		settle    float64
		quantiles []float64
		format    string
		copyOut   bool
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize propagation latency per variant",
		Example: "  gossiptrace summary --settle 50 --format markdown\n" +
			"  gossiptrace summary --variant '5 followers' -q 0.5 -q 0.95 --copy",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outFormat, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return state.withSession(cmd.Context(), "summary", false, func(sess *session) error {
				in := app.SummaryInput{RunIDs: runIDs, Variants: variants, Quantiles: quantiles}
				if cmd.Flags().Changed("settle") {
					window := domain.Tick(settle)
					in.SettleWindow = &window
				}
				summaries, err := sess.svc.Summarize(cmd.Context(), in)
				if err != nil {
					return err
				}
				if err := report.WriteSummaries(state.stdout, outFormat, summaries, report.Options{Styled: outFormat == report.FormatMarkdown}); err != nil {
					return err
				}
				if !copyOut {
					return nil
				}
				csvText, err := report.SummaryCSV(summaries)
				if err != nil {
					return err
				}
				if err := clipboardWriter(csvText); err != nil {
					return fmt.Errorf("copy summary to clipboard: %w", err)
				}
				sess.logger.Info("summary copied to clipboard", "variants", len(summaries))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&runIDs, "run", nil, "restrict to this run id (repeatable)")
	cmd.Flags().StringArrayVar(&variants, "variant", nil, "restrict to this variant (repeatable)")
	cmd.Flags().Float64Var(&settle, "settle", 0, "exclude records first seen within this time of a run's last event")
	cmd.Flags().Float64SliceVarP(&quantiles, "quantile", "q", nil, "latency quantile in [0,1] (repeatable, default from config)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, markdown, csv, json")
	cmd.Flags().BoolVar(&copyOut, "copy", false, "also copy the summary as CSV to the clipboard")
	return cmd
}

// newExportCommand builds `export`.
func newExportCommand(state *cliState) *cobra.Command {
	var (
		runID   string
		outPath string
		pending bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one run's propagation records as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.withSession(cmd.Context(), "export", false, func(sess *session) error {
				records, err := sess.svc.ListRecords(cmd.Context(), runID, app.RecordFilter{PendingOnly: pending})
				if err != nil {
					return err
				}
				out, closeOut, err := openOutput(outPath, state.stdout)
				if err != nil {
					return err
				}
				if out == nil {
					return fmt.Errorf("--out is required")
				}
				writeErr := tracecsv.NewRecordWriter(out).WriteAll(records)
				if err := closeOut(); err != nil && writeErr == nil {
					writeErr = err
				}
				if writeErr != nil {
					return fmt.Errorf("write records: %w", writeErr)
				}
				sess.logger.Info("records exported", "run", runID, "records", len(records), "pending_only", pending)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to export")
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().BoolVar(&pending, "pending", false, "only records that never completed")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

// newServeCommand builds `serve`.
func newServeCommand(state *cliState) *cobra.Command {
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API and MCP tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return state.withSession(ctx, "serve", false, func(sess *session) error {
				cfg := serveradapter.Config{
					HTTPBind:      sess.cfg.Server.HTTPBind,
					APIEndpoint:   sess.cfg.Server.APIEndpoint,
					MCPEndpoint:   sess.cfg.Server.MCPEndpoint,
					ServerName:    state.appName,
					ServerVersion: version,
				}
				if cmd.Flags().Changed("http") {
					cfg.HTTPBind = httpBind
				}
				if cmd.Flags().Changed("api-endpoint") {
					cfg.APIEndpoint = apiEndpoint
				}
				if cmd.Flags().Changed("mcp-endpoint") {
					cfg.MCPEndpoint = mcpEndpoint
				}
				sess.logger.Info("serving", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
				return serveCommandRunner(ctx, cfg, serveradapter.Dependencies{
					Runs:  servercommon.NewAppServiceAdapter(sess.svc),
					Ready: sess.repo.Ping,
				})
			})
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "127.0.0.1:8080", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "/api/v1", "HTTP API base endpoint (default from config)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "/mcp", "MCP streamable HTTP endpoint (default from config)")
	return cmd
}

// newBrowseCommand builds `browse`.
func newBrowseCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse runs and latency summaries in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBrowse(cmd.Context(), state)
		},
	}
}

// runBrowse starts the TUI with console logging muted.
func runBrowse(ctx context.Context, state *cliState) error {
	return state.withSession(ctx, "browse", true, func(sess *session) error {
		m := tui.NewModel(sess.svc, tui.WithSettleWindow(sess.cfg.Summary.SettleWindow))
		sess.logger.Info("starting tui program loop")
		if _, err := programFactory(m).Run(); err != nil {
			return fmt.Errorf("run tui program: %w", err)
		}
		return nil
	})
}

// newPathsCommand builds `paths`.
func newPathsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and log locations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, err := state.resolvePaths()
			if err != nil {
				return err
			}
			out := state.stdout
			_, _ = fmt.Fprintf(out, "app: %s\n", state.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", state.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

// openOutput resolves an output path. "-" writes to stdout and "" disables output.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.TrimSpace(path) {
	case "":
		return nil, noop, nil
	case "-":
		return stdout, noop, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}
