package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/fang"
	serveradapter "github.com/evanschultz/gossiptrace/internal/adapters/server"
	"github.com/evanschultz/gossiptrace/internal/adapters/storage/sqlite"
	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/config"
	"github.com/evanschultz/gossiptrace/internal/domain"
	"github.com/evanschultz/gossiptrace/internal/platform"
	"github.com/evanschultz/gossiptrace/internal/platform/telemetry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version is stamped at build time.
var version = "dev"

// program is the slice of a tea program the browse command drives.
type program interface {
	Run() (tea.Model, error)
}

// programFactory builds the browse program.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes one CLI invocation.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	envCfg, err := config.ParseEnv()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return err
	}
	state := &cliState{stdout: stdout, stderr: stderr, env: envCfg}
	root := newRootCommand(state)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// cliState carries global flag values shared by every subcommand.
type cliState struct {
	stdout io.Writer
	stderr io.Writer
	env    config.Env

	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// newRootCommand wires global flags and every subcommand.
func newRootCommand(state *cliState) *cobra.Command {
	defaultDevMode := version == "dev"
	if state.env.DevMode != nil {
		defaultDevMode = *state.env.DevMode
	}

	root := &cobra.Command{
		Use:   "gossiptrace",
		Short: "Measure how long replicated items take to reach every follower",
		Long: "gossiptrace replays gossip simulation traces, tracks when each stored item\n" +
			"has reached every node that follows its owner, and summarizes propagation latency.",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBrowse(cmd.Context(), state)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&state.configPath, "config", "", "path to config TOML")
	flags.StringVar(&state.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&state.appName, "app", state.env.AppName, "application name for config/data path resolution")
	flags.BoolVar(&state.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev) and the dev log file")

	root.AddCommand(
		newReplayCommand(state),
		newRunsCommand(state),
		newSummaryCommand(state),
		newExportCommand(state),
		newServeCommand(state),
		newBrowseCommand(state),
		newPathsCommand(state),
	)
	return root
}

// resolvePaths returns platform paths for the selected app name and mode.
func (s *cliState) resolvePaths() (platform.Paths, error) {
	return platform.Resolve(platform.Options{
		AppName: s.appName,
		DevMode: s.devMode,
	})
}

// session is the opened runtime state of one data command.
type session struct {
	cfg        config.Config
	configPath string
	logger     *runtimeLogger
	repo       *sqlite.Repository
	svc        *app.Service
	shutdown   func(context.Context) error
}

// open resolves config, starts logging and telemetry, and opens storage.
// quietConsole keeps runtime logs off the terminal, e.g. while the TUI owns it.
func (s *cliState) open(ctx context.Context, command string, quietConsole bool) (*session, error) {
	paths, err := s.resolvePaths()
	if err != nil {
		return nil, err
	}

	configPath := strings.TrimSpace(s.configPath)
	if configPath == "" {
		configPath = strings.TrimSpace(s.env.ConfigPath)
	}
	if configPath == "" {
		configPath = paths.ConfigPath
	}
	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	cfg = s.env.Apply(cfg)
	if dbPath := strings.TrimSpace(s.dbPath); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %q: %w", configPath, err)
	}

	logger, err := newRuntimeLogger(s.stderr, s.appName, s.devMode, cfg.Logging, paths.LogDir, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if quietConsole {
		logger.SetConsoleEnabled(false)
	}
	sess := &session{cfg: cfg, configPath: configPath, logger: logger}

	logger.Info("startup configuration resolved", "app", s.appName, "dev_mode", s.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	shutdown, err := telemetry.Setup(ctx, s.appName, version, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		sess.Close(s.stderr)
		return nil, fmt.Errorf("configure telemetry: %w", err)
	}
	sess.shutdown = shutdown
	if cfg.Telemetry.OTLPEndpoint != "" {
		logger.Info("trace export enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		sess.Close(s.stderr)
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	sess.repo = repo
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	sess.svc = app.NewService(repo, uuid.NewString, time.Now, app.ServiceConfig{
		BatchSize:    cfg.Replay.BatchSize,
		SettleWindow: domain.Tick(cfg.Summary.SettleWindow),
		Quantiles:    cfg.Summary.Quantiles,
		Logger:       logger,
	})
	logger.Debug("application service initialized", "batch_size", cfg.Replay.BatchSize, "settle_window", cfg.Summary.SettleWindow)
	return sess, nil
}

// Close releases storage, flushes telemetry, and closes the log file.
func (s *session) Close(stderr io.Writer) {
	if s == nil {
		return
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Warn("sqlite close failed", "db_path", s.cfg.Database.Path, "err", err)
		}
	}
	if s.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", "err", err)
		}
		cancel()
	}
	if err := s.logger.Close(); err != nil && s.logger.shouldLogToSink(s.logger.consoleSink) {
		_, _ = fmt.Fprintf(stderr, "warning: close runtime log sink: %v\n", err)
	}
}

// withSession runs fn inside an opened session and logs its outcome.
func (s *cliState) withSession(ctx context.Context, command string, quietConsole bool, fn func(*session) error) error {
	sess, err := s.open(ctx, command, quietConsole)
	if err != nil {
		return err
	}
	defer sess.Close(s.stderr)

	sess.logger.Info("command flow start", "command", command)
	if err := fn(sess); err != nil {
		if errors.Is(err, domain.ErrOrderingViolation) {
			sess.logger.Error("trace rejected", "command", command, "err", err)
		} else {
			sess.logger.Error("command flow failed", "command", command, "err", err)
		}
		return fmt.Errorf("run %s command: %w", command, err)
	}
	sess.logger.Info("command flow complete", "command", command)
	return nil
}
