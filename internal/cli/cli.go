package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"taskbench/internal/anthropic"
	"taskbench/internal/config"
	"taskbench/internal/envfile"
	"taskbench/internal/envutil"
	"taskbench/internal/errinfo"
	"taskbench/internal/logging"
	"taskbench/internal/orchestrator"
	"taskbench/internal/pipeline"
	"taskbench/internal/planner"
	"taskbench/internal/recorder"
	"taskbench/internal/session"
	"taskbench/internal/tool"
	"taskbench/internal/tool/database"
	"taskbench/internal/tool/diagram"
	"taskbench/internal/tool/editor"
	"taskbench/internal/tool/shell"
	"taskbench/internal/validate"
)

type runFlags struct {
	mode       string
	configPath string
	sessionID  string
	safeMode   bool
	noExec     bool
	maxTurns   int
	debug      bool
}

// NewRootCommand builds the CLI. The root runs one instruction to a
// terminal state and exits 0 on completed, 1 on aborted.
func NewRootCommand(version string) *cobra.Command {
	flags := &runFlags{}
	root := &cobra.Command{
		Use:           "taskbench [flags] <instruction>",
		Short:         "Run a natural-language task through planner-driven tools",
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, strings.Join(args, " "))
		},
	}
	root.Flags().StringVar(&flags.mode, "mode", "", "tool mode: editor, bash, db, or diagram (default: all tools)")
	root.Flags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	root.Flags().StringVar(&flags.sessionID, "session", "", "resume or name the run id")
	root.Flags().BoolVar(&flags.safeMode, "safe-mode", false, "reject destructive commands and SQL")
	root.Flags().BoolVar(&flags.noExec, "no-exec", false, "mock mode: report operations without running them")
	root.Flags().IntVar(&flags.maxTurns, "max-turns", 0, "override the turn limit")
	root.Flags().BoolVar(&flags.debug, "debug", false, "verbose session logging")
	return root
}

func run(cmd *cobra.Command, flags *runFlags, instruction string) error {
	envfile.Load()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.safeMode {
		cfg.Run.SafeMode = true
	}
	if flags.noExec {
		cfg.Run.NoExec = true
	}
	if flags.maxTurns > 0 {
		cfg.Run.MaxTurns = flags.maxTurns
	}
	if flags.debug || envutil.Bool("TASKBENCH_DEBUG") {
		cfg.Logging.Debug = true
	}

	runID := flags.sessionID
	if runID == "" {
		runID = newRunID()
	}

	log, err := logging.NewSessionLogger(cfg.Logging.Dir, runID, cfg.Logging.Debug)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: session log unavailable: %v\n", err)
	}
	defer log.Close()

	rec, err := recorder.New(cfg.Logging.Dir, runID)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: recorder unavailable: %v\n", err)
		rec = nil
	}
	defer rec.Close()

	if err := os.MkdirAll(cfg.Editor.WorkingRoot, 0o755); err != nil {
		return errinfo.FatalConfiguration("creating workspace: " + err.Error())
	}

	store := session.NewStore(session.Config{
		RunID:      runID,
		EditorRoot: cfg.Editor.WorkingRoot,
		ShellRoot:  cfg.Shell.WorkingRoot,
		SafeMode:   cfg.Run.SafeMode,
		NoExec:     cfg.Run.NoExec,
	})

	validator := validate.New(buildTools(cfg, flags.mode)...)
	pipe := pipeline.New(store, validator, rec, log)

	p, err := buildPlanner(cmd, cfg)
	if err != nil {
		return err
	}

	orch := orchestrator.New(p, pipe, store, validator, log,
		orchestrator.WithMaxTurns(cfg.Run.MaxTurns),
		orchestrator.WithPlannerRetries(cfg.Planner.Retries),
		orchestrator.WithSystemPrompt(orchestrator.SystemPrompt(flags.mode, cfg.Run.SafeMode)),
	)

	outcome, err := orch.Run(cmd.Context(), instruction)
	renderOutcome(cmd, outcome, rec, runID)
	if err != nil {
		return err
	}
	if outcome.Status != orchestrator.StatusCompleted {
		return fmt.Errorf("run aborted: %s", outcome.Reason)
	}
	return nil
}

func buildTools(cfg config.Config, mode string) []tool.Tool {
	available := map[string]tool.Tool{
		"editor": editor.New(),
		"shell": shell.New(
			shell.WithTimeout(cfg.Shell.Timeout),
			shell.WithMaxOutputBytes(cfg.Shell.MaxOutputBytes),
		),
		"database": database.New(
			buildEngine(cfg.Database),
			database.WithStatementTimeout(cfg.Database.StatementTimeout),
			database.WithMaxRows(cfg.Database.MaxRows),
		),
		"diagram": buildDiagram(cfg.Diagram),
	}
	var tools []tool.Tool
	for _, kind := range orchestrator.ModeKinds(mode) {
		if t, ok := available[kind]; ok {
			tools = append(tools, t)
		}
	}
	return tools
}

func buildEngine(cfg config.DatabaseConfig) database.Engine {
	if cfg.DSN != "" {
		return database.NewPostgresEngine(cfg.DSN)
	}
	return database.NewSQLiteEngine(cfg.Path)
}

func buildDiagram(cfg config.DiagramConfig) *diagram.Diagram {
	opts := []diagram.Option{diagram.WithDir(cfg.Dir)}
	if cfg.Render {
		opts = append(opts, diagram.WithRenderer(diagram.NewRenderer()))
	}
	return diagram.New(opts...)
}

func buildPlanner(cmd *cobra.Command, cfg config.Config) (planner.Planner, error) {
	apiKey, err := config.APIKey()
	if err != nil {
		if cfg.Run.NoExec {
			// Offline smoke runs: no credential, no decisions, clean finish.
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: no API key; using an empty scripted planner")
			return planner.NewScriptedPlanner(), nil
		}
		return nil, err
	}
	client := anthropic.NewClient()
	return planner.NewAnthropicPlanner(client, apiKey, cfg.Planner.Model, cfg.Planner.MaxTokens), nil
}

func renderOutcome(cmd *cobra.Command, outcome orchestrator.Outcome, rec *recorder.Recorder, runID string) {
	out := cmd.OutOrStdout()
	for _, turn := range outcome.Turns {
		status := "ok"
		if !turn.Result.Success {
			status = "failed"
			if turn.Result.ErrorKind != "" {
				status = turn.Result.ErrorKind
			}
		}
		fmt.Fprintf(out, "[%02d] %s.%s: %s\n", turn.Call.TurnIndex, turn.Call.Kind, turn.Call.Op, status)
	}
	if outcome.FinalText != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, outcome.FinalText)
	}
	fmt.Fprintf(out, "\nrun %s %s", runID, outcome.Status)
	if outcome.Reason != "" {
		fmt.Fprintf(out, " (%s)", outcome.Reason)
	}
	fmt.Fprintln(out)
	if rec != nil {
		fmt.Fprintln(out, rec.Summary())
		if dropped := rec.Dropped(); dropped > 0 {
			fmt.Fprintf(out, "warning: %d record(s) not persisted\n", dropped)
		}
	}
}

func newRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), suffix)
}
