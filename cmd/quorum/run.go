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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/quorum/internal/backend"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/events"
	"github.com/aristath/quorum/internal/observability"
	"github.com/aristath/quorum/internal/oracle"
	"github.com/aristath/quorum/internal/orchestrator"
	"github.com/aristath/quorum/internal/persistence"
	"github.com/aristath/quorum/internal/tui"
)

var (
	runWorkers     string
	runTUI         bool
	runJSON        bool
	runRecord      string
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Solve a task",
	Long: `Solve a task end to end. The task is taken from the arguments, or from
stdin when no arguments are given.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runWorkers, "workers", "", "Worker profile file (YAML or JSON); overrides workers_file")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live run view")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full result as JSON")
	runCmd.Flags().StringVar(&runRecord, "record", "", "Record the finished run in this SQLite journal")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runRun(cmd *cobra.Command, args []string) error {
	task, err := readTask(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := loadDirectory(cfg, runWorkers)
	if err != nil {
		return fmt.Errorf("load workers: %w", err)
	}

	logger, logPath, err := newLogger(runTUI)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics := observability.NewMetrics()
	if addr := firstNonEmpty(runMetricsAddr, cfg.Telemetry.MetricsAddr); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				logger.Error("metrics endpoint failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}

	tracing, err := observability.NewTracerSetup(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	// Subprocess backends are tracked so a shutdown signal can kill them
	pm := backend.NewProcessManager()
	go func() {
		<-ctx.Done()
		if err := pm.KillAll(); err != nil {
			logger.Warn("error killing subprocesses", zap.Error(err))
		}
	}()

	bindings, err := oracle.BuildBindings(cfg, pm)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	client := oracle.NewClient(oracle.ClientConfig{
		Bindings:    bindings,
		Retry:       cfg.Retry,
		CallTimeout: cfg.Engine.CallTimeout.Std(),
		Metrics:     metrics,
		Tracer:      tracing.Tracer(),
		Logger:      logger,
	})
	set := oracle.NewSet(client, cfg.Engine.Judges)

	bus := events.NewEventBus()
	defer bus.Close()

	orch, err := orchestrator.New(orchestrator.Deps{
		Directory:   dir,
		Engine:      cfg.Engine,
		Decomposer:  set.Decomposer,
		Worker:      set.Worker,
		Judges:      set.Judges,
		Synthesizer: set.Synthesizer,
		Ranker:      set.Ranker,
		Scorer:      set.Scorer,
		Analyst:     set.Analyst,
		Bus:         bus,
		Metrics:     metrics,
		Tracer:      tracing.Tracer(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	var res *orchestrator.Result
	if runTUI {
		res, err = runWithTUI(ctx, orch, bus, cfg, task)
	} else {
		res, err = orch.Run(ctx, task)
	}
	if err != nil {
		return err
	}

	if runRecord != "" {
		if err := recordRun(runRecord, res); err != nil {
			logger.Error("failed to record run", zap.String("path", runRecord), zap.Error(err))
		}
	}
	if logPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Logs written to %s\n", logPath)
	}

	if runJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

// runWithTUI runs the orchestrator while the live view is on screen. Quitting
// the view cancels a run still in progress.
func runWithTUI(ctx context.Context, orch *orchestrator.Orchestrator, bus *events.EventBus, cfg *config.QuorumConfig, task string) (*orchestrator.Result, error) {
	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before the run starts so no event is missed
	model := tui.New(bus, cfg, globalPath, projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	type outcome struct {
		res *orchestrator.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orch.Run(runCtx, task)
		done <- outcome{res, err}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return nil, fmt.Errorf("tui: %w", err)
	}

	cancel()
	out := <-done
	return out.res, out.err
}

func recordRun(path string, res *orchestrator.Result) error {
	// The run may have been cancelled; recording uses its own deadline
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveRun(ctx, res)
}

func printJSON(w io.Writer, res *orchestrator.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func printResult(w io.Writer, res *orchestrator.Result) {
	for _, id := range res.Order {
		st := res.SubTasks[id]
		fmt.Fprintf(w, "%-4s %-9s %5.2f  %-12s %s\n", id, st.Status, st.Score, st.WinningWorker, st.Description)
	}
	if res.Deadlock != nil {
		fmt.Fprintf(w, "\nDeadlock: %s\n", res.Deadlock.Err())
	}
	if len(res.Overflow) > 0 {
		fmt.Fprintf(w, "Dropped follow-ups: %v\n", res.Overflow)
	}
	if res.Cancelled {
		fmt.Fprintln(w, "\nRun cancelled before all sub-tasks finished.")
	}
	fmt.Fprintf(w, "\n%s\n", res.FinalAnswer)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
