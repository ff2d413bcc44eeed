package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/coordinator"
	"github.com/hivemind-dev/hivemind/internal/executor"
	"github.com/hivemind-dev/hivemind/internal/memory"
	"github.com/hivemind-dev/hivemind/internal/state"
	"github.com/hivemind-dev/hivemind/internal/topology"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

var (
	runDecompose string
	runPriority  string
	runConsensus bool
	runTopology  string
	runAgents    string
	runDBPath    string
	runTimeout   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Run an objective with a local agent swarm",
	Long: `Run an objective through the coordination engine.

The objective is decomposed into a task graph, a coordination strategy is
selected, and tasks are scheduled onto a pool of local agents until the
objective completes or fails.

Decomposition templates (--decompose):
  - development: plan, implement, test, document phases
  - research:    gather, analyze, synthesize phases

The agent pool is described by --agents as type=count pairs, for example:
  hivemind run --agents coder=2,tester=1,documenter=1 "ship the parser"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runObjective,
}

func init() {
	runCmd.Flags().StringVar(&runDecompose, "decompose", "", "Decomposition template (development, research; default inferred)")
	runCmd.Flags().StringVar(&runPriority, "priority", "normal", "Task priority (low, normal, high, critical)")
	runCmd.Flags().BoolVar(&runConsensus, "consensus", false, "Route the objective through consensus-driven coordination")
	runCmd.Flags().StringVar(&runTopology, "topology", "", "Preferred topology (mesh, hierarchical, ring, star)")
	runCmd.Flags().StringVar(&runAgents, "agents", "architect=1,coder=2,tester=1,documenter=1", "Agent pool as type=count pairs")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "Path to the coordination database (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "Give up after this long")
}

func runObjective(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	priority, err := parsePriority(runPriority)
	if err != nil {
		return err
	}

	dbPath := runDBPath
	if dbPath == "" {
		dbPath = cfg.Memory.DBPath
	}
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store := memory.NewStore(
		memory.WithDurable(db),
		memory.WithCacheCapacity(cfg.Memory.CacheCapacity),
		memory.WithSweepInterval(cfg.Memory.SweepInterval),
	)
	defer store.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	logger, err := coordinator.NewDebugLogger(filepath.Join(cwd, ".hivemind", "logs", "coordinator-debug.log"))
	if err != nil {
		logger = coordinator.NopLogger()
	}
	defer logger.Close()

	coord := coordinator.New(
		&executor.Local{Latency: 250 * time.Millisecond},
		coordinator.WithConfig(cfg.Coordinator),
		coordinator.WithStore(store),
		coordinator.WithLogger(logger),
	)
	if err := coord.Recover(); err != nil {
		return fmt.Errorf("recover state: %w", err)
	}

	if err := registerPool(coord, runAgents); err != nil {
		return err
	}

	watcher, err := coordinator.NewControlWatcher(cwd, coord)
	if err != nil {
		return fmt.Errorf("start control watcher: %w", err)
	}
	defer watcher.Close()

	obj, err := coord.SubmitObjective(coordinator.ObjectiveSpec{
		Description:       strings.Join(args, " "),
		Decompose:         runDecompose,
		Priority:          priority,
		ConsensusRequired: runConsensus,
		PreferredTopology: topology.Kind(runTopology),
	})
	if err != nil {
		return fmt.Errorf("submit objective: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("Objective %s: %s\n", obj.ID, obj.Description)
	fmt.Printf("  strategy=%s topology=%s tasks=%d\n", obj.Strategy, obj.Topology, len(obj.TaskIDs))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		coord.Run(ctx)
	}()

	final, err := watchObjective(ctx, coord, obj.ID)
	cancel()
	<-runDone
	if err != nil {
		return err
	}

	switch final.Status {
	case models.ObjectiveStatusCompleted:
		color.Green("Objective %s completed", final.ID)
		return nil
	case models.ObjectiveStatusCancelled:
		color.Yellow("Objective %s cancelled", final.ID)
		return nil
	default:
		if final.Failure != nil {
			color.Red("Objective %s failed: task %s: %s", final.ID, final.Failure.TaskID, final.Failure.Reason)
		} else {
			color.Red("Objective %s failed", final.ID)
		}
		return fmt.Errorf("objective %s did not complete", final.ID)
	}
}

// watchObjective prints coordinator events until the objective reaches a
// terminal state.
func watchObjective(ctx context.Context, coord *coordinator.Coordinator, objectiveID string) (models.Objective, error) {
	for {
		select {
		case <-ctx.Done():
			obj, err := coord.Objective(objectiveID)
			if err != nil {
				return models.Objective{}, err
			}
			return obj, nil
		case ev := <-coord.Events():
			printEvent(ev)
			if ev.ObjectiveID != objectiveID {
				continue
			}
			switch ev.Type {
			case coordinator.EventObjectiveCompleted, coordinator.EventObjectiveFailed, coordinator.EventObjectiveCancelled:
				return coord.Objective(objectiveID)
			}
		}
	}
}

func printEvent(ev coordinator.Event) {
	stamp := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case coordinator.EventTaskCompleted:
		color.Green("[%s] %s %s (agent %s)", stamp, ev.Type, ev.TaskID, ev.AgentID)
	case coordinator.EventTaskFailed, coordinator.EventObjectiveFailed:
		color.Red("[%s] %s %s %s", stamp, ev.Type, ev.TaskID, ev.Message)
	case coordinator.EventAgentStalled, coordinator.EventTaskRetried, coordinator.EventTaskStolen:
		color.Yellow("[%s] %s %s%s %s", stamp, ev.Type, ev.TaskID, ev.AgentID, ev.Message)
	default:
		fmt.Printf("[%s] %s %s%s %s\n", stamp, ev.Type, ev.TaskID, ev.AgentID, ev.Message)
	}
}

// registerPool registers local agents described as type=count pairs.
func registerPool(coord *coordinator.Coordinator, spec string) error {
	counts := make(map[models.AgentType]int)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		typ := models.AgentType(kv[0])
		n := 1
		if len(kv) == 2 {
			parsed, err := strconv.Atoi(kv[1])
			if err != nil || parsed < 1 {
				return fmt.Errorf("invalid agent count in %q", part)
			}
			n = parsed
		}
		counts[typ] += n
	}
	if len(counts) == 0 {
		return fmt.Errorf("agent pool %q is empty", spec)
	}

	for typ, n := range counts {
		for i := 1; i <= n; i++ {
			id := fmt.Sprintf("%s-%d", typ, i)
			if _, err := coord.Register(models.Agent{ID: id, Type: typ}); err != nil {
				return fmt.Errorf("register agent %s: %w", id, err)
			}
		}
	}
	return nil
}

func parsePriority(s string) (models.TaskPriority, error) {
	switch strings.ToLower(s) {
	case "low":
		return models.PriorityLow, nil
	case "", "normal":
		return models.PriorityNormal, nil
	case "high":
		return models.PriorityHigh, nil
	case "critical":
		return models.PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}
