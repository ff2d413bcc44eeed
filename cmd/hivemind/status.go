package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/memory"
	"github.com/hivemind-dev/hivemind/internal/state"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

var statusDBPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordination state",
	Long: `Display the persisted state of the swarm.

Shows:
  - Known objectives, their strategies and outcomes
  - Task counts per status
  - Registered agents and their track records`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", "", "Path to the coordination database (default from config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := statusDBPath
	if dbPath == "" {
		dbPath = cfg.Memory.DBPath
	}
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No coordination state. Run 'hivemind run <objective>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	namespaces, err := db.Namespaces()
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}

	bold := color.New(color.Bold)
	printedAny := false
	for _, ns := range namespaces {
		if !strings.HasPrefix(ns, memory.NamespaceCoordination+"/") || ns == memory.NamespaceCoordination+"/agents" {
			continue
		}

		rec, err := db.GetRecord(ns, "objective")
		if err != nil {
			continue
		}
		var obj models.Objective
		if err := json.Unmarshal(rec.Value, &obj); err != nil {
			continue
		}

		printedAny = true
		bold.Printf("Objective %s: %s\n", obj.ID, obj.Description)
		fmt.Printf("  strategy=%s topology=%s submitted=%s\n",
			obj.Strategy, obj.Topology, obj.CreatedAt.Format("2006-01-02 15:04:05"))
		printObjectiveStatus(&obj)
		printTaskCounts(db, ns)
	}

	if !printedAny {
		fmt.Println("No objectives recorded.")
	}

	printAgents(db)
	return nil
}

func printObjectiveStatus(obj *models.Objective) {
	switch obj.Status {
	case models.ObjectiveStatusCompleted:
		color.Green("  status=%s", obj.Status)
	case models.ObjectiveStatusFailed:
		if obj.Failure != nil {
			color.Red("  status=%s task=%s reason=%s", obj.Status, obj.Failure.TaskID, obj.Failure.Reason)
		} else {
			color.Red("  status=%s", obj.Status)
		}
	case models.ObjectiveStatusCancelled:
		color.Yellow("  status=%s", obj.Status)
	default:
		fmt.Printf("  status=%s\n", obj.Status)
	}
}

func printTaskCounts(db *state.DB, ns string) {
	records, err := db.ListNamespace(ns)
	if err != nil {
		return
	}

	counts := make(map[models.TaskStatus]int)
	total := 0
	for _, rec := range records {
		if !strings.HasPrefix(rec.Key, "task/") {
			continue
		}
		var task models.Task
		if err := json.Unmarshal(rec.Value, &task); err != nil {
			continue
		}
		counts[task.Status]++
		total++
	}
	if total == 0 {
		return
	}

	parts := make([]string, 0, len(counts))
	for _, status := range []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusAssigned,
		models.TaskStatusRunning, models.TaskStatusCompleted, models.TaskStatusFailed,
		models.TaskStatusCancelled,
	} {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", status, counts[status]))
		}
	}
	fmt.Printf("  tasks: %d (%s)\n", total, strings.Join(parts, " "))
}

func printAgents(db *state.DB) {
	records, err := db.ListNamespace(memory.NamespaceCoordination + "/agents")
	if err != nil || len(records) == 0 {
		return
	}

	color.New(color.Bold).Println("Agents")
	for _, rec := range records {
		var agent models.Agent
		if err := json.Unmarshal(rec.Value, &agent); err != nil {
			continue
		}
		fmt.Printf("  %-16s type=%-11s status=%-8s completed=%d failed=%d\n",
			agent.ID, agent.Type, agent.Status, agent.Performance.Completed, agent.Performance.Failed)
	}
}
