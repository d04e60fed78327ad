package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"helix/internal/infra/store"
	"helix/internal/observability"
	"helix/internal/orchestrator"
	"helix/internal/workflow"
)

func newSubmitCommand() *cobra.Command {
	var requestPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new Job from a JSON initial_request file and print its IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmitJob(cmd, requestPath)
		},
	}
	cmd.Flags().StringVar(&requestPath, "request", "", "path to a JSON file holding the job's initial_request")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func runSubmitJob(cmd *cobra.Command, requestPath string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	raw, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("read initial request %s: %w", requestPath, err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("initial request %s is not valid JSON", requestPath)
	}

	def, err := workflow.Load(cfg.WorkflowPath)
	if err != nil {
		return fmt.Errorf("load workflow definition: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	s := store.NewPostgresStore(pool)
	orch := orchestrator.New(s, def, observability.NewMetrics())

	job, task, err := orch.SubmitJob(ctx, raw, nil)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "job_id=%s task_id=%s agent_id=%s\n", job.JobID, task.TaskID, task.AgentID)
	return nil
}
