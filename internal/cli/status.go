package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Check the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client.GetJob(args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job: %s\n", job.ID)
			fmt.Fprintf(out, "  Name:     %s\n", job.Name)
			fmt.Fprintf(out, "  State:    %s\n", job.State)
			fmt.Fprintf(out, "  Attempts: %d/%d\n", job.Attempts, job.MaxAttempts)
			if job.WorkerID != "" {
				fmt.Fprintf(out, "  Worker:   %s\n", job.WorkerID)
			}
			fmt.Fprintf(out, "  Created:  %s\n", job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			if job.CompletedAt != nil {
				fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			if job.Error != "" {
				fmt.Fprintf(out, "  Error:    %s\n", job.Error)
			}
			return nil
		},
	}
}
