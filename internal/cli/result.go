package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func newResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <job_id>",
		Short: "Print the result of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client.GetJob(args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			return printResult(cmd.OutOrStdout(), job)
		},
	}
}

// printResult writes the result mapping as indented JSON. A failed job
// prints its error text and returns an error.
func printResult(out io.Writer, job *model.Job) error {
	switch job.State {
	case model.JobStateSuccess:
		data, err := json.MarshalIndent(job.Result, "", "  ")
		if err != nil {
			return fmt.Errorf("format result: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	case model.JobStateFailed:
		fmt.Fprintf(out, "Job %s failed:\n%s\n", job.ID, job.Error)
		return fmt.Errorf("job %s failed", job.ID)
	default:
		return fmt.Errorf("job %s is %s; no result yet", job.ID, job.State)
	}
}
