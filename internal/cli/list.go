package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func newListCmd() *cobra.Command {
	var state, name string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", strings.ToUpper(state))
			}
			if name != "" {
				q.Set("name", name)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/api/v1/jobs"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			var jobs []model.Job
			if err := json.Unmarshal(resp.Data, &jobs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-26s  %-10s  %-8s  %s\n", "ID", "NAME", "STATE", "ATTEMPTS", "CREATED")
			fmt.Fprintf(out, "%-40s  %-26s  %-10s  %-8s  %s\n", "----", "----", "-----", "--------", "-------")
			for _, j := range jobs {
				fmt.Fprintf(out, "%-40s  %-26s  %-10s  %-8s  %s\n",
					j.ID, j.Name, j.State, fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
					j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(jobs), resp.Pagination.Total)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (queued, running, success, failed, cancelled)")
	cmd.Flags().StringVar(&name, "name", "", "Filter by job name")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs (server default when 0)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	return cmd
}
