package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func newWorkersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/workers")
			if err != nil {
				return fmt.Errorf("list workers: %w", err)
			}

			var workers []model.Worker
			if err := json.Unmarshal(resp.Data, &workers); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(workers) == 0 {
				fmt.Fprintln(out, "No workers registered.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-20s  %-8s  %-5s  %s\n", "ID", "NAME", "STATE", "SLOTS", "LAST SEEN")
			for _, w := range workers {
				fmt.Fprintf(out, "%-40s  %-20s  %-8s  %-5d  %s ago\n",
					w.ID, w.Name, w.State, w.Concurrency, time.Since(w.LastSeen).Round(time.Second))
			}
			return nil
		},
	}
}
