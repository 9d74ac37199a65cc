package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var argsFile string
	var argsJSON string
	var maxAttempts int
	var wait bool
	var waitPoll time.Duration

	cmd := &cobra.Command{
		Use:   "submit <job-name>",
		Short: "Enqueue a job",
		Long: "Enqueue workflow.compile, workflow.generate_report or neurovault.upload.\n" +
			"Arguments come from a YAML/JSON file (--args) or inline JSON (--args-json).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := model.JobName(args[0])
			if !name.IsKnown() {
				return fmt.Errorf("unknown job %q (want one of %v)", name, model.KnownJobNames)
			}

			jobArgs, err := loadJobArgs(argsFile, argsJSON)
			if err != nil {
				return err
			}
			logger.Debug("job arguments", "bytes", len(jobArgs))

			resp, err := client.Post("/api/v1/jobs", model.EnqueueRequest{
				Name:        name,
				Args:        jobArgs,
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			var job model.Job
			if err := json.Unmarshal(resp.Data, &job); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job queued: %s (%s)\n", job.ID, job.Name)
			if !wait {
				return nil
			}

			final, err := waitForJob(job.ID, waitPoll)
			if err != nil {
				return err
			}
			return printResult(out, final)
		},
	}

	cmd.Flags().StringVarP(&argsFile, "args", "a", "", "Job arguments file (YAML/JSON)")
	cmd.Flags().StringVar(&argsJSON, "args-json", "", "Job arguments as inline JSON")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Deliveries before the job fails (server default when 0)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish and print its result")
	cmd.Flags().DurationVar(&waitPoll, "poll", 2*time.Second, "Polling interval used with --wait")
	return cmd
}

// loadJobArgs returns the job arguments as JSON. YAML files are converted.
func loadJobArgs(path, inline string) (json.RawMessage, error) {
	if path != "" && inline != "" {
		return nil, fmt.Errorf("--args and --args-json are mutually exclusive")
	}
	if inline != "" {
		if !json.Valid([]byte(inline)) {
			return nil, fmt.Errorf("--args-json is not valid JSON")
		}
		return json.RawMessage(inline), nil
	}
	if path == "" {
		return json.RawMessage("{}"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read args: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if !json.Valid(data) {
			return nil, fmt.Errorf("parse args %s: invalid JSON", path)
		}
		return data, nil
	}
	var v map[string]any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert args: %w", err)
	}
	return out, nil
}

// waitForJob polls until the job reaches a terminal state.
func waitForJob(id string, poll time.Duration) (*model.Job, error) {
	for {
		job, err := client.GetJob(id)
		if err != nil {
			return nil, fmt.Errorf("get job: %w", err)
		}
		if job.State.IsTerminal() {
			return job, nil
		}
		logger.Debug("waiting for job", "id", id, "state", job.State)
		time.Sleep(poll)
	}
}
