package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/jobs"
)

// AskCmd submits a question to a running server
var AskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Submit a question",
	Long: `Submit a question to a running qaflow server and print the job id.
With --wait, poll until the job finishes and print the answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// StatusCmd prints the status of a job
var StatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the status of a submitted question",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	askContext   string
	askWait      bool
	askTimeout   time.Duration
	askInterval  time.Duration
	clientServer string
)

func init() {
	AskCmd.Flags().StringVar(&askContext, "context", "", "JSON object with background for the question")
	AskCmd.Flags().BoolVar(&askWait, "wait", false, "Poll until the job finishes")
	AskCmd.Flags().DurationVar(&askTimeout, "timeout", 5*time.Minute, "How long --wait polls before giving up")
	AskCmd.Flags().DurationVar(&askInterval, "interval", time.Second, "Polling interval for --wait")
	for _, c := range []*cobra.Command{AskCmd, StatusCmd} {
		c.Flags().StringVar(&clientServer, "server", "", "Server URL (default: http://localhost:<server.port>)")
	}
}

func serverURL() (string, error) {
	if clientServer != "" {
		return clientServer, nil
	}
	cfg, err := am.Load()
	if err != nil {
		return "", err
	}
	return defaultServerURL(cfg.Server.Port), nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	var jobContext json.RawMessage
	if askContext != "" {
		if !json.Valid([]byte(askContext)) {
			return errors.NewInvalidRequestError("--context must be valid JSON")
		}
		jobContext = json.RawMessage(askContext)
	}

	url, err := serverURL()
	if err != nil {
		return err
	}
	client := newAPIClient(url)

	accepted, err := client.Submit(cmd.Context(), question, jobContext)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Submitted job %s\n", accepted.JobID)
	if !askWait {
		pterm.Info.Printf("Check progress with: qaflow status %s\n", accepted.JobID)
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("Processing...")
	view, err := client.Wait(ctx, accepted.JobID, askInterval, func(v *jobs.View) {
		if spinner != nil && v.Progress != nil && v.Progress.Total > 0 {
			spinner.UpdateText(fmt.Sprintf("Processing (%d/%d stages)...", v.Progress.Current, v.Progress.Total))
		}
	})
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return err
	}
	return printView(view)
}

func runStatus(cmd *cobra.Command, args []string) error {
	url, err := serverURL()
	if err != nil {
		return err
	}
	view, err := newAPIClient(url).Status(cmd.Context(), args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			pterm.Error.Printf("Job %s not found\n", args[0])
		}
		return err
	}
	return printView(view)
}

func printView(view *jobs.View) error {
	switch view.Status {
	case jobs.StatusCompleted:
		pterm.Success.Println("Completed")
		if answer := answerOf(view.Result); answer != "" {
			pterm.Println(answer)
			return nil
		}
	case jobs.StatusFailed:
		pterm.Error.Println(view.Error)
		return nil
	default:
		pterm.Info.Println("Still processing")
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// answerOf extracts the answer text from a pipeline result
func answerOf(result json.RawMessage) string {
	var r struct {
		Answer string `json:"answer"`
	}
	if json.Unmarshal(result, &r) != nil {
		return ""
	}
	return r.Answer
}
