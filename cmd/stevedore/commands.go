package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kargohq/stevedore/internal/session"
	"github.com/kargohq/stevedore/internal/storage"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upload a file and start an intelligent import",
	Long: `Upload a file and start an intelligent import.

The analysis service inspects the file, recalls what it knows about similar
files, and either asks clarifying questions or goes straight to review.

Examples:
  stevedore import ./carrier_rates.csv
  stevedore import ./zone_surcharges.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s (%d bytes)", path, len(data))
		resp, err := client.postFile(cmd.Context(), "/imports", path, data)
		if err != nil {
			return err
		}

		var sess session.ImportSession
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Import session %s started", sess.SessionID)
		printSession(&sess)
		return nil
	},
}

// --- answer ---

var answerCmd = &cobra.Command{
	Use:   "answer <session-id> <question-id>=<answer> [...]",
	Short: "Answer open questions and re-analyze",
	Long: `Answer open questions and re-analyze.

Examples:
  stevedore answer s-42 q-zone=zone_code q-date="DD/MM/YYYY"
  stevedore answer s-42 q-zone=zone_code --feedback "skip the footer rows"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		feedback, _ := cmd.Flags().GetString("feedback")

		answers := make(map[string]string)
		for _, pair := range args[1:] {
			id, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid answer %q, expected <question-id>=<answer>", pair)
			}
			answers[id] = value
		}
		if len(answers) == 0 && feedback == "" {
			return fmt.Errorf("at least one answer or --feedback is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"answers": answers}
		if feedback != "" {
			body["feedback"] = feedback
		}
		resp, err := client.post(cmd.Context(), "/imports/"+sessionID+"/answers", body)
		if err != nil {
			return err
		}

		var sess session.ImportSession
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Answers submitted")
		printSession(&sess)
		return nil
	},
}

func init() {
	answerCmd.Flags().String("feedback", "", "free-form guidance for the analyst")
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review <session-id>",
	Short: "Show the approval summary for an import awaiting review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/imports/"+args[0]+"/review")
		if err != nil {
			return err
		}

		var summary session.ReviewSummary
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printSummary(&summary)
		return nil
	},
}

// --- approve ---

var approveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Approve and execute a reviewed import",
	Long: `Approve and execute a reviewed import.

Examples:
  stevedore approve s-42
  stevedore approve s-42 --hint table=carrier_rates --hint region=eu`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hintPairs, _ := cmd.Flags().GetStringSlice("hint")
		hints := make(map[string]string)
		for _, pair := range hintPairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid hint %q, expected key=value", pair)
			}
			hints[k] = v
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var body any
		if len(hints) > 0 {
			body = map[string]any{"hints": hints}
		}
		resp, err := client.post(cmd.Context(), "/imports/"+args[0]+"/approve", body)
		if err != nil {
			return err
		}

		var out struct {
			Blocked  bool                   `json:"blocked"`
			Summary  *session.ReviewSummary `json:"summary"`
			Job      *session.AsyncJob      `json:"job"`
			Imported int                    `json:"imported_rows"`
			Failed   int                    `json:"failed_rows"`
			Message  string                 `json:"message"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		switch {
		case out.Blocked:
			printWarning("Import blocked, back in review")
			if out.Summary != nil {
				printSummary(out.Summary)
			}
		case out.Job != nil:
			printSuccess("Import queued as background job %s", out.Job.JobID)
			if out.Job.HumanMessage != "" {
				printStatus("Note", "%s", out.Job.HumanMessage)
			}
		default:
			printSuccess("Import complete: %d row(s) imported, %d failed", out.Imported, out.Failed)
			if out.Message != "" {
				printStatus("Note", "%s", out.Message)
			}
		}
		return nil
	},
}

func init() {
	approveCmd.Flags().StringSlice("hint", nil, "destination hint as key=value (repeatable)")
}

// --- edit ---

var editCmd = &cobra.Command{
	Use:   "edit <session-id>",
	Short: "Return an import under review to questioning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/imports/"+args[0]+"/edit", nil)
		if err != nil {
			return err
		}

		var sess session.ImportSession
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		printSuccess("Back to questioning, answers preserved")
		printSession(&sess)
		return nil
	},
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List tracked background import jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs")
		if err != nil {
			return err
		}

		var jobs []storage.JobRecord
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			printStatus("Jobs", "none")
			return nil
		}
		for _, j := range jobs {
			label := j.Status
			if j.Status == storage.JobProcessing {
				label = fmt.Sprintf("%s (%d%%)", j.Status, j.Progress)
			}
			printStatus(j.JobID, "%s — session %s", label, j.SessionID)
		}
		return nil
	},
}

// printSession renders the session state a user cares about after a command:
// where it is, and what (if anything) is being asked.
func printSession(sess *session.ImportSession) {
	printStatus("Phase", "%s", sess.Phase)
	if sess.Confidence != nil {
		printStatus("Confidence", "%.0f%% (%s risk)", sess.Confidence.Overall*100, sess.Confidence.RiskLevel)
	}
	if sess.Err != nil {
		printError("%s", sess.Err.Message)
		return
	}

	open := sess.UnansweredQuestions()
	if len(open) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr)
	for _, q := range open {
		marker := "?"
		if q.Blocking {
			marker = colorize(colorRed, "!")
		}
		fmt.Fprintf(os.Stderr, "  %s [%s] %s\n", marker, q.ID, q.Text)
		if len(q.Options) > 0 {
			fmt.Fprintf(os.Stderr, "      options: %s\n", strings.Join(q.Options, ", "))
		}
	}
	fmt.Fprintln(os.Stderr)
	printStep("Answer with: stevedore answer %s <question-id>=<answer>", sess.SessionID)
}

func printSummary(summary *session.ReviewSummary) {
	if summary.IsBlocked {
		printWarning("%s", summary.BlockMessage)
		for _, c := range summary.MissingColumns {
			printStatus(c.Name, "%s column missing from destination", c.Type)
		}
		return
	}

	for _, v := range summary.Validations {
		printSuccess("%s", v)
	}
	for _, w := range summary.Warnings {
		printWarning("%s", w)
	}
	for _, c := range summary.NewColumns {
		printStatus("New column", "%s (%s)", c.Name, c.Type)
	}
	if summary.ReadyToImport {
		printStep("Ready to import, run: stevedore approve <session-id>")
	}
}
