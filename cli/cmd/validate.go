package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BDNK1/scriptval/runtime"
)

var (
	resultsPath  string
	outputFormat string
)

// ResultsFile is the batch input of the validate command.
type ResultsFile struct {
	Workunits []runtime.Workunit `yaml:"workunits"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a batch of work units",
	Long: `Validate runs init, compare and cleanup for every work unit in a results
file, the way a validation host would, and prints the pairwise match matrix
and the canonical result of each work unit.

A fatal script error terminates the process with exit status 1.

Example:
  scriptval validate --config scriptval.yaml --results results.yaml`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&resultsPath, "results", "r", "results.yaml", "Path to the results file")
	validateCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, json, yaml)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	switch outputFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}

	batch, err := loadResults(resultsPath)
	if err != nil {
		return err
	}

	app, stop, err := bootstrap(ctx, configPath, cmd.ErrOrStderr(), abortOptions...)
	if err != nil {
		return err
	}
	defer func() {
		if err := stop(ctx); err != nil {
			app.Logger.ErrorContext(ctx, "Shutdown failed", "error", err)
		}
	}()

	reports := make([]*runtime.Report, 0, len(batch.Workunits))
	for _, wu := range batch.Workunits {
		reports = append(reports, app.Executor.Run(ctx, wu))
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		return yaml.NewEncoder(out).Encode(reports)
	default:
		for _, report := range reports {
			if err := printReport(out, report); err != nil {
				return err
			}
		}
		return nil
	}
}

// loadResults reads and validates a results file.
func loadResults(path string) (*ResultsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading results: %w", err)
	}

	var batch ResultsFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error unmarshalling results: %w", err)
	}
	if len(batch.Workunits) == 0 {
		return nil, fmt.Errorf("no workunits in %s", path)
	}
	for _, wu := range batch.Workunits {
		if err := wu.Validate(); err != nil {
			return nil, err
		}
	}
	return &batch, nil
}

// printReport writes a work unit report as a status table followed by the
// match matrix, "+" where the row's validator accepted the column result.
func printReport(out io.Writer, report *runtime.Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "workunit %d\n", report.Workunit)
	fmt.Fprintln(w, "RESULT\tAPPID\tINIT\tCLEANUP\tFILES")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", r.Name, r.WorkloadID, r.InitStatus, r.CleanupStatus, len(r.Files))
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "MATCHES")
	for _, r := range report.Results {
		fmt.Fprintf(w, "\t%s", r.Name)
	}
	fmt.Fprintln(w)
	for i, row := range report.Matches {
		fmt.Fprint(w, report.Results[i].Name)
		for j, match := range row {
			mark := "-"
			switch {
			case report.CompareStatus[i][j] != runtime.StatusOK:
				mark = "!"
			case match:
				mark = "+"
			}
			fmt.Fprintf(w, "\t%s", mark)
		}
		fmt.Fprintln(w)
	}

	if i := report.Canonical(); i >= 0 {
		fmt.Fprintf(w, "canonical: %s\n\n", report.Results[i].Name)
	} else {
		fmt.Fprint(w, "canonical: none\n\n")
	}
	return w.Flush()
}
