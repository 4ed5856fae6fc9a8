package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/export"
)

// sweepFlags are the request flags shared by run and submit.
type sweepFlags struct {
	prompt       string
	promptFile   string
	temperatures []float64
	topP         []float64
	model        string
}

func (f *sweepFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "prompt to sweep")
	cmd.Flags().StringVarP(&f.promptFile, "prompt-file", "f", "", "read the prompt from a file")
	cmd.Flags().Float64SliceVarP(&f.temperatures, "temperatures", "t", []float64{0.7}, "temperature values")
	cmd.Flags().Float64SliceVar(&f.topP, "top-p", []float64{1.0}, "top-p values")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model (overrides config default)")
}

func (f *sweepFlags) request() (domain.CreateExperimentRequest, error) {
	prompt := f.prompt
	if f.promptFile != "" {
		data, err := os.ReadFile(f.promptFile)
		if err != nil {
			return domain.CreateExperimentRequest{}, fmt.Errorf("failed to read prompt file: %w", err)
		}
		prompt = string(data)
	}
	return domain.CreateExperimentRequest{
		Prompt: prompt,
		Parameters: domain.ParameterRanges{
			Temperatures: f.temperatures,
			TopP:         f.topP,
		},
		Model: f.model,
	}, nil
}

func newRunCommand(configPath func() string) *cobra.Command {
	var (
		flags  sweepFlags
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one experiment in-process and export the results",
		Example: `  # Sweep three temperatures and two top-p values
  sweep run --prompt "Explain quantum computing" -t 0.2,0.7,1.2 --top-p 0.9,1

  # Write a CSV export to a file
  sweep run -f prompt.txt -t 0.5,1 --format csv -o results.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			req, err := flags.request()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, configPath(), cmd.ErrOrStderr(), appOptions{needsProvider: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			progress := cmd.ErrOrStderr()
			exp, err := a.svc.Run(ctx, req, func(ev domain.ProgressEvent) {
				fmt.Fprintf(progress, "[%d/%d] %s\n", ev.Progress.Current, ev.Progress.Total, ev.Message)
			})
			if err != nil {
				return err
			}

			doc, err := a.svc.Export(ctx, exp.ID, parsed)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), output, doc.Body)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", string(export.FormatJSON), "export format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the export to a file instead of stdout")
	return cmd
}

func newExportCommand(configPath func() string) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <experiment-id>",
		Short: "Export a stored experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, configPath(), cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			doc, err := a.svc.Export(ctx, args[0], parsed)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), output, doc.Body)
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatJSON), "export format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the export to a file instead of stdout")
	return cmd
}

// writeDocument writes body to path, or to stdout when path is empty.
func writeDocument(stdout io.Writer, path string, body []byte) error {
	if path == "" {
		if _, err := stdout.Write(body); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stdout)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
