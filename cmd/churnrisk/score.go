package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"churnrisk/db"
	"churnrisk/pipeline"
)

type scoreOptions struct {
	in        string
	out       string
	charset   string
	delimiter string
}

func newScoreCommand(configPath *string) *cobra.Command {
	var opts scoreOptions
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a CSV file offline and write churn_predictions.csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return runScore(a, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.in, "in", "i", "-", "Input CSV file, - for stdin")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "churn_predictions.csv", "Output CSV file, - for stdout")
	cmd.Flags().StringVar(&opts.charset, "charset", "", "Input encoding, e.g. windows-1252 (default UTF-8)")
	cmd.Flags().StringVar(&opts.delimiter, "delimiter", "", "Field separator (detected when empty)")
	return cmd
}

func runScore(a *app, opts scoreOptions, stdout, stderr io.Writer) error {
	readOpts := pipeline.ReadOptions{Charset: opts.charset}
	if opts.delimiter != "" {
		if utf8.RuneCountInString(opts.delimiter) != 1 {
			return fmt.Errorf("delimiter must be a single character, got %q", opts.delimiter)
		}
		readOpts.Delimiter, _ = utf8.DecodeRuneInString(opts.delimiter)
	}

	var in io.Reader = os.Stdin
	if opts.in != "-" {
		f, err := os.Open(opts.in)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	table, err := pipeline.ReadTable(in, readOpts)
	if err != nil {
		return err
	}

	var observer pipeline.Observer
	if a.cfg.Database.Path != "" {
		if err := db.InitDB(a.cfg.Database.Path); err != nil {
			a.logger.Warn("run log unavailable", zap.Error(err))
		} else {
			defer db.Close()
			observer = db.NewRunRecorder(a.logger)
		}
	}
	predictor := pipeline.NewPredictor(a.registry, a.model,
		pipeline.WithMaxRows(a.cfg.Batch.MaxRows),
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithObserver(observer))

	res, err := predictor.PredictBatch(table)
	if err != nil {
		return err
	}

	if err := writeOutput(opts.out, stdout, res); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "scored %d rows (run %s)\n", len(res.Records), res.RunID)
	tw := tabwriter.NewWriter(stderr, 0, 0, 2, ' ', 0)
	for _, label := range pipeline.RiskLabels {
		fmt.Fprintf(tw, "  %s\t%d\n", label.Title(), res.Labels[label])
	}
	fmt.Fprintf(tw, "  substituted values\t%d\n", len(res.Substitutions))
	return tw.Flush()
}

func writeOutput(path string, stdout io.Writer, res *pipeline.BatchResult) error {
	if path == "-" {
		return pipeline.WriteTable(stdout, res.Header, res.Records)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := pipeline.WriteTable(w, res.Header, res.Records); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newSchemaCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the expected input fields and model metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			out := cmd.OutOrStdout()
			info := a.model.Info()
			fmt.Fprintf(out, "model %s %s (%s) sha256=%s\n\n", info.Name, info.Version, info.Type, info.SHA256)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tFIELD\tKIND\tDEFAULT")
			for i, spec := range a.registry.Fields() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, spec.Name, spec.Kind, spec.Default)
			}
			return tw.Flush()
		},
	}
}

func newRunsCommand(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent scoring runs from the run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Path == "" {
				return fmt.Errorf("database.path is not configured")
			}
			if err := db.InitDB(cfg.Database.Path); err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.RecentRuns(limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}
