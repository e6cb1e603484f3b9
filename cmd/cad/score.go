package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jtomasevic/synapse-cad/internal/ingest"
)

type scoreOptions struct {
	min    float64
	max    float64
	rows   int
	series string
}

func newScoreCmd(root *rootOptions) *cobra.Command {
	opts := &scoreOptions{}
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a timestamp,value CSV read from stdin",
		Long: `Reads a CSV with a header line from stdin and prints timestamp,value,score
for every row. The value range must be known up front; --rows is the expected
series length and sizes the refractory window unless rest_period is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, root)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runScore(cmd, rt, opts)
		},
	}
	cmd.Flags().Float64Var(&opts.min, "min", 0, "smallest expected value")
	cmd.Flags().Float64Var(&opts.max, "max", 0, "largest expected value")
	cmd.Flags().IntVar(&opts.rows, "rows", 0, "expected number of rows")
	cmd.Flags().StringVar(&opts.series, "series", "stdin", "series name for logs, metrics and the sink")
	_ = cmd.MarkFlagRequired("min")
	_ = cmd.MarkFlagRequired("max")
	return cmd
}

func runScore(cmd *cobra.Command, rt *runtime, opts *scoreOptions) error {
	d, err := rt.newDetector(opts.min, opts.max, opts.rows, opts.series)
	if err != nil {
		return err
	}
	rec, err := newRecorder(rt.sink, d, opts.series)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()

	reader := ingest.NewReader(cmd.InOrStdin())
	for step := 0; ; step++ {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		res, err := d.ScoreDetailed(row.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", row.Line, err)
		}
		fmt.Fprintf(out, "%s,%s,%s\n", row.Timestamp, formatFloat(row.Value), formatFloat(res.Score))
		if err := rec.Add(step, row.Timestamp, row.Value, res); err != nil {
			return err
		}
	}

	rt.logger.Info("series scored", "series", opts.series, "samples", d.Steps(), "contexts", d.Stats().Contexts)
	return rec.Finish()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
