package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jtomasevic/synapse-cad/internal/ingest"
	ad "github.com/jtomasevic/synapse-cad/pkg/anomaly_detector"
)

type batchOptions struct {
	outDir  string
	workers int
	pattern string
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <data-dir>",
		Short: "Score every CSV series under a directory",
		Long: `Walks data-dir for files matching --pattern, scores each with its own detector
(range taken from the file, refractory window from its length) and writes
timestamp,value,anomaly_score files under --out, mirroring the input layout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, root)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cmd.Flags().Changed("out") {
				rt.cfg.Batch.OutDir = opts.outDir
			}
			if cmd.Flags().Changed("workers") {
				rt.cfg.Batch.Workers = opts.workers
			}
			if cmd.Flags().Changed("pattern") {
				rt.cfg.Batch.Pattern = opts.pattern
			}
			return runBatch(cmd.Context(), rt, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.outDir, "out", "", "results directory (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "files scored in parallel (default from config)")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "file name glob (default from config)")
	return cmd
}

func findSeries(dataDir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	var files []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dataDir, err)
	}
	sort.Strings(files)
	return files, nil
}

func runBatch(ctx context.Context, rt *runtime, dataDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	files, err := findSeries(dataDir, rt.cfg.Batch.Pattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files matching %q under %s", rt.cfg.Batch.Pattern, dataDir)
	}
	rt.logger.Info("batch started", "files", len(files), "workers", rt.cfg.Batch.Workers)

	var anomalies atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rt.cfg.Batch.Workers)
	for _, file := range files {
		file := file
		g.Go(func() error {
			rel, err := filepath.Rel(dataDir, file)
			if err != nil {
				return err
			}
			n, err := scoreFile(ctx, rt, file, filepath.Join(rt.cfg.Batch.OutDir, rel), filepath.ToSlash(rel))
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			anomalies.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	rt.logger.Info("batch finished", "files", len(files), "anomalies", anomalies.Load(), "out_dir", rt.cfg.Batch.OutDir)
	return nil
}

// scoreFile scores one series and returns how many anomalies it reported.
// dst is removed when scoring fails, so no partial result is left behind.
func scoreFile(ctx context.Context, rt *runtime, src, dst, series string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	input, err := ingest.ReadSeries(f)
	f.Close()
	if err != nil {
		return 0, err
	}
	lo, hi, err := ingest.Range(input.Rows)
	if err != nil {
		return 0, err
	}

	d, err := rt.newDetector(lo, hi, len(input.Rows), series)
	if err != nil {
		return 0, err
	}
	rec, err := newRecorder(rt.sink, d, src)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	anomalies, err := writeScores(ctx, d, rec, input, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(dst); rmErr != nil {
			rt.logger.Warn("partial result not removed", "path", dst, "error", rmErr)
		}
		return 0, err
	}

	rt.logger.Info("series scored",
		"series", series,
		"rows", len(input.Rows),
		"min", lo,
		"max", hi,
		"rest_period", d.Config().RestPeriod,
		"anomalies", anomalies,
		"run_id", rec.RunID(),
	)
	return anomalies, nil
}

// writeScores writes timestamp,value,anomaly_score rows, plus the input label
// column when the series has one.
func writeScores(ctx context.Context, d *ad.Detector, rec *recorder, input ingest.Series, out io.Writer) (int, error) {
	labeled := input.HasLabel()
	header := []string{"timestamp", "value", "anomaly_score"}
	if labeled {
		header = append(header, "label")
	}

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return 0, err
	}

	anomalies := 0
	record := make([]string, len(header))
	for step, row := range input.Rows {
		if step%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		res, err := d.ScoreDetailed(row.Value)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", row.Line, err)
		}
		if res.Anomalous {
			anomalies++
		}
		record[0], record[1], record[2] = row.Timestamp, formatFloat(row.Value), formatFloat(res.Score)
		if labeled {
			record[3] = row.Label
		}
		if err := w.Write(record); err != nil {
			return 0, err
		}
		if err := rec.Add(step, row.Timestamp, row.Value, res); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return anomalies, rec.Finish()
}
