package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/sutra/internal/app"
	"github.com/MrWong99/sutra/internal/batch"
	"github.com/MrWong99/sutra/internal/pipeline"
)

// maxLineBytes bounds a single input segment.
const maxLineBytes = 1 << 20

// ProcessCmd corrects segments read line by line.
type ProcessCmd struct {
	Files  []string `arg:"" optional:"" type:"existingfile" help:"Input files, one segment per line. Reads stdin when none are given."`
	Out    string   `short:"o" type:"path" help:"Write corrected lines to this file instead of stdout."`
	Report string   `type:"path" help:"Write a JSON-lines report of every segment to this file."`
}

// reportLine is one record of the --report output.
type reportLine struct {
	RunID   string `json:"run_id"`
	Index   int    `json:"index"`
	Changed bool   `json:"changed"`
	*pipeline.Result
}

func (c *ProcessCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	segments, err := c.readSegments()
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	var report io.Writer
	if c.Report != "" {
		f, err := os.Create(c.Report)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		report = f
	}

	sum, err := processSegments(ctx, a.Runner(), segments, out, report)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "sutra: %d segments, %d changed, %d corrections, %d failed (run %s)\n",
		sum.Segments, sum.Changed, sum.Corrections, sum.Failed, sum.RunID)
	if sum.Cancelled > 0 {
		return fmt.Errorf("interrupted: %d segments left unprocessed", sum.Cancelled)
	}
	return nil
}

func (c *ProcessCmd) readSegments() ([]string, error) {
	if len(c.Files) == 0 {
		return readLines(os.Stdin)
	}
	var all []string
	for _, path := range c.Files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		lines, err := readLines(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		all = append(all, lines...)
	}
	return all, nil
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// processSegments runs segments through runner and writes one corrected line
// per segment to out and, when report is non-nil, one JSON record per
// segment to report.
func processSegments(ctx context.Context, runner *batch.Runner, segments []string, out, report io.Writer) (batch.Summary, error) {
	results, sum := runner.Run(ctx, segments)

	w := bufio.NewWriter(out)
	for _, r := range results {
		if _, err := fmt.Fprintln(w, r.Text); err != nil {
			return sum, fmt.Errorf("write output: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return sum, fmt.Errorf("write output: %w", err)
	}

	if report != nil {
		enc := json.NewEncoder(report)
		enc.SetEscapeHTML(false)
		for i, r := range results {
			if err := enc.Encode(reportLine{RunID: sum.RunID, Index: i, Changed: r.Changed(), Result: r}); err != nil {
				return sum, fmt.Errorf("write report: %w", err)
			}
		}
	}
	slog.Debug("process finished", "run_id", sum.RunID, "duration", sum.Duration)
	return sum, nil
}
