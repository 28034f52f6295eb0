package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/sutra/internal/config"
	"github.com/MrWong99/sutra/internal/term"
)

// ImportCmd copies the flat-file term tables into the structured store.
type ImportCmd struct{}

func (c *ImportCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	n, err := importTerms(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d entries into %s store\n", n, cfg.Terms.Store.Driver)
	return nil
}

func importTerms(ctx context.Context, cfg *config.Config) (int, error) {
	if cfg.Terms.Store.Driver == config.StoreNone {
		return 0, errors.New("import: terms.store.driver is not configured")
	}
	if len(cfg.Terms.Files) == 0 {
		return 0, errors.New("import: terms.files is empty")
	}
	st, err := term.OpenStore(ctx, string(cfg.Terms.Store.Driver), cfg.Terms.Store.DSN)
	if err != nil {
		return 0, err
	}
	defer st.Close()
	return term.Import(ctx, st, cfg.Terms.Files...)
}

// CheckCmd validates the term tables.
type CheckCmd struct{}

func (c *CheckCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	skipped, err := checkTerms(os.Stdout, cfg.Terms.Files)
	if err != nil {
		return err
	}
	if skipped > 0 {
		return fmt.Errorf("%d records skipped", skipped)
	}
	return nil
}

// checkTerms reports per-file entry counts and skipped records to w and
// returns the total number of skipped records.
func checkTerms(w io.Writer, files []string) (int, error) {
	total, skippedTotal := 0, 0
	for _, path := range files {
		entries, skipped, err := term.CheckFile(path)
		if err != nil {
			return skippedTotal, err
		}
		compounds := 0
		for _, e := range entries {
			if e.Compound {
				compounds++
			}
		}
		fmt.Fprintf(w, "%s: %d entries (%d compound), %d skipped\n", path, len(entries), compounds, len(skipped))
		for _, s := range skipped {
			fmt.Fprintf(w, "  %s\n", s.Error())
		}
		total += len(entries)
		skippedTotal += len(skipped)
	}
	fmt.Fprintf(w, "total: %d entries in %d files, %d skipped\n", total, len(files), skippedTotal)
	return skippedTotal, nil
}
