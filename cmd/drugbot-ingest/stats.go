package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bull/drugbot/internal/app"
	"github.com/bull/drugbot/internal/index"
	"github.com/bull/drugbot/internal/session"
	"github.com/bull/drugbot/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index counts and recent questions",
	Long:  "Reads the persisted index and session database. No API key is needed.",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closer, err := app.OpenIndexStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	status := session.StatusNotReady
	idx, err := index.Open(ctx, store, &index.Holder{})
	switch {
	case errors.Is(err, index.ErrNoSnapshot):
		fmt.Fprintln(out, "No index has been built yet.")
	case err != nil:
		return fmt.Errorf("load index: %w", err)
	default:
		if idx.Len() > 0 {
			status = session.StatusReady
		}
		fmt.Fprintf(out, "Model:  %s (%d dimensions)\n", idx.Model(), idx.Dimension())
		fmt.Fprintf(out, "Drugs:  %d\n", idx.DrugCount())
		fmt.Fprintf(out, "Chunks: %d\n", idx.Len())
	}
	fmt.Fprintf(out, "Status: %s\n", status)

	if cfg.Sessions.Path == "" {
		return nil
	}
	sessions, err := storage.NewSQLiteStore(cfg.Sessions.Path)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	recent, err := sessions.LoadRecentQuestions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Recent questions:")
	if len(recent) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for i, q := range recent {
		fmt.Fprintf(out, "  %d. %s\n", i+1, q)
	}
	return nil
}
