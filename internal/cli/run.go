package cli

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/slideflow/internal/render"
)

var fresh bool

var runCmd = &cobra.Command{
	Use:   "run <file.pdf>",
	Short: "Ingest a deck and run the pipeline until every page settles",
	Long:  `Run renders the deck and drives every page through the pipeline. When checkpoints already exist the previous run is resumed instead, unless --fresh is given.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the checkpointed run",
	Args:  cobra.NoArgs,
	RunE:  runResume,
}

func init() {
	runCmd.Flags().BoolVar(&fresh, "fresh", false, "discard existing checkpoints and start over")
	rootCmd.AddCommand(runCmd, resumeCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	if fresh {
		if err := rt.ClearCheckpoints(ctx); err != nil {
			return err
		}
	}
	session, _, err := rt.Resume(ctx)
	if err != nil {
		return err
	}
	if session.Store.Len() > 0 {
		slog.Info("Resuming existing run; use --fresh to start over.", "units", session.Store.Len())
		return settle(ctx, session)
	}

	pages, err := render.NewRenderer(slog.Default()).Render(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", args[0], err)
	}
	documentID := uuid.NewString()
	if _, err := session.Machine.Ingest(ctx, documentID, pages); err != nil {
		return err
	}
	slog.Info("Deck ingested.", "documentId", documentID, "pages", len(pages))
	return settle(ctx, session)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	session, _, err := rt.Resume(ctx)
	if err != nil {
		return err
	}
	if session.Store.Len() == 0 {
		return fmt.Errorf("nothing to resume in %s", resolveDataDir())
	}
	return settle(ctx, session)
}
