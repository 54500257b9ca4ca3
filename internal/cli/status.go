package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/slideflow/internal/checkpoint"
	"github.com/Lllllllleong/slideflow/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stage of every checkpointed page",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every local checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(statusCmd, clearCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, err := checkpoint.Open(resolveDataDir())
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	units, err := store.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No checkpointed units.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "PAGE\tUNIT\tSTAGE\tTITLE\tLAST ERROR")
	for _, u := range units {
		title := ""
		if u.Content != nil {
			title = truncate(u.Content.ActionTitle, 48)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.SequenceIndex+1, u.ID, u.Stage, title, truncate(u.LastError, 60))
	}
	_ = w.Flush()

	status, completed, failed := models.Summarize(units)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %d complete, %d failed, %d total\n", status, completed, failed, len(units))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	store, err := checkpoint.Open(resolveDataDir())
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	if err := store.Clear(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Checkpoints cleared.")
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
