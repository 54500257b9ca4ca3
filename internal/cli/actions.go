package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/slideflow/internal/models"
	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/Lllllllleong/slideflow/internal/services"
)

var (
	editRegion      string
	editLabel       string
	editInstruction string
	videoKind       string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <unit|page>",
	Short: "Re-run a deeper content analysis for one page",
	Long:  `Analyze merges the deep model's fields into the page's content. Images, assets and clips are kept.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnit(args[0], func(ctx context.Context, m *pipeline.Machine, id string) error {
			return m.DeepAnalyze(ctx, id)
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <unit|page>",
	Short: "Rewrite the content of one area of a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		region, err := parseRegion(editRegion)
		if err != nil {
			return err
		}
		region.Label = editLabel
		return withUnit(args[0], func(ctx context.Context, m *pipeline.Machine, id string) error {
			return m.EditArea(ctx, id, region, editInstruction)
		})
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <unit|page>",
	Short: "Generate a background or intro clip for a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := pipeline.VideoKind(videoKind)
		return withUnit(args[0], func(ctx context.Context, m *pipeline.Machine, id string) error {
			return m.GenerateVideo(ctx, id, kind)
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <unit|page>",
	Short: "Send a failed page back through the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnit(args[0], func(ctx context.Context, m *pipeline.Machine, id string) error {
			return m.Retry(ctx, id)
		})
	},
}

func init() {
	editCmd.Flags().StringVar(&editRegion, "region", "", "area as x,y,width,height in [0,1]")
	editCmd.Flags().StringVar(&editLabel, "label", "", "name of the area, e.g. title")
	editCmd.Flags().StringVar(&editInstruction, "instruction", "", "what to change")
	_ = editCmd.MarkFlagRequired("region")
	_ = editCmd.MarkFlagRequired("instruction")

	videoCmd.Flags().StringVar(&videoKind, "kind", string(pipeline.VideoBackground), "background or intro")

	rootCmd.AddCommand(analyzeCmd, editCmd, videoCmd, retryCmd)
}

// withUnit resumes the checkpointed run, applies one user action and then
// lets the scheduler pick up whatever the action made eligible.
func withUnit(ref string, action func(ctx context.Context, m *pipeline.Machine, id string) error) error {
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
	id, err := resolveUnit(session.Store, ref)
	if err != nil {
		return err
	}
	if err := action(ctx, session.Machine, id); err != nil {
		return err
	}
	printUnit(session, id)
	return settle(ctx, session)
}

func printUnit(session *services.Session, id string) {
	u, err := session.Store.Get(id)
	if err != nil {
		return
	}
	fmt.Printf("Page %d (%s): %s\n", u.SequenceIndex+1, u.ID, u.Stage)
	if u.Content != nil && u.Content.ActionTitle != "" {
		fmt.Printf("  %s\n", u.Content.ActionTitle)
	}
	if u.LastError != "" {
		fmt.Printf("  note: %s\n", u.LastError)
	}
}

// parseRegion reads "x,y,width,height".
func parseRegion(s string) (models.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return models.Region{}, fmt.Errorf("region %q must be x,y,width,height", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.Region{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = f
	}
	return models.Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
