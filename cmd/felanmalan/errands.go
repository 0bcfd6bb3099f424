package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
	"github.com/osvaldoandrade/felanmalan/pkg/geo"
)

func errandsCmd(g *globals, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errands",
		Short: "Browse open reports",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List open reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			markers, err := fetchMarkers(cmd.Context(), g)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(markers)
			}
			printMarkers(cmd.OutOrStdout(), ui, markers)
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	var at string
	near := &cobra.Command{
		Use:     "near",
		Short:   "Check for an open report close to a location",
		Example: "felanmalan errands near --at 617144,6921822",
		RunE: func(cmd *cobra.Command, args []string) error {
			x, y, err := parsePoint(at)
			if err != nil {
				return err
			}
			markers, err := fetchMarkers(cmd.Context(), g)
			if err != nil {
				return err
			}
			describeNearest(cmd.OutOrStdout(), ui, domain.Point{X: x, Y: y}, markers)
			return nil
		},
	}
	near.Flags().StringVar(&at, "at", "", "Location as x,y in SWEREF 99 TM")
	_ = near.MarkFlagRequired("at")

	cmd.AddCommand(list, near)
	return cmd
}

func attachmentCmd(g *globals, ui *ui) *cobra.Command {
	var output string
	get := &cobra.Command{
		Use:   "get <errandId> <attachmentId>",
		Short: "Download an attachment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Downloading attachment..."
			spin.Start()
			att, err := g.client().Attachment(ctxOf(cmd), args[0], args[1])
			spin.Stop()
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(att.Data)
				return err
			}
			if err := os.WriteFile(output, att.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Saved %s (%s, %s)\n", ui.ok("[OK]"), output, att.ContentType, humanBytes(len(att.Data)))
			return nil
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")

	cmd := &cobra.Command{
		Use:   "attachment",
		Short: "Attachment operations",
	}
	cmd.AddCommand(get)
	return cmd
}

func healthCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the API is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().Health(ctxOf(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is up\n", ui.ok("[OK]"), g.baseURL)
			return nil
		},
	}
}

func fetchMarkers(ctx context.Context, g *globals) ([]domain.ErrandMarker, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " Fetching open reports..."
	spin.Start()
	defer spin.Stop()
	return g.client().ActiveErrands(ctx)
}

func printMarkers(out io.Writer, ui *ui, markers []domain.ErrandMarker) {
	if len(markers) == 0 {
		fmt.Fprintln(out, ui.dim("no open reports"))
		return
	}
	for _, m := range markers {
		status := ui.info(string(m.Status))
		if m.Status == domain.StatusNew {
			status = ui.warn(string(m.Status))
		}
		fmt.Fprintf(out, "%-12s %-8s %-12s %.0f,%.0f  %s\n",
			firstNonEmpty(m.ErrandNumber, m.ID), status, emptyOr(m.ClassificationType, "-"),
			m.Coordinates.X, m.Coordinates.Y, ui.dim(m.Title))
	}
	fmt.Fprintf(out, "%s %d open reports\n", ui.info("[INFO]"), len(markers))
}

func describeNearest(out io.Writer, ui *ui, p domain.Point, markers []domain.ErrandMarker) {
	if dup, ok := geo.FindDuplicate(p, markers); ok {
		_, dist, _ := geo.Nearest(p, markers)
		fmt.Fprintf(out, "%s Possible duplicate: %s %.1f m away (%s)\n",
			ui.warn("[WARN]"), firstNonEmpty(dup.ErrandNumber, dup.ID), dist, emptyOr(dup.Title, "untitled"))
		return
	}
	if m, dist, ok := geo.Nearest(p, markers); ok {
		fmt.Fprintf(out, "%s No open report within %.0f m, nearest is %s at %.0f m\n",
			ui.ok("[OK]"), geo.DuplicateRadius, firstNonEmpty(m.ErrandNumber, m.ID), dist)
		return
	}
	fmt.Fprintf(out, "%s No open reports\n", ui.ok("[OK]"))
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
