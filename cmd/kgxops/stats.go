package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"kgxops/internal/graph"

	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show table counts of a store",
		Long:  "Open the store read-only and print the live and archive table counts. With --schema, also print the column union per table and the schema of every loaded file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			withSchema, _ := cmd.Flags().GetBool("schema")
			return a.withEngine(cmd, true, func(ctx context.Context, e *graph.Engine) error {
				out := cmd.OutOrStdout()
				st, err := graph.CollectStats(ctx, e.Store())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, titleStyle.Render("stats"))
				printStats(out, st)
				if !withSchema {
					return nil
				}
				sr, err := graph.BuildSchemaReport(ctx, e.Store())
				if err != nil {
					return err
				}
				printSchemaReport(out, sr)
				return nil
			})
		},
	}
	cmd.Flags().Bool("schema", false, "also print per-table and per-file schemas")
	return cmd
}

func printSchemaReport(w io.Writer, r graph.SchemaReport) {
	for _, t := range r.Tables {
		_, _ = fmt.Fprintf(w, "%s %s\n", titleStyle.Render(t.Table), dimStyle.Render("from "+strings.Join(t.Files, ", ")))
		for _, c := range t.Columns {
			_, _ = fmt.Fprintf(w, "  %s\n", c)
		}
		for _, c := range t.Conflicts {
			_, _ = fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("conflict:"), c)
		}
	}
	if len(r.Files) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, titleStyle.Render("files"))
	for _, f := range r.Files {
		cols := make([]string, 0, len(f.Columns))
		for _, c := range f.Columns {
			cols = append(cols, c.String())
		}
		_, _ = fmt.Fprintf(w, "  %s (%s, %s): %s\n", f.Filename, f.TableType, f.FileSource, strings.Join(cols, ", "))
	}
}
