package main

import (
	"context"
	"fmt"
	"sort"

	"kgxops/internal/config"
	"kgxops/internal/datasource/file"
	kgxerr "kgxops/internal/errors"
	"kgxops/internal/graph"

	"github.com/spf13/cobra"
)

func newJoinCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Load node and edge files into the store",
		Long: "Load KGX node and edge files (TSV, CSV, JSONL or Parquet, optionally compressed) " +
			"into the nodes and edges tables, unioning columns by name. Duplicates are removed " +
			"afterwards unless --preserve-duplicates is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.run.Join()
			cfg.NodeFiles = files(cmd, "nodes", config.RecordNodes, cfg.NodeFiles)
			cfg.EdgeFiles = files(cmd, "edges", config.RecordEdges, cfg.EdgeFiles)
			cfg.PreserveDuplicates = boolFlag(cmd, "preserve-duplicates", cfg.PreserveDuplicates)
			cfg.GenerateProvidedBy = boolFlag(cmd, "generate-provided-by", cfg.GenerateProvidedBy)
			cfg.Loader = loaderConfig(cmd, cfg.Loader)

			return a.withEngine(cmd, false, func(ctx context.Context, e *graph.Engine) error {
				res, err := e.Join(ctx, cfg)
				return report(cmd.OutOrStdout(), res.Summary, err, joinDetails(res)...)
			})
		},
	}
	fs := cmd.Flags()
	fs.StringSlice("nodes", nil, "node files")
	fs.StringSlice("edges", nil, "edge files")
	fs.Bool("preserve-duplicates", false, "keep duplicate ids instead of deduplicating")
	fs.Bool("generate-provided-by", false, "fill provided_by from the file name when absent")
	addLoaderFlags(fs)
	return cmd
}

func newDedupeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dedupe",
		Aliases: []string{"deduplicate"},
		Short:   "Keep one row per node id and edge key",
		Long: "Keep the first row of every duplicated node id and edge key, ordered by file_source " +
			"and provided_by, and archive every row of each duplicated key into duplicate_nodes " +
			"and duplicate_edges.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DeduplicateConfig{
				SkipNodes: boolFlag(cmd, "skip-nodes", false),
				SkipEdges: boolFlag(cmd, "skip-edges", false),
			}
			return a.withEngine(cmd, false, func(ctx context.Context, e *graph.Engine) error {
				res, err := e.Deduplicate(ctx, cfg)
				return report(cmd.OutOrStdout(), res.Summary, err, dedupeDetails(res)...)
			})
		},
	}
	cmd.Flags().Bool("skip-nodes", false, "leave the nodes table untouched")
	cmd.Flags().Bool("skip-edges", false, "leave the edges table untouched")
	return cmd
}

func newNormalizeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite edge endpoints through SSSOM mappings",
		Long: "Load SSSOM mapping files into the mappings table and rewrite edge subjects and " +
			"objects that match a mapping's object_id to its subject_id. Earlier values are kept " +
			"in original_subject and original_object.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.run.Normalize()
			cfg.MappingFiles = files(cmd, "mappings", config.RecordMappings, cfg.MappingFiles)
			cfg.Loader = loaderConfig(cmd, cfg.Loader)

			return a.withEngine(cmd, false, func(ctx context.Context, e *graph.Engine) error {
				res, err := e.Normalize(ctx, cfg)
				return report(cmd.OutOrStdout(), res.Summary, err, normalizeDetails(res)...)
			})
		},
	}
	cmd.Flags().StringSlice("mappings", nil, "SSSOM mapping files")
	addLoaderFlags(cmd.Flags())
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Archive dangling edges, singletons and small components",
		Long: "Move edges whose subject or object is not a node into dangling_edges. Nodes " +
			"without edges are kept unless --remove-singletons is set, and components smaller " +
			"than --min-component-size are archived.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, issues := a.run.Prune()
			if err := config.Err(issues); err != nil {
				return err
			}
			policy, err := singletonPolicy(cmd, a.run)
			if err != nil {
				return kgxerr.Wrap(err, kgxerr.CodeConfigValidateInvalidValue, "singleton flags")
			}
			cfg.Singletons = policy
			cfg.MinComponentSize = intFlag(cmd, "min-component-size", cfg.MinComponentSize)

			return a.withEngine(cmd, false, func(ctx context.Context, e *graph.Engine) error {
				res, err := e.Prune(ctx, cfg)
				return report(cmd.OutOrStdout(), res.Summary, err, pruneDetails(res)...)
			})
		},
	}
	addSingletonFlags(cmd.Flags())
	return cmd
}

func newAppendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append [files...]",
		Short: "Add node and edge files to an existing store",
		Long: "Load more node and edge files into a store that already holds a graph. New " +
			"columns are added with nulls for existing rows. Positional files are classified " +
			"as nodes or edges by name (*_nodes.*, *_edges.*).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.run.Append()
			cfg.NodeFiles = files(cmd, "nodes", config.RecordNodes, cfg.NodeFiles)
			cfg.EdgeFiles = files(cmd, "edges", config.RecordEdges, cfg.EdgeFiles)
			nodes, edges, err := classify(args)
			if err != nil {
				return err
			}
			cfg.NodeFiles = append(cfg.NodeFiles, nodes...)
			cfg.EdgeFiles = append(cfg.EdgeFiles, edges...)
			cfg.Deduplicate = boolFlag(cmd, "deduplicate", cfg.Deduplicate)
			cfg.GenerateProvidedBy = boolFlag(cmd, "generate-provided-by", cfg.GenerateProvidedBy)
			cfg.Loader = loaderConfig(cmd, cfg.Loader)

			return a.withEngine(cmd, false, func(ctx context.Context, e *graph.Engine) error {
				res, err := e.Append(ctx, cfg)
				return report(cmd.OutOrStdout(), res.Summary, err, appendDetails(res)...)
			})
		},
	}
	fs := cmd.Flags()
	fs.StringSlice("nodes", nil, "node files")
	fs.StringSlice("edges", nil, "edge files")
	fs.Bool("deduplicate", false, "deduplicate nodes and edges after appending")
	fs.Bool("generate-provided-by", false, "fill provided_by from the file name when absent")
	addLoaderFlags(fs)
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Run join, deduplicate, normalize and prune in one go",
		Long: "Run the full pipeline: join the node and edge files, deduplicate, normalize " +
			"through the mapping files and prune. Steps after join can be skipped, and with " +
			"--continue-on-step-error a failing step is reported and the next one runs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, issues := a.run.Merge()
			if err := config.Err(issues); err != nil {
				return err
			}
			cfg.NodeFiles = files(cmd, "nodes", config.RecordNodes, cfg.NodeFiles)
			cfg.EdgeFiles = files(cmd, "edges", config.RecordEdges, cfg.EdgeFiles)
			cfg.MappingFiles = files(cmd, "mappings", config.RecordMappings, cfg.MappingFiles)
			cfg.SkipDeduplicate = boolFlag(cmd, "skip-deduplicate", cfg.SkipDeduplicate)
			cfg.SkipNormalize = boolFlag(cmd, "skip-normalize", cfg.SkipNormalize)
			cfg.SkipPrune = boolFlag(cmd, "skip-prune", cfg.SkipPrune)
			cfg.ContinueOnStepError = boolFlag(cmd, "continue-on-step-error", cfg.ContinueOnStepError)
			cfg.GenerateProvidedBy = boolFlag(cmd, "generate-provided-by", cfg.GenerateProvidedBy)
			cfg.MinComponentSize = intFlag(cmd, "min-component-size", cfg.MinComponentSize)
			policy, err := singletonPolicy(cmd, a.run)
			if err != nil {
				return kgxerr.Wrap(err, kgxerr.CodeConfigValidateInvalidValue, "singleton flags")
			}
			cfg.Singletons = policy
			cfg.Loader = loaderConfig(cmd, cfg.Loader)

			return a.withEngine(cmd, false, func(ctx context.Context, e *graph.Engine) error {
				res, err := e.Merge(ctx, cfg)
				return report(cmd.OutOrStdout(), res.Summary, err, mergeDetails(res)...)
			})
		},
	}
	fs := cmd.Flags()
	fs.StringSlice("nodes", nil, "node files")
	fs.StringSlice("edges", nil, "edge files")
	fs.StringSlice("mappings", nil, "SSSOM mapping files")
	fs.Bool("skip-deduplicate", false, "skip the deduplicate step")
	fs.Bool("skip-normalize", false, "skip the normalize step")
	fs.Bool("skip-prune", false, "skip the prune step")
	fs.Bool("continue-on-step-error", false, "report a failed step and run the next one")
	fs.Bool("generate-provided-by", false, "fill provided_by from the file name when absent")
	addSingletonFlags(fs)
	addLoaderFlags(fs)
	return cmd
}

// classify sorts positional files into node and edge specs by name.
func classify(paths []string) (nodes, edges []config.FileSpec, err error) {
	for _, p := range paths {
		switch kind := file.RecordKind(p); kind {
		case config.RecordNodes:
			nodes = append(nodes, config.FileSpec{Path: p, RecordType: kind})
		case config.RecordEdges:
			edges = append(edges, config.FileSpec{Path: p, RecordType: kind})
		default:
			return nil, nil, kgxerr.New(kgxerr.CodeConfigValidateInvalidValue,
				fmt.Sprintf("cannot tell whether %s holds nodes or edges; use --nodes or --edges", p),
				kgxerr.FieldPath(p))
		}
	}
	return nodes, edges, nil
}

func joinDetails(r *graph.JoinResult) []string {
	out := tableLoadDetails(r.Nodes, r.Edges)
	if r.Dedupe != nil {
		out = append(out, dedupeDetails(r.Dedupe)...)
	}
	return out
}

func tableLoadDetails(loads ...graph.TableLoad) []string {
	var out []string
	for _, l := range loads {
		if l.Table == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %d rows from %d files (%d before)", l.Table, l.RowsAdded, l.Files, l.RowsBefore))
	}
	return out
}

func dedupeDetails(r *graph.DedupeResult) []string {
	var out []string
	for _, c := range []graph.DedupeCounts{r.Nodes, r.Edges} {
		if c.Table == "" || c.Skipped {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %d -> %d rows, %d duplicate keys, %d rows archived",
			c.Table, c.Before, c.After, c.DuplicateKeys, c.Archived))
	}
	return out
}

func normalizeDetails(r *graph.NormalizeResult) []string {
	return []string{
		fmt.Sprintf("mappings: %d used, %d duplicates discarded", r.Mappings, r.DuplicateMappings),
		fmt.Sprintf("edges: %d normalized (%d subjects, %d objects)", r.EdgesNormalized, r.SubjectsNormalized, r.ObjectsNormalized),
	}
}

func pruneDetails(r *graph.PruneResult) []string {
	out := []string{fmt.Sprintf("dangling edges: %d", r.DanglingEdges)}
	sources := make([]string, 0, len(r.DanglingBySource))
	for s := range r.DanglingBySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		out = append(out, fmt.Sprintf("  %s: %d edges, %d missing nodes", s, r.DanglingBySource[s], r.MissingNodesBySource[s]))
	}
	out = append(out, fmt.Sprintf("singletons (%s): %d found, %d archived", r.Singletons, r.SingletonNodes, r.SingletonsArchived))
	if r.Components.MinSize > 1 {
		out = append(out, fmt.Sprintf("components below %d: %d of %d archived (%d nodes, %d edges)",
			r.Components.MinSize, r.Components.Archived, r.Components.Components, r.Components.Nodes, r.Components.Edges))
	}
	return out
}

func appendDetails(r *graph.AppendResult) []string {
	out := tableLoadDetails(r.Nodes, r.Edges)
	out = append(out, r.SchemaChanges...)
	if r.Dedupe != nil {
		out = append(out, dedupeDetails(r.Dedupe)...)
	}
	return out
}

func mergeDetails(r *graph.MergeResult) []string {
	var out []string
	if r.Join != nil {
		out = append(out, joinDetails(r.Join)...)
	}
	if r.Dedupe != nil {
		out = append(out, dedupeDetails(r.Dedupe)...)
	}
	if r.Normalize != nil {
		out = append(out, normalizeDetails(r.Normalize)...)
	}
	if r.Prune != nil {
		out = append(out, pruneDetails(r.Prune)...)
	}
	return out
}
