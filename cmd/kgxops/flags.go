package main

import (
	"kgxops/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func addLoaderFlags(fs *pflag.FlagSet) {
	fs.StringSlice("multivalued", nil, "extra array-valued columns")
	fs.String("list-delimiter", "", "delimiter of multivalued fields in TSV/CSV files (default \"|\")")
	fs.StringToString("column-type", nil, "column types for delimited files, e.g. weight=float")
	fs.Int("workers", 0, "files parsed concurrently; 0 uses GOMAXPROCS")
}

// loaderConfig overlays the loader flags that were set on base.
func loaderConfig(cmd *cobra.Command, base config.LoaderConfig) config.LoaderConfig {
	fs := cmd.Flags()
	if fs.Changed("multivalued") {
		base.Multivalued, _ = fs.GetStringSlice("multivalued")
	}
	if fs.Changed("list-delimiter") {
		base.ListDelimiter, _ = fs.GetString("list-delimiter")
	}
	if fs.Changed("column-type") {
		base.ColumnTypes, _ = fs.GetStringToString("column-type")
	}
	if fs.Changed("workers") {
		base.Workers, _ = fs.GetInt("workers")
	}
	return base
}

// files returns the specs named by a path flag, or base when it was not set.
func files(cmd *cobra.Command, flag, recordType string, base []config.FileSpec) []config.FileSpec {
	if !cmd.Flags().Changed(flag) {
		return base
	}
	paths, _ := cmd.Flags().GetStringSlice(flag)
	return config.FileSpecs(recordType, paths...)
}

// boolFlag returns the flag value when it was set, otherwise base.
func boolFlag(cmd *cobra.Command, flag string, base bool) bool {
	if !cmd.Flags().Changed(flag) {
		return base
	}
	v, _ := cmd.Flags().GetBool(flag)
	return v
}

func intFlag(cmd *cobra.Command, flag string, base int) int {
	if !cmd.Flags().Changed(flag) {
		return base
	}
	v, _ := cmd.Flags().GetInt(flag)
	return v
}

func addSingletonFlags(fs *pflag.FlagSet) {
	fs.Bool("keep-singletons", true, "keep nodes without edges")
	fs.Bool("remove-singletons", false, "archive nodes without edges into singleton_nodes")
	fs.Int("min-component-size", 0, "archive connected components with fewer nodes; 0 disables")
}

// singletonPolicy folds the singleton flags over the run file's values.
func singletonPolicy(cmd *cobra.Command, rf config.RunFile) (config.SingletonPolicy, error) {
	keep := rf.KeepSingletons
	if cmd.Flags().Changed("keep-singletons") {
		v, _ := cmd.Flags().GetBool("keep-singletons")
		keep = &v
	}
	return config.SingletonFlags(keep, boolFlag(cmd, "remove-singletons", rf.RemoveSingletons))
}
