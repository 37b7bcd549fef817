package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/scheduler"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create, drop or reset the person and relationship tables",
	}
	sub := func(use, short string, op func(App, context.Context) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				return op(a, cmd.Context())
			},
		}
	}
	cmd.AddCommand(
		sub("create", "Create the tables if they do not exist", App.CreateSchema),
		sub("drop", "Drop the tables and every stored row", App.DropSchema),
		sub("reset", "Drop then recreate the tables", App.ResetSchema),
	)
	return cmd
}

func newSeedCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Insert unprocessed persons from a list of profile URLs or ids",
		Long: `Each non-empty line contributes the text after its last '/' as a person id.
Use --filter to keep only lines containing a substring, e.g. --filter plus for a
sitemap dump.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer func() {
				if cerr := f.Close(); cerr != nil {
					a.Logger().Warn("close seed file", zap.Error(cerr))
				}
			}()
			st, err := a.Seed(cmd.Context(), f, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted=%d existing=%d skipped=%d\n", st.Inserted, st.Existing, st.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only seed lines containing this substring")
	return cmd
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Re-fetch the profile of every stored person",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.RefreshProfiles(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seen=%d updated=%d unchanged=%d missing=%d failed=%d\n",
				st.Seen, st.Updated, st.Unchanged, st.Missing, st.Failed)
			return nil
		},
	}
}

func newCrawlCmd() *cobra.Command {
	var (
		workers int
		pace    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Drain the unprocessed frontier with a pool of workers",
		Long: `Every unprocessed person is claimed exactly once, its followers and
followees are fetched, and the discovered relationships are stored. Interrupting
the process stops new claims; in-flight persons finish first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("pace") {
				if err := a.Pacer().SetDelay(pace); err != nil {
					return fmt.Errorf("invalid --pace: %w", err)
				}
			}
			res, err := a.Crawl(cmd.Context(), workers)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			p := res.Progress
			fmt.Fprintf(cmd.OutOrStdout(), "run=%s processed=%d failed=%d remaining=%d elapsed=%s\n",
				res.RunID, p.Processed, p.Failed, p.Remaining, scheduler.FormatDuration(p.Elapsed))
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent workers (default crawl.workers)")
	cmd.Flags().DurationVar(&pace, "pace", 0, "delay each worker waits before claiming a person (default crawl.pace)")
	return cmd
}

func newEgoCmd() *cobra.Command {
	var radius int
	cmd := &cobra.Command{
		Use:   "ego <id>",
		Short: "Crawl the neighborhood of one person out to a number of hops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Ego(cmd.Context(), args[0], radius)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "levels=%d processed=%d skipped=%d relationships=%d\n",
				res.Levels, res.Processed, res.Skipped, res.Relationships)
			return nil
		},
	}
	cmd.Flags().IntVar(&radius, "radius", 1, "number of hops from the seed")
	return cmd
}

func newExportCmd() *cobra.Command {
	var toGraph bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored graph as edgelist and nodelist files, or into Neo4j",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if toGraph {
				st, err := a.ExportGraph(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "persons=%d relationships=%d batches=%d\n",
					st.Persons, st.Relationships, st.Batches)
				return nil
			}
			res, err := a.Export(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d edges)\n%s (%d nodes)\n",
				res.EdgelistPath, res.Edges, res.NodelistPath, res.Nodes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&toGraph, "neo4j", false, "push into the Neo4j instance configured under graph.*")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return persons stuck in PROCESSING by an interrupted run to the frontier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.Recover(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered=%d\n", n)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Count stored persons per crawl state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				if err := enc.Encode(st); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "unprocessed=%d\n", st.Unprocessed)
			fmt.Fprintf(out, "processing=%d\n", st.Processing)
			fmt.Fprintf(out, "processed=%d\n", st.Processed)
			fmt.Fprintf(out, "total=%d\n", st.Total())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the counts as JSON")
	return cmd
}
