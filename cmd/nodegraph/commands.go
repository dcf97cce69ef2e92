package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
	"github.com/gyaneshwarpardhi/nodegraph/internal/nodes"
	"github.com/gyaneshwarpardhi/nodegraph/internal/registry"
	"github.com/gyaneshwarpardhi/nodegraph/internal/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nodegraph",
		Short:         "Run and manage node graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newConvertCmd(), newTypesCmd(), newStoreCmd())
	return root
}

func builtinRegistry() *registry.Registry {
	reg := registry.New()
	nodes.Register(reg)
	return reg
}

// importFile loads a record file into a fresh graph.
func importFile(path string, logger *slog.Logger) (*graph.Graph, codec.ImportReport, error) {
	rec, err := codec.ReadFile(path)
	if err != nil {
		return nil, codec.ImportReport{}, err
	}
	g := graph.New(graph.WithLogger(logger))
	report, err := codec.Import(g, rec, builtinRegistry())
	return g, report, err
}

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// ── run ──────────────────────────────────────────────────────────────────────

func newRunCmd() *cobra.Command {
	var (
		ticks   int
		input   string
		noSort  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Run a graph for a number of ticks and print the results as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			g, report, err := importFile(args[0], logger)
			if err != nil {
				return err
			}
			if !report.Clean() {
				logger.Warn("graph imported with omissions",
					"skipped_nodes", len(report.SkippedNodes),
					"dropped_connections", len(report.DroppedConnections))
			}

			// The input is YAML so plain scalars keep their type: 5 is an int.
			var value any
			if input != "" {
				if err := yaml.Unmarshal([]byte(input), &value); err != nil {
					return fmt.Errorf("parse --input: %w", err)
				}
			}
			var opts []graph.ProcessOption
			if noSort {
				opts = append(opts, graph.WithoutSort())
			}

			out := cmd.OutOrStdout()
			for i := 0; i < ticks; i++ {
				results, err := g.Process(cmd.Context(), value, opts...)
				line := map[string]any{"tick": i, "results": results}
				if err != nil {
					line["error"] = err.Error()
				}
				if results == nil {
					line["results"] = []any{}
				}
				if werr := writeJSONLine(out, line); werr != nil {
					return werr
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&ticks, "ticks", "n", 1, "number of ticks to run")
	cmd.Flags().StringVarP(&input, "input", "i", "", "tick input (YAML scalar or document)")
	cmd.Flags().BoolVar(&noSort, "no-sort", false, "run nodes in insertion order")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	return cmd
}

// ── validate ─────────────────────────────────────────────────────────────────

func newValidateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Import a graph and report skipped nodes, dropped connections and cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			g, report, err := importFile(args[0], logger)
			if err != nil {
				return err
			}
			order, acyclic := g.ExecutionOrder()
			ids := make([]string, len(order))
			for i, n := range order {
				ids[i] = n.ID()
			}
			if err := writeJSONLine(cmd.OutOrStdout(), map[string]any{
				"report":  report,
				"acyclic": acyclic,
				"order":   ids,
			}); err != nil {
				return err
			}
			if strict && !report.Clean() {
				return fmt.Errorf("%d nodes skipped, %d connections dropped",
					len(report.SkippedNodes), len(report.DroppedConnections))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when anything is skipped")
	return cmd
}

// ── convert ──────────────────────────────────────────────────────────────────

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a graph record between JSON and YAML (format from the extensions)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := codec.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := codec.WriteFile(args[1], rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d nodes, %d connections)\n", args[1], len(rec.Nodes), len(rec.Connections))
			return nil
		},
	}
}

// ── types ────────────────────────────────────────────────────────────────────

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the built-in node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, t := range builtinRegistry().Types() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

// ── store ────────────────────────────────────────────────────────────────────

func newStoreCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage graph records in the configured store",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/nodegraph.yaml", "path to nodegraph YAML config")

	withStore := func(fn func(ctx context.Context, st store.Store, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewLoader(cfgPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			st, err := store.Open(loader.Config().Store, nil)
			if err != nil {
				return err
			}
			defer st.Close()
			return fn(cmd.Context(), st, cmd, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored records",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, st store.Store, cmd *cobra.Command, _ []string) error {
				names, err := st.List(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "get <name> [file]",
			Short: "Print a stored record as YAML, or write it to file",
			Args:  cobra.RangeArgs(1, 2),
			RunE: withStore(func(ctx context.Context, st store.Store, cmd *cobra.Command, args []string) error {
				rec, err := st.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					return codec.WriteFile(args[1], rec)
				}
				data, err := codec.Marshal(rec, codec.FormatYAML)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}),
		},
		&cobra.Command{
			Use:   "put <name> <file>",
			Short: "Store a record file under name",
			Args:  cobra.ExactArgs(2),
			RunE: withStore(func(ctx context.Context, st store.Store, cmd *cobra.Command, args []string) error {
				rec, err := codec.ReadFile(args[1])
				if err != nil {
					return err
				}
				if err := st.Save(ctx, args[0], rec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a stored record",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, st store.Store, _ *cobra.Command, args []string) error {
				return st.Delete(ctx, args[0])
			}),
		},
	)
	return cmd
}
