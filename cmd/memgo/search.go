package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/memgo"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/value"
)

func newSearchCmd() *cobra.Command {
	var kind, op string
	cmd := &cobra.Command{
		Use:   "search [value | operands...]",
		Short: "Search for a value or narrow the pending results",
		Long: `Without pending results every readable region is swept. With pending
results only those addresses are re-read.

  memgo search -t int4 100
  memgo search -t float --op between 0.5 1.5
  memgo search --op decreased`,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := value.ParseKind(kind)
			if err != nil {
				return err
			}
			var req memgo.Request
			if op == "" {
				if len(args) != 1 {
					return fmt.Errorf("search takes exactly one value without --op")
				}
				v, err := value.Parse(args[0], k)
				if err != nil {
					return err
				}
				req = memgo.SearchValue(v)
			} else {
				o, err := operation.Parse(op, k, args...)
				if err != nil {
					return err
				}
				req = memgo.SearchOperation(o)
			}

			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				rep, err := run(ctx, s, req)
				if err != nil {
					return err
				}
				printReport(rep)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "int4", "value type (int1, int2, int4, int8, float, address, offset, pattern)")
	cmd.Flags().StringVar(&op, "op", "", "operation (equal, not_equal, less, greater, between, increased, decreased, changed, unchanged, changed_by)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "compare <capture> <operation> [delta]",
		Short: "Diff live memory against a capture with a memory operation",
		Long: `Finds values that changed since a capture, for values whose initial
content is unknown. The hits replace the pending results.

  memgo capture before
  memgo compare before decreased -t int4`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := value.ParseKind(kind)
			if err != nil {
				return err
			}
			o, err := operation.Parse(args[1], k, args[2:]...)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				rep, err := run(ctx, s, memgo.Compare(args[0], o, k))
				if err != nil {
					return err
				}
				printReport(rep)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "int4", "value type")
	return cmd
}

func newResultsCmd() *cobra.Command {
	var offset, limit int
	var history bool
	cmd := &cobra.Command{
		Use:     "results",
		Aliases: []string{"r"},
		Short:   "List pending results",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				defer w.Flush()

				if history {
					gens, err := s.Generations()
					if err != nil {
						return err
					}
					fmt.Fprintln(w, "ROUND\tTYPE\tRESULTS\tCREATED")
					for _, g := range gens {
						fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", g.Seq, g.Meta.Kind, g.Count, g.CreatedAt.Format("15:04:05"))
					}
					return nil
				}

				total, err := s.Count()
				if err != nil {
					return err
				}
				res, err := s.Results(ctx, offset, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ADDRESS\tVALUE")
				for _, r := range res {
					fmt.Fprintf(w, "%#016x\t%s\n", r.Address, r.Value)
				}
				if shown := offset + len(res); int64(shown) < total {
					fmt.Fprintf(w, "... %d more\n", total-int64(shown))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many results")
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "show at most this many results")
	cmd.Flags().BoolVar(&history, "history", false, "list the committed rounds instead")
	return cmd
}

func newUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Discard the latest round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(_ context.Context, s *memgo.Session) error {
				if err := s.Undo(); err != nil {
					return err
				}
				n, err := s.Count()
				if err != nil {
					return err
				}
				fmt.Printf("%d result(s) pending\n", n)
				return nil
			})
		},
	}
}

func newResetCmd() *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard every round so the next search sweeps again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(_ context.Context, s *memgo.Session) error {
				if drop {
					return s.Delete()
				}
				return s.Reset()
			})
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "also delete the catalog")
	return cmd
}
