package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hupe1980/memgo"
	"github.com/hupe1980/memgo/aob"
	"github.com/hupe1980/memgo/value"
)

func newAOBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aob",
		Short: "Track an address across restarts with array-of-bytes signatures",
		Long: `Typical flow:

  memgo aob new health 0x7ffe1234 --length 4 --range 0x400
  memgo capture h1 --at 0x7ffe1234 --radius 0x400
  (change the value, restart the level)
  memgo capture h2 --at 0x7ffe1234 --radius 0x400
  memgo aob gen health h1 h2
  memgo aob walk health --until-final
  memgo aob locate health`,
	}
	cmd.AddCommand(
		newAOBNewCmd(),
		newAOBGenCmd(),
		newAOBWidenCmd(),
		newAOBWalkCmd(),
		newAOBLocateCmd(),
		newAOBLsCmd(),
		newAOBShowCmd(),
		newAOBRmCmd(),
	)
	return cmd
}

func newAOBNewCmd() *cobra.Command {
	var length int
	var radius uint64
	cmd := &cobra.Command{
		Use:   "new <name> <address>",
		Short: "Start a signature catalog for the value at address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				f, err := s.NewSignature(ctx, args[0], addr, length, radius)
				if err != nil {
					return err
				}
				_, err = f.WriteTo(os.Stdout)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&length, "length", 4, "width of the tracked value in bytes")
	cmd.Flags().Uint64Var(&radius, "range", 0x400, "bytes around the address to derive signatures from")
	return cmd
}

func newAOBGenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen <name> <old capture> <new capture>",
		Short: "Derive candidates from two captures around the tracked address",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				n, err := s.GenerateSignatures(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Printf("%d candidate(s)\n", n)
				return nil
			})
		},
	}
}

func newAOBWidenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "widen <name> <capture>",
		Short: "Grow candidates over a capture taken while the address was unchanged",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				n, err := s.WidenSignatures(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("%d token(s) added\n", n)
				return nil
			})
		},
	}
}

func walkerFlags(cmd *cobra.Command, maxHits *int, expect, kind *string) {
	cmd.Flags().IntVar(maxHits, "max-hits", 0, "prune candidates matching more addresses (0 keeps them)")
	cmd.Flags().StringVar(expect, "expect", "", "only accept addresses currently holding this value")
	cmd.Flags().StringVarP(kind, "type", "t", "int4", "type of --expect")
}

func walkerOptions(maxHits int, expect, kind string) ([]aob.WalkerOption, error) {
	opts := []aob.WalkerOption{aob.WithMaxHits(maxHits)}
	if expect != "" {
		k, err := value.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		v, err := value.Parse(expect, k)
		if err != nil {
			return nil, err
		}
		opts = append(opts, aob.WithExpected(v))
	}
	return opts, nil
}

func newAOBWalkCmd() *cobra.Command {
	var maxHits int
	var expect, kind string
	var untilFinal bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "walk <name>",
		Short: "Validate candidates against live memory and prune the ones that fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := walkerOptions(maxHits, expect, kind)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				var res aob.Result
				if untilFinal {
					opts = append(opts, aob.WithInterval(interval), aob.WithOnRefresh(func(r aob.Result) {
						log.Info("refresh", "candidates", r.Candidates, "pruned", r.Pruned, "addresses", len(r.Addresses))
					}))
					res, err = s.WalkUntilFinal(ctx, args[0], opts...)
				} else {
					res, err = s.Walk(ctx, args[0], opts...)
				}
				if err != nil {
					return err
				}
				fmt.Printf("%d candidate(s), %d pruned, %d address(es)\n", res.Candidates, res.Pruned, len(res.Addresses))
				if res.Final {
					fmt.Printf("final: %#x\n", res.Address)
				}
				return nil
			})
		},
	}
	walkerFlags(cmd, &maxHits, &expect, &kind)
	cmd.Flags().BoolVar(&untilFinal, "until-final", false, "keep walking until every candidate agrees")
	cmd.Flags().DurationVar(&interval, "interval", aob.DefaultInterval, "pause between walks with --until-final")
	return cmd
}

func newAOBLocateCmd() *cobra.Command {
	var maxHits int
	var expect, kind string
	cmd := &cobra.Command{
		Use:   "locate <name>",
		Short: "Print the address a final catalog points to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := walkerOptions(maxHits, expect, kind)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				addr, err := s.LocateSignature(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				fmt.Printf("%#x\n", addr)
				return nil
			})
		},
	}
	walkerFlags(cmd, &maxHits, &expect, &kind)
	return cmd
}

func newAOBLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List signature catalogs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, _, err := newEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()
			names, err := e.Signatures()
			if err != nil {
				return err
			}
			for _, name := range names {
				f, err := e.Signature(name)
				if err != nil {
					fmt.Printf("%s\t%v\n", name, err)
					continue
				}
				h := f.Header()
				fmt.Printf("%s\t%s\t%d candidate(s)\tvalid=%t final=%t\n", name, h.Process, f.Len(), h.Valid, h.Final)
			}
			return nil
		},
	}
}

func newAOBShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a signature catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := newEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()
			f, err := e.Signature(args[0])
			if err != nil {
				return err
			}
			_, err = f.WriteTo(os.Stdout)
			return err
		},
	}
}

func newAOBRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a signature catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := newEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.DeleteSignature(args[0])
		},
	}
}
