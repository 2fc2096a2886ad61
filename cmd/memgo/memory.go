package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/memgo"
	"github.com/hupe1980/memgo/value"
)

func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps <name>",
		Short: "List the pids of processes named name",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pids, err := findProcesses(args[0])
			if err != nil {
				return err
			}
			for _, pid := range pids {
				fmt.Println(pid)
			}
			return nil
		},
	}
}

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the readable regions that would be scanned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				regions, err := s.Regions(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				defer w.Flush()
				fmt.Fprintln(w, "START\tEND\tPERMS\tSIZE\tPATH")
				var total uint64
				for _, r := range regions {
					total += r.Size()
					fmt.Fprintf(w, "%#016x\t%#016x\t%s\t%s\t%s\n", r.Start, r.End, r.Perms, humanize.IBytes(r.Size()), r.Path)
				}
				fmt.Fprintf(w, "%d region(s)\t\t\t%s\t\n", len(regions), humanize.IBytes(total))
				return nil
			})
		},
	}
}

func newReadCmd() *cobra.Command {
	var kind string
	var size int
	cmd := &cobra.Command{
		Use:   "read <address>",
		Short: "Read a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			k, err := value.ParseKind(kind)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				v, err := s.Read(ctx, addr, k, size)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "int4", "value type")
	cmd.Flags().IntVarP(&size, "size", "s", 16, "bytes to read for patterns")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var kind string
	var all bool
	cmd := &cobra.Command{
		Use:   "write [address] <value>",
		Short: "Patch a value at an address or at every pending result",
		Long: `Pattern wildcards leave the target bytes untouched.

  memgo write 0x7ffe1234 -t int4 999
  memgo write --all -t int4 999
  memgo write 0x401000 -t pattern "90 90 ?? 90"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := value.ParseKind(kind)
			if err != nil {
				return err
			}
			if all != (len(args) == 1) {
				return fmt.Errorf("pass either an address or --all")
			}
			v, err := value.Parse(args[len(args)-1], k)
			if err != nil {
				return err
			}

			return withSession(cmd, func(ctx context.Context, s *memgo.Session) error {
				if all {
					n, err := s.WriteAll(ctx, v)
					if err != nil {
						return err
					}
					fmt.Printf("wrote %s to %d address(es)\n", v, n)
					return nil
				}
				addr, err := parseAddress(args[0])
				if err != nil {
					return err
				}
				if err := s.Write(ctx, addr, v); err != nil {
					return err
				}
				fmt.Printf("wrote %s to %#x\n", v, addr)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "int4", "value type")
	cmd.Flags().BoolVar(&all, "all", false, "write to every pending result")
	return cmd
}
