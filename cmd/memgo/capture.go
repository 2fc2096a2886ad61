package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/memgo"
)

func newCaptureCmd() *cobra.Command {
	var at string
	var radius uint64
	cmd := &cobra.Command{
		Use:   "capture <name>",
		Short: "Snapshot the target memory",
		Long: `Snapshots every readable region, or only the window of --radius bytes
around --at, into the capture set name.

  memgo capture before
  memgo capture h1 --at 0x7ffe1234 --radius 0x400`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := memgo.Capture(args[0])
			if at != "" {
				addr, err := parseAddress(at)
				if err != nil {
					return err
				}
				req = memgo.CaptureRange(args[0], addr, radius)
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
	cmd.Flags().StringVar(&at, "at", "", "capture only around this address")
	cmd.Flags().Uint64Var(&radius, "radius", 0x400, "window radius for --at")

	cmd.AddCommand(newCaptureLsCmd(), newCaptureRmCmd())
	return cmd
}

func newCaptureLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List capture sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, _, err := newEngine(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			names, err := e.Captures(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "NAME\tPROCESS\tREGIONS\tSIZE\tCREATED")
			for _, name := range names {
				set, err := e.LoadCapture(ctx, name)
				if err != nil {
					fmt.Fprintf(w, "%s\t?\t?\t?\t%v\n", name, err)
					continue
				}
				m := set.Manifest()
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", name, m.Process, len(set.Entries()),
					humanize.IBytes(set.Size()), humanize.Time(m.CreatedAt))
			}
			return nil
		},
	}
}

func newCaptureRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>...",
		Short: "Delete capture sets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, _, err := newEngine(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()
			for _, name := range args {
				if err := e.DeleteCapture(ctx, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
