package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTurnCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "turn <n>",
		Short: "Show the full record of one turn as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("turn must be a positive integer, got %q", args[0])
			}

			a, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.engine.Turn(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("turn %d: %w", n, err)
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
}

func newTurnsCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "List recent turns, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			turns, err := a.engine.Turns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TURN\tUSED\tADDED\tEVICTED\tSTATE\tMESSAGE")
			for _, r := range turns {
				state := "done"
				switch {
				case r.Pending:
					state = "pending"
				case r.Late:
					state = "late"
				}
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\n",
					r.Turn, len(r.MemoriesUsed), len(r.MemoriesAdded), len(r.Evicted), state, truncate(r.UserMessage, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of turns")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
