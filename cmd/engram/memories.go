package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/pkg/types"
)

func newMemoriesCmd(o *rootOptions) *cobra.Command {
	var (
		kind   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "List remembered facts, preferences and constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter types.Kind
			if kind != "" {
				k, err := types.ParseKind(kind)
				if err != nil {
					return err
				}
				filter = k
			}

			a, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			memories := a.engine.Snapshot()
			if filter.IsValid() {
				memories = a.engine.MemoriesByKind(filter)
			}
			if asJSON {
				if memories == nil {
					memories = []*types.Memory{}
				}
				return printJSON(cmd.OutOrStdout(), memories)
			}
			return printMemories(cmd.OutOrStdout(), memories)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list memories of this kind")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newRememberCmd(o *rootOptions) *cobra.Command {
	var confidence float64
	cmd := &cobra.Command{
		Use:   "remember <kind> <key> <value...>",
		Short: "Store a memory directly, bypassing extraction",
		Example: "  engram remember constraint diet vegetarian\n" +
			"  engram remember fact home city Lisbon --confidence 0.8",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := types.ParseKind(args[0])
			if err != nil {
				return err
			}

			a, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.engine.InjectMemory(cmd.Context(), kind, args[1], strings.Join(args[2:], " "), confidence)
			if err != nil {
				return err
			}
			if d.Candidate == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", d.Operation, d.Reason)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (%s)\n", d.Operation, d.Candidate.Key, d.Candidate.Value, d.Reason)
			return nil
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 0,
		"confidence in (0,1]; 0 uses "+strconv.FormatFloat(engine.DefaultConfig().InjectConfidence, 'f', -1, 64))
	return cmd
}
