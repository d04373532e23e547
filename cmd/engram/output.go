package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/scrypster/engram/pkg/types"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printMemories writes one aligned row per memory.
func printMemories(w io.Writer, memories []*types.Memory) error {
	if len(memories) == 0 {
		_, err := fmt.Fprintln(w, "no memories")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tKEY\tVALUE\tHEAT\tCONF\tSTATUS\tTURN")
	for _, m := range memories {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%s\t%d\n",
			m.Kind, m.Key, m.Value, m.Heat, m.Confidence, m.Status, m.SourceTurn)
	}
	return tw.Flush()
}

// printTurn writes the assistant response followed by a one-line summary.
func printTurn(w io.Writer, r *types.TurnResult, showContext bool) {
	if showContext && r.PromptBlock != "" {
		fmt.Fprintln(w, strings.TrimRight(r.PromptBlock, "\n"))
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, r.Response)

	summary := fmt.Sprintf("[turn %d | used %d | added %d | evicted %d | %s]",
		r.Turn, len(r.MemoriesUsed), len(r.MemoriesAdded), len(r.Evicted), r.Latency.Round(time.Millisecond))
	if r.Pending {
		summary += " curation pending"
	}
	fmt.Fprintln(w, summary)
}
