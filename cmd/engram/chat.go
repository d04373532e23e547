package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

const replHelp = "Commands: /memories, /stats, /reset, /help, /quit"

func newChatCmd(o *rootOptions) *cobra.Command {
	var showContext bool
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant",
		Long:  "Runs a single turn when a message is given, otherwise starts an interactive session on stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				r, err := a.engine.Chat(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				printTurn(out, r, showContext)
				return nil
			}
			return a.repl(cmd.Context(), cmd.InOrStdin(), out, showContext)
		},
	}
	cmd.Flags().BoolVar(&showContext, "show-context", false, "print the memory block injected into the prompt")
	return cmd
}

// repl reads one message per line until EOF or /quit.
func (a *app) repl(ctx context.Context, in io.Reader, out io.Writer, showContext bool) error {
	fmt.Fprintln(out, "engram chat. "+replHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Fprintln(out, replHelp)
		case line == "/memories":
			if err := printMemories(out, a.engine.Snapshot()); err != nil {
				return err
			}
		case line == "/stats":
			if err := printJSON(out, a.engine.Stats()); err != nil {
				return err
			}
		case line == "/reset":
			if err := a.engine.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "memory cleared")
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(out, "unknown command %s. %s\n", line, replHelp)
		default:
			r, err := a.engine.Chat(ctx, line)
			if err != nil {
				return err
			}
			printTurn(out, r, showContext)
		}
	}
}
