package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/learnsync/internal/app"
	"github.com/ashureev/learnsync/internal/conversation"
	"github.com/ashureev/learnsync/internal/domain"
)

const cliSessionID = "cli"

func chatCmd(opts *rootOptions) *cobra.Command {
	var (
		message string
		accept  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant and receive module recommendations",
		Long: `Start an interactive conversation. Recommended modules are cached
and offered for opening. With --message a single turn is sent instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				engine := conversation.NewEngine(a.Remote, a.Cache,
					conversation.WithSessionID(cliSessionID),
					conversation.WithTranscript(a.Transcript),
					conversation.WithLogger(a.Logger),
				)
				defer engine.Teardown()

				out := cmd.OutOrStdout()
				if message != "" {
					return oneTurn(ctx, engine, out, message, accept)
				}
				return repl(ctx, engine, cmd.InOrStdin(), out)
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and exit")
	cmd.Flags().BoolVar(&accept, "accept", false, "accept recommended modules without asking")

	return cmd
}

func oneTurn(ctx context.Context, engine *conversation.Engine, out io.Writer, text string, accept bool) error {
	if err := engine.Send(ctx, text); err != nil {
		printNotice(out, engine.Snapshot().Notice)
		return err
	}
	snap := engine.Snapshot()
	printReply(out, snap)
	if snap.Prompt == nil {
		return nil
	}
	if !accept {
		printModules(out, snap.Prompt.Modules)
		return engine.Decline()
	}
	modules, err := engine.Accept()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Opening recommended modules:")
	printModules(out, modules)
	return nil
}

func repl(ctx context.Context, engine *conversation.Engine, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Type a message, or /quit to leave.")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" || line == "/exit" {
			return nil
		}

		err := engine.Send(ctx, line)
		switch {
		case errors.Is(err, conversation.ErrEmptyMessage):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			printNotice(out, engine.Snapshot().Notice)
			engine.DismissNotice()
			continue
		}

		snap := engine.Snapshot()
		printReply(out, snap)
		if snap.Notice != nil {
			printNotice(out, snap.Notice)
			engine.DismissNotice()
		}
		if snap.Prompt == nil {
			continue
		}

		fmt.Fprintln(out, snap.Prompt.Text)
		printModules(out, snap.Prompt.Modules)
		fmt.Fprint(out, "Open them now? [y/N] ")
		if !scanner.Scan() {
			return engine.Decline()
		}
		if answer := strings.ToLower(strings.TrimSpace(scanner.Text())); answer == "y" || answer == "yes" {
			if _, err := engine.Accept(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Run `companion topics <module>` to start one.")
		} else if err := engine.Decline(); err != nil {
			return err
		}
	}
}

func printReply(out io.Writer, snap conversation.Snapshot) {
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if snap.Messages[i].Sender == domain.SenderAssistant {
			fmt.Fprintf(out, "assistant: %s\n", snap.Messages[i].Text)
			return
		}
	}
}

func printNotice(out io.Writer, n *conversation.Notice) {
	if n != nil {
		fmt.Fprintf(out, "! %s\n", n.Text)
	}
}

func printModules(out io.Writer, modules []domain.Module) {
	for _, m := range modules {
		fmt.Fprintf(out, "  [%s] %s - %s\n", m.ID, m.Name, m.Description)
	}
}
