package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashureev/learnsync/internal/app"
	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/progress"
)

func topicsCmd(opts *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "topics <module>",
		Short: "Show the topics of a module",
		Long: `Load the topics of a module, given by ID or name. Cached
recommendations are searched first, then the starter catalogue; any
other value is used as a module name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				tracker, err := loadModule(ctx, a, args[0], list)
				if err != nil {
					return err
				}
				defer tracker.Close()

				printTopics(cmd.OutOrStdout(), tracker.Snapshot())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "only read the topic list instead of starting the module")
	return cmd
}

func toggleCmd(opts *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "toggle <module> <topic-id>",
		Short: "Mark a topic as completed, or not completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				tracker, err := loadModule(ctx, a, args[0], list)
				if err != nil {
					return err
				}
				defer tracker.Close()

				snap, err := tracker.ToggleCompletion(ctx, args[1])
				if err != nil {
					return err
				}
				tracker.Wait()

				out := cmd.OutOrStdout()
				printTopics(out, snap)
				for _, p := range tracker.Pending() {
					fmt.Fprintf(out, "! topic %s saved locally but not synced: %s\n", p.TopicID, p.LastError)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "only read the topic list instead of starting the module")
	return cmd
}

func loadModule(ctx context.Context, a *app.App, ref string, list bool) (*progress.Tracker, error) {
	cfg := a.TrackerConfig()
	if list {
		cfg.Mode = progress.FetchList
	}
	tracker := progress.NewTracker(a.Remote, cfg)

	if err := tracker.Load(ctx, resolveModule(a.Cache.Read(), ref)); err != nil {
		tracker.Close()
		return nil, fmt.Errorf("load topics: %w", err)
	}
	return tracker, nil
}

// resolveModule finds a module by ID, then by case-insensitive name.
func resolveModule(cached []domain.Module, ref string) domain.Module {
	candidates := append(cached, domain.DefaultModules()...)
	for _, m := range candidates {
		if m.ID == ref {
			return m
		}
	}
	for _, m := range candidates {
		if strings.EqualFold(m.Name, ref) {
			return m
		}
	}
	return domain.Module{ID: ref, Name: ref}
}

func printTopics(out io.Writer, snap progress.Snapshot) {
	fmt.Fprintf(out, "%s (%s) %d/%d completed, %.0f%%\n",
		snap.Module.Name, snap.State, snap.Completed, snap.Total, snap.Progress*100)
	if snap.State == progress.Degraded.String() {
		fmt.Fprintln(out, "! topics could not be loaded; showing placeholders")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DONE\tID\tTITLE\tDIFFICULTY\tTIME")
	for _, t := range snap.Topics {
		done := " "
		if t.IsCompleted {
			done = "x"
		}
		fmt.Fprintf(w, "[%s]\t%s\t%s %s\t%s\t%s\n", done, t.ID, t.Icon, t.Title, t.Difficulty, t.TimeEstimate)
	}
	_ = w.Flush()
}
