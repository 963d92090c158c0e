package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/learnsync/internal/app"
	"github.com/ashureev/learnsync/internal/dashboard"
)

func cacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the cached recommendations",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "List the cached modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				modules := a.Cache.Read()
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, modules)
				}
				if len(modules) == 0 {
					fmt.Fprintln(out, "No cached modules.")
					return nil
				}
				printModules(out, modules)
				return nil
			})
		},
	}
	show.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the cached modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Cache.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cached modules cleared.")
				return nil
			})
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func dashboardCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize learning progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				summary, err := a.Dashboard().Build(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
				printSummary(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printSummary(out io.Writer, s *dashboard.Summary) {
	fmt.Fprintf(out, "Overall progress: %.0f%%\n", s.OverallProgress*100)
	fmt.Fprintf(out, "Completed: %d  In progress: %d  Not started: %d\n", s.Completed, s.InProgress, s.NotStarted)
	if s.UsedDefaults {
		fmt.Fprintln(out, "(no recommendations yet; showing starter modules)")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODULE\tPROGRESS\tSTATUS\tLAST ACCESS")
	for _, m := range s.Modules {
		last := "-"
		if m.LastAccess != nil {
			last = m.LastAccess.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%s\n", m.ID, m.Name, m.Progress*100, m.Category, last)
	}
	_ = w.Flush()

	if len(s.Trending) > 0 {
		fmt.Fprintln(out, "\nTrending:")
		for _, t := range s.Trending {
			fmt.Fprintf(out, "  %s - %s\n", t.Title, t.Description)
		}
	}
	for _, warning := range s.Warnings {
		fmt.Fprintf(out, "! %s\n", warning)
	}
}

func resetCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase all locally stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset erases cached modules and progress; pass --yes to confirm")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Cache.ResetAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Session reset.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func pingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the learning service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()

				out := cmd.OutOrStdout()
				if err := a.Probe(probeCtx); err != nil {
					fmt.Fprintf(out, "%s: unreachable\n", a.Config.Remote.BaseURL)
					return err
				}
				fmt.Fprintf(out, "%s: ok\n", a.Config.Remote.BaseURL)
				return nil
			})
		},
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
