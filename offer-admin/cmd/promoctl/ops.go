package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/export"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/lock"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

func lockCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect remote system locks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <system> <env>",
		Short: "Show who holds the lock for a remote system",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st lock.Status
			path := "/locks/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &st); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			switch {
			case !st.Held:
				fmt.Fprintf(out, "%s/%s %s\n", st.System, st.Env, color.GreenString("free"))
			case st.Stale:
				fmt.Fprintf(out, "%s/%s %s by %s for %s\n", st.System, st.Env, color.YellowString("stale"), st.Owner, st.Age.Round(time.Second))
			default:
				fmt.Fprintf(out, "%s/%s %s by %s for %s\n", st.System, st.Env, color.RedString("held"), st.Owner, st.Age.Round(time.Second))
			}
			return nil
		},
	})
	return cmd
}

func exportCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a store's entities as CSV",
	}
	path := func(store string) string { return "/exports/" + url.PathEscape(store) }

	cmd.AddCommand(&cobra.Command{
		Use:   "start <store>",
		Short: "Write the export object for a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res export.Result
			if err := opts.client().do(cmd.Context(), http.MethodPost, path(args[0]), nil, &res); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s\n", res.Rows, res.Object)
			return nil
		},
	}, &cobra.Command{
		Use:   "status <store>",
		Short: "Show the export in flight for a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var op models.PendingOperation
			if err := opts.client().do(cmd.Context(), http.MethodGet, path(args[0]), nil, &op); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), op)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (updated %s)\n", op.Key, op.Artifact, op.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}, &cobra.Command{
		Use:   "complete <store>",
		Short: "Delete the export object and release the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodDelete, path(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "export completed")
			return nil
		},
	})
	return cmd
}
