package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/configsync"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

func configCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Push, inspect and roll back remotely versioned configs",
	}
	cmd.AddCommand(configReadCmd(opts), configPushCmd(opts), configRollbackCmd(opts))
	return cmd
}

func configPath(name string, rest ...string) string {
	p := "/configs/" + url.PathEscape(name)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func versionText(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func configReadCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <name>",
		Short: "Compare the rollback record with the live documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view configsync.View
			if err := opts.client().do(cmd.Context(), http.MethodGet, configPath(args[0]), nil, &view); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), view)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENV\tLIVE\tROLLBACK")
			envs := make([]string, 0, len(view.Live))
			for env := range view.Live {
				envs = append(envs, string(env))
			}
			sort.Strings(envs)
			for _, e := range envs {
				env := models.Env(e)
				rollback := "-"
				if view.Cache != nil {
					rollback = versionText(view.Cache.RollbackVersion(env))
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", env, view.Live[env].Version, rollback)
			}
			return w.Flush()
		},
	}
}

func configPushCmd(opts *globalOptions) *cobra.Command {
	var env, payload string
	cmd := &cobra.Command{
		Use:   "push <name>",
		Short: "Validate and commit a config document to one environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(payload)
			if err != nil {
				return err
			}
			var rec models.VersionedConfig
			req := map[string]interface{}{"env": env, "payload": raw}
			if err := opts.client().do(cmd.Context(), http.MethodPost, configPath(args[0], "push"), req, &rec); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s pushed to %s (stg=%s prod=%s)\n", rec.Name, env,
				versionText(rec.StgRollbackVersion), versionText(rec.ProdRollbackVersion))
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "STG", "target environment")
	cmd.Flags().StringVar(&payload, "payload", "", "document JSON, or @file")
	return cmd
}

func configRollbackCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <name>",
		Short: "Undo this system's changes to a config in production and staging",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodPost, configPath(args[0], "rollback"), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], color.GreenString("rolled back"))
			return nil
		},
	}
}
