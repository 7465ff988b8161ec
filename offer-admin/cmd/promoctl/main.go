package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

const defaultServer = "http://localhost:8070"

type globalOptions struct {
	server    string
	token     string
	principal string
	json      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:          "promoctl",
		Short:        "Promote plans and offers through staging and production",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("PROMOCTL_SERVER", defaultServer), "offer admin service URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PROMOCTL_TOKEN"), "operator bearer token")
	rootCmd.PersistentFlags().StringVar(&opts.principal, "as", os.Getenv("PROMOCTL_DEV_PRINCIPAL"), "local development principal (dev servers only)")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	rootCmd.AddCommand(entityCmds(opts)...)
	rootCmd.AddCommand(configCmd(opts))
	rootCmd.AddCommand(lockCmd(opts))
	rootCmd.AddCommand(exportCmd(opts))
	return rootCmd
}

func (o *globalOptions) client() *client {
	return newClient(o.server, o.token, o.principal)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
