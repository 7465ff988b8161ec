package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

func entityPath(store, code string, rest ...string) string {
	p := "/entities/" + url.PathEscape(store) + "/" + url.PathEscape(code)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func colorStatus(s models.Status) string {
	text := s.String()
	switch {
	case strings.HasSuffix(text, "_FAILED"):
		return color.New(color.FgRed, color.Bold).Sprint(text)
	case strings.HasSuffix(text, "_VALID"):
		return color.New(color.FgGreen).Sprint(text)
	case strings.HasSuffix(text, "_PENDING"), strings.HasSuffix(text, "_VALIDATING"):
		return color.New(color.FgYellow).Sprint(text)
	case s == models.StatusRetired:
		return color.New(color.Faint).Sprint(text)
	}
	return text
}

func printEntity(w io.Writer, e models.Entity) {
	fmt.Fprintf(w, "%s/%s (%s)\n", e.Store, e.Code, e.Kind)
	fmt.Fprintf(w, "  Status:   %s\n", colorStatus(e.Status))
	if e.BuildKey != "" {
		fmt.Fprintf(w, "  Build:    %s\n", e.BuildKey)
	}
	fmt.Fprintf(w, "  Version:  %d\n", e.Version)
	fmt.Fprintf(w, "  Modified: %s by %s\n", e.UpdatedAt.Format(time.RFC3339), e.LastModifiedBy)
	if len(e.DraftData) > 0 {
		fmt.Fprintf(w, "  Draft:    %s\n", e.DraftData)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// entityAction runs one request that answers with an entity.
func entityAction(opts *globalOptions, use, short, method, suffix string, body func() interface{}) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <store> <code>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e models.Entity
			var in interface{}
			if body != nil {
				in = body()
			}
			path := entityPath(args[0], args[1])
			if suffix != "" {
				path = entityPath(args[0], args[1], suffix)
			}
			if err := opts.client().do(cmd.Context(), method, path, in, &e); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), e)
			}
			printEntity(cmd.OutOrStdout(), e)
			return nil
		},
	}
}

func entityCmds(opts *globalOptions) []*cobra.Command {
	var target string
	promote := entityAction(opts, "promote", "Promote an entity to the next environment", http.MethodPost, "promote", func() interface{} {
		return map[string]string{"target": target}
	})
	promote.Flags().StringVar(&target, "target", "", "expected target environment (STG or PROD)")

	return []*cobra.Command{
		createCmd(opts),
		entityAction(opts, "get", "Show an entity", http.MethodGet, "", nil),
		historyCmd(opts),
		draftCmd(opts),
		promote,
		entityAction(opts, "validate", "Queue CI validation for a promoted entity", http.MethodPost, "validate", nil),
		entityAction(opts, "rollback", "Revert an entity to its last stable status", http.MethodPost, "rollback", nil),
		entityAction(opts, "delete", "Delete an entity everywhere it is published", http.MethodDelete, "", nil),
	}
}

// readPayload returns inline JSON, or the contents of the named file when
// the value starts with @.
func readPayload(v string) (json.RawMessage, error) {
	if v == "" {
		return nil, fmt.Errorf("payload required")
	}
	raw := []byte(v)
	if strings.HasPrefix(v, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(v, "@"))
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func createCmd(opts *globalOptions) *cobra.Command {
	var kind, payload string
	cmd := &cobra.Command{
		Use:   "create <store> <code>",
		Short: "Create a draft plan, offer or store config",
		Example: `  promoctl create us annual --kind plan --payload '{"name":"Annual","priceCents":9999,"currency":"USD","billingCycleMonths":12}'
  promoctl create us spring --kind offer --payload @spring.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(payload)
			if err != nil {
				return err
			}
			req := map[string]interface{}{"store": args[0], "code": args[1], "kind": kind, "payload": raw}
			var e models.Entity
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/entities", req, &e); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), e)
			}
			printEntity(cmd.OutOrStdout(), e)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "plan, offer, retention_offer, extension_offer or store_config")
	cmd.Flags().StringVar(&payload, "payload", "", "payload JSON, or @file")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func draftCmd(opts *globalOptions) *cobra.Command {
	var patch string
	cmd := &cobra.Command{
		Use:   "draft <store> <code>",
		Short: "Merge changes into an entity's draft data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(patch)
			if err != nil {
				return err
			}
			var e models.Entity
			if err := opts.client().do(cmd.Context(), http.MethodPatch, entityPath(args[0], args[1], "draft"), raw, &e); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), e)
			}
			printEntity(cmd.OutOrStdout(), e)
			return nil
		},
	}
	cmd.Flags().StringVar(&patch, "set", "", "JSON object to merge, or @file")
	return cmd
}

func historyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <store> <code>",
		Short: "List status transitions of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := fetchHistory(cmd.Context(), opts.client(), args[0], args[1])
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transitions.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tFROM\tTO\tACTOR\tREASON")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.CreatedAt.Format(time.RFC3339), t.From, colorStatus(t.To), t.Actor, t.Reason)
			}
			return w.Flush()
		},
	}
}

func fetchHistory(ctx context.Context, c *client, store, code string) ([]models.Transition, error) {
	var list []models.Transition
	err := c.do(ctx, http.MethodGet, entityPath(store, code, "history"), nil, &list)
	return list, err
}
