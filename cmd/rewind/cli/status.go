package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rewind/internal/query"
)

var (
	queryAddr  string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what a running rewind currently knows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := queryClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(commandContext(cmd), 5*time.Second)
		defer cancel()

		c, err := client.Context(ctx)
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(c)
		}
		writeStatus(cmd.OutOrStdout(), c, time.Now())
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Ask a running rewind to analyze the screen now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := queryClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(commandContext(cmd), 5*time.Second)
		defer cancel()

		queued, err := client.Analyze(ctx)
		if err != nil {
			return err
		}
		if queued {
			fmt.Fprintln(cmd.OutOrStdout(), "Analysis requested")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "An analysis is already pending")
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(analyzeCmd)
	for _, c := range []*cobra.Command{statusCmd, analyzeCmd} {
		c.Flags().StringVar(&queryAddr, "addr", "", "Query server address (default from config)")
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw context as JSON")
}

func queryClient() (*query.Client, error) {
	addr := queryAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.Query.Listen
	}
	return query.NewClient(addr), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeStatus(w io.Writer, c *query.Context, now time.Time) {
	activity, app, provider := "(no analysis yet)", "-", "-"
	if c.Result != nil {
		activity = c.Result.Summary
		if c.Result.Application != "" {
			app = c.Result.Application
		}
		provider = c.Result.Provider
	}
	freshness := "fresh"
	if c.IsStale {
		freshness = "stale"
	}
	age := "-"
	if !c.LastSuccess.IsZero() {
		age = now.Sub(c.LastSuccess).Round(time.Second).String() + " ago"
	}

	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, [][]string{
		{"Activity", activity},
		{"Application", app},
		{"Context", freshness},
		{"Last analysis", age},
		{"Provider", provider},
		{"Text extraction", c.Extractor.String()},
		{"Buffered frames", strconv.Itoa(c.Buffer.Entries)},
	}, nil))

	if len(c.KeyInfo) == 0 {
		fmt.Fprintln(w, "No key information remembered")
		return
	}
	rows := make([][]string, 0, len(c.KeyInfo))
	for _, k := range c.KeyInfo {
		rows = append(rows, []string{
			string(k.Kind),
			k.Text,
			k.Context,
			k.ExpiresAt.Sub(now).Round(time.Second).String(),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Kind", "Value", "Context", "Expires in"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
}
