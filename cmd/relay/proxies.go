package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"duckcoding-hq/relay/pkg/cli"
	"duckcoding-hq/relay/pkg/server"
)

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Show, start and stop the per-tool listeners",
	Long: `Show, start and stop the per-tool listeners of a running relay.

Examples:
  relay proxies list
  relay proxies stop codex
  relay proxies start codex`,
}

var proxiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tool listeners",
	Args:  cobra.NoArgs,
	RunE:  listProxies,
}

var proxiesStartCmd = &cobra.Command{
	Use:   "start <tool>",
	Short: "Start the listener of a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlProxy(cmd, args[0], "start")
	},
}

var proxiesStopCmd = &cobra.Command{
	Use:   "stop <tool>",
	Short: "Stop the listener of a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlProxy(cmd, args[0], "stop")
	},
}

func init() {
	rootCmd.AddCommand(proxiesCmd)
	proxiesCmd.AddCommand(proxiesListCmd, proxiesStartCmd, proxiesStopCmd)
	proxiesCmd.PersistentFlags().StringVarP(&sessionsFlags.output, "output", "o", "text", "output format: text, json, csv")
}

// proxyTable renders listener status as rows.
type proxyTable []server.Status

func (t proxyTable) Headers() []string {
	return []string{"TOOL", "ENABLED", "RUNNING", "ADDRESS", "LOCAL KEY", "ERROR"}
}

func (t proxyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, st := range t {
		rows = append(rows, []string{
			st.ToolID,
			strconv.FormatBool(st.Enabled),
			strconv.FormatBool(st.Running),
			st.Address,
			strconv.FormatBool(st.LocalKeySet),
			st.LastError,
		})
	}
	return rows
}

func listProxies(cmd *cobra.Command, args []string) error {
	client, f, err := managementClient(cmd)
	if err != nil {
		return err
	}
	var res struct {
		Proxies []server.Status `json:"proxies"`
	}
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodGet, "/api/proxies", nil, nil, &res); err != nil {
		return cli.NewCommandError("proxies list", err)
	}
	if _, isJSON := f.(*cli.JSONFormatter); isJSON {
		return f.FormatTo(cmd.OutOrStdout(), res.Proxies)
	}
	return f.FormatTo(cmd.OutOrStdout(), proxyTable(res.Proxies))
}

func controlProxy(cmd *cobra.Command, toolID, action string) error {
	client, _, err := managementClient(cmd)
	if err != nil {
		return err
	}
	var st server.Status
	path := "/api/proxies/" + url.PathEscape(toolID) + "/" + action
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodPost, path, nil, nil, &st); err != nil {
		return cli.NewCommandError("proxies "+action, err)
	}
	if st.Running {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s proxy running on %s\n", toolID, st.Address)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s proxy stopped\n", toolID)
	}
	return nil
}
