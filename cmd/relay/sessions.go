package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"duckcoding-hq/relay/pkg/cli"
	"duckcoding-hq/relay/pkg/session"
)

var sessionsFlags struct {
	tool       string
	page       int
	pageSize   int
	output     string
	maxCount   int
	maxAgeDays int
	name       string
	profile    string
	url        string
	apiKey     string
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage sessions",
	Long: `Inspect and manage the sessions of a running relay.

The commands go through the management API so that routing changes take
effect on the very next request of the session.

Examples:
  # List Claude Code sessions, most recently active first
  relay sessions list --tool claude-code

  # Pin a session to the "work" profile
  relay sessions config <session-id> --name custom --profile work

  # Send a session to its own upstream
  relay sessions config <session-id> --name custom --url https://api.example.com --api-key sk-...

  # Go back to the tool's global upstream
  relay sessions config <session-id> --name global

  # Keep at most 100 sessions of Codex
  relay sessions prune --tool codex --max-count 100`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sessions of a tool",
	Args:  cobra.NoArgs,
	RunE:  listSessions,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  showSession,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete one session",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteSession,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every session of a tool",
	Args:  cobra.NoArgs,
	RunE:  clearSessions,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply retention to the sessions of a tool",
	Args:  cobra.NoArgs,
	RunE:  pruneSessions,
}

var sessionsNoteCmd = &cobra.Command{
	Use:   "note <session-id> [text]",
	Short: "Set or clear the note of a session",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  noteSession,
}

var sessionsConfigCmd = &cobra.Command{
	Use:   "config <session-id>",
	Short: "Change the upstream routing of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  configSession,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd,
		sessionsClearCmd, sessionsPruneCmd, sessionsNoteCmd, sessionsConfigCmd)

	sessionsCmd.PersistentFlags().StringVarP(&sessionsFlags.output, "output", "o", "text", "output format: text, json, csv")

	for _, c := range []*cobra.Command{sessionsListCmd, sessionsClearCmd, sessionsPruneCmd} {
		c.Flags().StringVarP(&sessionsFlags.tool, "tool", "t", "", "tool id (claude-code, codex, gemini-cli)")
		_ = c.MarkFlagRequired("tool")
	}

	sessionsListCmd.Flags().IntVar(&sessionsFlags.page, "page", 1, "page number")
	sessionsListCmd.Flags().IntVar(&sessionsFlags.pageSize, "page-size", 20, "sessions per page")

	sessionsPruneCmd.Flags().IntVar(&sessionsFlags.maxCount, "max-count", -1, "sessions to keep (default: retention.max_count)")
	sessionsPruneCmd.Flags().IntVar(&sessionsFlags.maxAgeDays, "max-age-days", -1, "maximum idle days (default: retention.max_age_days)")

	sessionsConfigCmd.Flags().StringVar(&sessionsFlags.name, "name", "", "config name: global, custom or a profile name")
	sessionsConfigCmd.Flags().StringVar(&sessionsFlags.profile, "profile", "", "profile pinned by a custom config")
	sessionsConfigCmd.Flags().StringVar(&sessionsFlags.url, "url", "", "upstream base URL of a custom config")
	sessionsConfigCmd.Flags().StringVar(&sessionsFlags.apiKey, "api-key", "", "upstream API key of a custom config")
	_ = sessionsConfigCmd.MarkFlagRequired("name")
}

// sessionTable renders sessions as rows.
type sessionTable []session.Session

func (t sessionTable) Headers() []string {
	return []string{"SESSION", "DISPLAY", "CONFIG", "REQUESTS", "LAST SEEN", "NOTE"}
}

func (t sessionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		cfg := s.ConfigName
		if s.CustomProfileName != nil {
			cfg += ":" + *s.CustomProfileName
		}
		note := ""
		if s.Note != nil {
			note = *s.Note
		}
		rows = append(rows, []string{
			s.SessionID,
			s.DisplayID,
			cfg,
			strconv.FormatInt(s.RequestCount, 10),
			time.Unix(s.LastSeenAt, 0).Local().Format(time.DateTime),
			note,
		})
	}
	return rows
}

func managementClient(cmd *cobra.Command) (*adminClient, cli.Formatter, error) {
	format, err := cli.ParseFormat(sessionsFlags.output)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Admin.Enabled {
		return nil, nil, cli.NewConfigError("admin.enabled", "the management API is disabled")
	}
	return newAdminClient(cfg.Admin.ListenAddress, cfg.Admin.Token), cli.NewFormatter(format), nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	client, f, err := managementClient(cmd)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(sessionsFlags.page))
	q.Set("page_size", strconv.Itoa(sessionsFlags.pageSize))

	var page session.Page
	path := "/api/tools/" + url.PathEscape(sessionsFlags.tool) + "/sessions"
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodGet, path, q, nil, &page); err != nil {
		return cli.NewCommandError("sessions list", err)
	}

	if _, isJSON := f.(*cli.JSONFormatter); isJSON {
		return f.FormatTo(cmd.OutOrStdout(), page)
	}
	if err := f.FormatTo(cmd.OutOrStdout(), sessionTable(page.Sessions)); err != nil {
		return err
	}
	if _, isText := f.(*cli.TextFormatter); isText {
		fmt.Fprintf(cmd.ErrOrStderr(), "page %d, %d of %d sessions\n", page.Page, len(page.Sessions), page.Total)
	}
	return nil
}

func showSession(cmd *cobra.Command, args []string) error {
	client, f, err := managementClient(cmd)
	if err != nil {
		return err
	}
	var s session.Session
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodGet, sessionPath(args[0]), nil, nil, &s); err != nil {
		return cli.NewCommandError("sessions show", err)
	}
	return printSession(cmd, f, &s)
}

func deleteSession(cmd *cobra.Command, args []string) error {
	client, _, err := managementClient(cmd)
	if err != nil {
		return err
	}
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodDelete, sessionPath(args[0]), nil, nil, nil); err != nil {
		return cli.NewCommandError("sessions delete", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Session %s deleted\n", args[0])
	return nil
}

func clearSessions(cmd *cobra.Command, args []string) error {
	client, _, err := managementClient(cmd)
	if err != nil {
		return err
	}
	var res struct {
		Deleted int64 `json:"deleted"`
	}
	path := "/api/tools/" + url.PathEscape(sessionsFlags.tool) + "/sessions"
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodDelete, path, nil, nil, &res); err != nil {
		return cli.NewCommandError("sessions clear", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d sessions of %s deleted\n", res.Deleted, sessionsFlags.tool)
	return nil
}

func pruneSessions(cmd *cobra.Command, args []string) error {
	client, _, err := managementClient(cmd)
	if err != nil {
		return err
	}

	body := map[string]int{}
	if sessionsFlags.maxCount >= 0 {
		body["max_count"] = sessionsFlags.maxCount
	}
	if sessionsFlags.maxAgeDays >= 0 {
		body["max_age_days"] = sessionsFlags.maxAgeDays
	}

	var res struct {
		Deleted int64 `json:"deleted"`
	}
	path := "/api/tools/" + url.PathEscape(sessionsFlags.tool) + "/sessions/cleanup"
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodPost, path, nil, body, &res); err != nil {
		return cli.NewCommandError("sessions prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d sessions of %s pruned\n", res.Deleted, sessionsFlags.tool)
	return nil
}

func noteSession(cmd *cobra.Command, args []string) error {
	client, f, err := managementClient(cmd)
	if err != nil {
		return err
	}

	var note *string
	if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
		note = &args[1]
	}

	var s session.Session
	body := map[string]*string{"note": note}
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodPut, sessionPath(args[0])+"/note", nil, body, &s); err != nil {
		return cli.NewCommandError("sessions note", err)
	}
	return printSession(cmd, f, &s)
}

func configSession(cmd *cobra.Command, args []string) error {
	cfg, err := sessionConfigFromFlags()
	if err != nil {
		return err
	}
	client, f, err := managementClient(cmd)
	if err != nil {
		return err
	}

	var s session.Session
	if err := client.do(contextOrBackground(cmd.Context()), http.MethodPut, sessionPath(args[0])+"/config", nil, cfg, &s); err != nil {
		return cli.NewCommandError("sessions config", err)
	}
	return printSession(cmd, f, &s)
}

// sessionConfigFromFlags builds and checks the requested config locally so
// obvious mistakes fail before the relay is contacted.
func sessionConfigFromFlags() (session.Config, error) {
	cfg := session.Config{
		ConfigName: sessionsFlags.name,
		URL:        sessionsFlags.url,
		APIKey:     sessionsFlags.apiKey,
	}
	if sessionsFlags.profile != "" {
		if cfg.ConfigName != session.ConfigCustom {
			return cfg, cli.NewConfigError("profile", "--profile requires --name custom")
		}
		cfg.CustomProfileName = &sessionsFlags.profile
	}
	if cfg.ConfigName == session.ConfigGlobal && (cfg.URL != "" || cfg.APIKey != "") {
		return cfg, cli.NewConfigError("name", "--url and --api-key need --name custom")
	}
	if _, err := cfg.Normalize(); err != nil {
		return cfg, cli.NewConfigError("name", err.Error())
	}
	return cfg, nil
}

func printSession(cmd *cobra.Command, f cli.Formatter, s *session.Session) error {
	if _, isJSON := f.(*cli.JSONFormatter); isJSON {
		return f.FormatTo(cmd.OutOrStdout(), s)
	}
	return f.FormatTo(cmd.OutOrStdout(), sessionTable{*s})
}

func sessionPath(id string) string {
	return "/api/sessions/" + url.PathEscape(id)
}
