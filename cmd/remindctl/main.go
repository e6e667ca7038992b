// remindctl 是 RemindMail HTTP API 的命令行客户端。
//
// 服务地址取自 --api 或 REMINDMAIL_API（默认 http://127.0.0.1:8080），
// API Key 取自 --api-key 或 REMINDMAIL_SERVER_API_KEY。
//
//	remindctl add --title "Pay rent" --email me@example.com --at 2026-05-01T09:00:00+08:00 --at +2h
//	remindctl list
//	remindctl delete 0196...
//	remindctl check
//	remindctl test-email me@example.com
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCommand 构建命令树
func newRootCommand() *cobra.Command {
	var (
		api     string
		apiKey  string
		timeout time.Duration
		client  *apiClient
	)

	root := &cobra.Command{
		Use:           "remindctl",
		Short:         "RemindMail command-line client",
		Long:          "remindctl manages reminders, email settings and recipient history on a running RemindMail server.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			client = newAPIClient(api, apiKey, timeout)
		},
	}
	root.PersistentFlags().StringVar(&api, "api", apiFromEnv(), "RemindMail server base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKeyFromEnv(), "API key sent as X-API-Key")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	get := func() *apiClient { return client }

	root.AddCommand(
		newListCommand(get),
		newAddCommand(get),
		newDeleteCommand(get),
		newClearCommand(get),
		newCheckCommand(get),
		newTestEmailCommand(get),
		newSettingsCommand(get),
		newHistoryCommand(get),
	)
	return root
}

type clientFunc func() *apiClient

func newListCommand(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reminders with their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := client().do(cmd.Context(), http.MethodGet, "/v1/reminders", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newAddCommand(client clientFunc) *cobra.Command {
	var (
		title       string
		description string
		emails      []string
		at          []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a reminder",
		Example: `  remindctl add --title "Standup" --email me@example.com --at 2026-05-01T09:00:00Z
  remindctl add --title "Stretch" --email me@example.com --at +30m --at +90m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			times := make([]time.Time, 0, len(at))
			for _, value := range at {
				t, err := parseAt(value, now)
				if err != nil {
					return err
				}
				times = append(times, t)
			}

			data, err := client().do(cmd.Context(), http.MethodPost, "/v1/reminders", map[string]any{
				"title":          title,
				"description":    description,
				"emails":         emails,
				"scheduledTimes": times,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "reminder title, used as the email subject")
	cmd.Flags().StringVarP(&description, "description", "d", "", "email body; defaults to the title")
	cmd.Flags().StringArrayVarP(&emails, "email", "e", nil, "recipient address (repeatable)")
	cmd.Flags().StringArrayVar(&at, "at", nil, "send time as RFC3339 or +duration from now (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newDeleteCommand(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client().do(cmd.Context(), http.MethodDelete, "/v1/reminders/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newClearCommand(client clientFunc) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all reminders (requires --confirm)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return fmt.Errorf("refusing to delete all reminders without --confirm")
			}
			data, err := client().do(cmd.Context(), http.MethodDelete, "/v1/reminders", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm deletion of every reminder")
	return cmd
}

func newCheckCommand(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a reminder check now and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := client().do(cmd.Context(), http.MethodPost, "/v1/reminders/check", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newTestEmailCommand(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "test-email <to>",
		Short: "Send a test email with the saved SMTP settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().do(cmd.Context(), http.MethodPost, "/v1/settings/test-email", map[string]string{"to": args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newSettingsCommand(client clientFunc) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the saved settings (password is never printed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := client().do(cmd.Context(), http.MethodGet, "/v1/settings", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	var (
		theme    string
		email    string
		password string
		host     string
		port     int
		secure   bool
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Save settings; an omitted password keeps the stored one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("REMINDMAIL_SMTP_PASSWORD")
			}
			data, err := client().do(cmd.Context(), http.MethodPut, "/v1/settings", map[string]any{
				"theme": theme,
				"email": map[string]any{
					"email":    email,
					"password": password,
					"smtpHost": host,
					"smtpPort": port,
					"secure":   secure,
				},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	setCmd.Flags().StringVar(&theme, "theme", "auto", "auto, light or dark")
	setCmd.Flags().StringVar(&email, "email", "", "sender address, also the SMTP username")
	setCmd.Flags().StringVar(&password, "password", "", "SMTP password (or REMINDMAIL_SMTP_PASSWORD)")
	setCmd.Flags().StringVar(&host, "host", "", "SMTP host")
	setCmd.Flags().IntVar(&port, "port", 587, "SMTP port")
	setCmd.Flags().BoolVar(&secure, "secure", false, "use implicit TLS (port 465)")

	settingsCmd.AddCommand(setCmd)
	return settingsCmd
}

func newHistoryCommand(client clientFunc) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show previously used recipient addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := client().do(cmd.Context(), http.MethodGet, "/v1/email-history", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	historyCmd.AddCommand(
		&cobra.Command{
			Use:   "add <email>...",
			Short: "Remember recipient addresses",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := client().do(cmd.Context(), http.MethodPost, "/v1/email-history", map[string]any{"emails": args})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget all recipient addresses",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := client().do(cmd.Context(), http.MethodDelete, "/v1/email-history", nil)
				return err
			},
		},
	)
	return historyCmd
}

// parseAt 解析 RFC3339 时间或 "+30m" 形式的相对时间
func parseAt(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "+") {
		d, err := time.ParseDuration(value[1:])
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("invalid --at %q: expected a positive duration such as +30m", value)
		}
		return now.Add(d).Truncate(time.Second), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"} {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, value)
		} else {
			t, err = time.ParseInLocation(layout, value, time.Local)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --at %q: expected RFC3339, local \"2006-01-02 15:04\" or +duration", value)
}

func printJSON(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
