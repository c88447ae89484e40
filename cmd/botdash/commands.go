package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/botdash/internal/config"
	"github.com/kalambet/botdash/internal/notify"
	"github.com/kalambet/botdash/internal/usage"
)

// --- account ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a Google ID token",
	Long: `Sign in with a Google ID token obtained from the sign-in flow.

Examples:
  botdash login --credential eyJhbGciOi...
  BOTDASH_GOOGLE_CREDENTIAL=eyJhbGciOi... botdash login`,
	RunE: func(cmd *cobra.Command, args []string) error {
		credential, _ := cmd.Flags().GetString("credential")
		if credential == "" {
			credential = os.Getenv("BOTDASH_GOOGLE_CREDENTIAL")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.auth().SignInWithGoogle(cmd.Context(), credential)
		if err != nil {
			return err
		}
		printSuccess("Signed in as %s (%s)", sess.Name, sess.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the local session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return a.auth().Logout(cmd.Context())
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sess := a.sessions.Read()
		printStatus("Name", "%s", sess.Name)
		if sess.Email != "" {
			printStatus("Email", "%s", sess.Email)
		}
		printStatus("Role", "%s", sess.Role)
		printStatus("Avatar", "%s", sess.AvatarURL)
		printStatus("Signed in", "%t", !sess.IsGuest())
		return nil
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Recover a password",
}

var passwordForgotCmd = &cobra.Command{
	Use:   "forgot <email>",
	Short: "Send a password reset email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.auth().ForgotPassword(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("If %s has an account, a reset link is on its way", args[0])
		return nil
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set a new password with a reset token",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		password, _ := cmd.Flags().GetString("password")
		confirm, _ := cmd.Flags().GetString("confirm")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		msg, err := a.auth().ResetPassword(cmd.Context(), token, password, confirm)
		if err != nil {
			return err
		}
		printSuccess("%s", msg)
		return nil
	},
}

var verifyEmailCmd = &cobra.Command{
	Use:   "verify-email <token>",
	Short: "Confirm an email verification token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.auth().VerifyEmail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSuccess("Email verification: %s", status)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("credential", "", "Google ID token")
	passwordResetCmd.Flags().String("token", "", "reset token from the email")
	passwordResetCmd.Flags().String("password", "", "new password")
	passwordResetCmd.Flags().String("confirm", "", "new password again")
	passwordCmd.AddCommand(passwordForgotCmd)
	passwordCmd.AddCommand(passwordResetCmd)
}

// --- notifications ---

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"n"},
	Short:   "List and dismiss notifications",
}

// newPoller returns a poller over a's backend with the current list loaded.
func newPoller(cmd *cobra.Command, a *app) (*notify.Poller, error) {
	if err := a.requireSession(); err != nil {
		return nil, err
	}
	p := notify.NewPoller(a.client, a.cfg.PollInterval())
	if err := p.Refresh(cmd.Context()); err != nil {
		return nil, err
	}
	return p, nil
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unread notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := newPoller(cmd, a)
		if err != nil {
			return err
		}
		items := p.Items()
		if asJSON {
			return printJSON(items)
		}
		if len(items) == 0 {
			printSuccess("No unread notifications")
			return nil
		}
		for _, n := range items {
			fmt.Fprintf(stdout, "%s  %s  %s  %s\n",
				colorize(colorBold, strconv.FormatInt(n.ID, 10)),
				n.CreatedAt.Local().Format(time.DateTime),
				colorize(colorCyan, n.EventType),
				n.EventData,
			)
		}
		return nil
	},
}

func reportResult(res notify.Result, success string) error {
	if res.OK() {
		printSuccess("%s", success)
		return nil
	}
	if res.RolledBack {
		printWarning("Backend rejected the change; the list was restored")
	}
	return res.Err
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid notification id %q", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := newPoller(cmd, a)
		if err != nil {
			return err
		}
		return reportResult(p.MarkRead(cmd.Context(), id), fmt.Sprintf("Marked %d as read", id))
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := newPoller(cmd, a)
		if err != nil {
			return err
		}
		n := p.UnreadCount()
		return reportResult(p.MarkAllRead(cmd.Context()), fmt.Sprintf("Marked %d notifications as read", n))
	},
}

func init() {
	notificationsListCmd.Flags().Bool("json", false, "print as JSON")
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show or publish word and storage usage",
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show usage against the plan limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireSession(); err != nil {
			return err
		}

		s := usage.NewSynchronizer(a.handle, a.client, a.cfg.WatchInterval())
		if err := s.Refresh(cmd.Context()); err != nil {
			return err
		}
		u := s.Snapshot()
		if asJSON {
			return printJSON(u)
		}
		printQuota("Words", usage.WordsQuota(u))
		printQuota("Storage", usage.StorageQuota(u))
		printStatus("This session", "%d words, %d bytes", u.CurrentSessionWords, u.CurrentSessionStorage)
		return nil
	},
}

var usagePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish new global counters to a running agent",
	Long: `Publish new global counters for the agent (or any other watcher on the
same data directory) to pick up.

Examples:
  botdash usage push --words 950 --storage 200`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var u usage.Update
		if cmd.Flags().Changed("words") {
			v, _ := cmd.Flags().GetInt64("words")
			u.GlobalWordsUsed = &v
		}
		if cmd.Flags().Changed("storage") {
			v, _ := cmd.Flags().GetInt64("storage")
			u.GlobalStorageUsed = &v
		}
		if u.GlobalWordsUsed == nil && u.GlobalStorageUsed == nil {
			return fmt.Errorf("at least one of --words or --storage is required")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := usage.Publish(a.handle, u); err != nil {
			return err
		}
		printSuccess("Usage update published")
		return nil
	},
}

func init() {
	usageShowCmd.Flags().Bool("json", false, "print as JSON")
	usagePushCmd.Flags().Int64("words", 0, "global words used")
	usagePushCmd.Flags().Int64("storage", 0, "global storage used")
	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usagePushCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
