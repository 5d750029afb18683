package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"jeoparty/internal/admin"
	cl "jeoparty/internal/cli"
	"jeoparty/internal/config"

	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "jpadmin",
		Short:        "Jeoparty admin console",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newWhoamiCmd(&apiBase),
		newUsersCmd(&apiBase),
		newSuspendCmd(&apiBase),
		newUnsuspendCmd(&apiBase),
		newGrantCmd(&apiBase),
		newRevokeCmd(&apiBase),
		newPlanCmd(&apiBase),
		newRefundCmd(&apiBase),
		newImpersonateCmd(&apiBase),
		newAuditCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func sessionStore() (cl.SessionStore, error) {
	return cl.DefaultSessionStore()
}

// authedClient loads the saved session and builds a client for it.
func authedClient(apiBase *string) (*cl.Client, cl.Session, error) {
	store, err := sessionStore()
	if err != nil {
		return nil, cl.Session{}, err
	}
	sess, err := store.Load()
	if err != nil {
		return nil, cl.Session{}, err
	}
	return cl.NewClient(strings.TrimSpace(*apiBase), sess.AccessToken), sess, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

// reasonFlag returns --reason, prompting when it was left empty.
func reasonFlag(reason string) (string, error) {
	if strings.TrimSpace(reason) != "" {
		return strings.TrimSpace(reason), nil
	}
	return promptRequired("Reason")
}

func confirmed(yes bool, label string) (bool, error) {
	if yes {
		return true, nil
	}
	ok, err := confirm(label)
	if err != nil {
		return false, err
	}
	if !ok {
		printWarn("Aborted.")
	}
	return ok, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login with an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			session, err := cl.NewClient(*apiBase, "").Login(ctx, email, password)
			if err != nil {
				return err
			}
			me, err := cl.NewClient(*apiBase, session.AccessToken).Me(ctx)
			if err != nil {
				return err
			}
			if !me.Profile.IsAdmin() {
				return errors.New("this account is not an admin")
			}
			store, err := sessionStore()
			if err != nil {
				return err
			}
			if err := store.Save(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        me.Profile.Email,
				UserID:       me.Profile.ID,
				APIBaseURL:   *apiBase,
			}); err != nil {
				return err
			}
			printSuccess("Logged in as " + me.Profile.Email + ".")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionStore()
			if err != nil {
				return err
			}
			if sess, err := store.Load(); err == nil && sess.Impersonation != "" {
				printWarn("Impersonation session " + sess.Impersonation + " is still open; it will expire on its own.")
			}
			if err := store.Clear(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			me, err := client.Me(ctx)
			if err != nil {
				return err
			}
			renderProfile(me.Profile)
			if sess.Impersonation != "" {
				printWarn("Impersonating with session " + sess.Impersonation)
			}
			return nil
		},
	}
}

func newUsersCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Search and inspect users",
	}

	var q cl.UserQuery
	var suspended string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(strings.TrimSpace(suspended)) {
			case "":
			case "true", "yes":
				v := true
				q.Suspended = &v
			case "false", "no":
				v := false
				q.Suspended = &v
			default:
				return fmt.Errorf("--suspended must be true or false")
			}
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			page, err := client.ListUsers(ctx, q)
			if err != nil {
				return err
			}
			renderUsers(page.Items, page.Total, page.Offset)
			return nil
		},
	}
	list.Flags().StringVarP(&q.Query, "query", "q", "", "match email or display name")
	list.Flags().StringVar(&q.Tier, "tier", "", "FREE, BASIC or PREMIUM")
	list.Flags().StringVar(&q.Status, "status", "", "subscription status")
	list.Flags().StringVar(&suspended, "suspended", "", "true or false")
	list.Flags().IntVar(&q.Limit, "limit", 25, "page size")
	list.Flags().IntVar(&q.Offset, "offset", 0, "page offset")

	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user with plan, usage and recent activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			detail, err := client.GetUser(ctx, args[0])
			if err != nil {
				return err
			}
			renderUserDetail(detail)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newSuspendCmd(apiBase *string) *cobra.Command {
	var reason string
	var yes bool
	cmd := &cobra.Command{
		Use:   "suspend <user-id>",
		Short: "Suspend a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := reasonFlag(reason)
			if err != nil {
				return err
			}
			if ok, err := confirmed(yes, "Suspend "+args[0]+"?"); err != nil || !ok {
				return err
			}
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			p, err := client.Suspend(ctx, args[0], reason)
			if err != nil {
				return err
			}
			printSuccess("Suspended " + p.Email + ".")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the user")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newUnsuspendCmd(apiBase *string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "unsuspend <user-id>",
		Short: "Lift a suspension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := reasonFlag(reason)
			if err != nil {
				return err
			}
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			p, err := client.Unsuspend(ctx, args[0], reason)
			if err != nil {
				return err
			}
			printSuccess("Unsuspended " + p.Email + ".")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "audit reason")
	return cmd
}

func newGrantCmd(apiBase *string) *cobra.Command {
	var in admin.GrantInput
	cmd := &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Grant a paid tier for a number of days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := reasonFlag(in.Reason)
			if err != nil {
				return err
			}
			in.Reason = reason
			in.Tier = strings.ToUpper(strings.TrimSpace(in.Tier))
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			p, err := client.Grant(ctx, args[0], in)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Granted %s to %s until %s.", p.GrantTier, p.Email, formatTime(p.GrantExpiresAt)))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Tier, "tier", "PREMIUM", "BASIC or PREMIUM")
	cmd.Flags().IntVar(&in.Days, "days", 30, "grant length in days")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "audit reason")
	return cmd
}

func newRevokeCmd(apiBase *string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke an active grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := reasonFlag(reason)
			if err != nil {
				return err
			}
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			p, err := client.RevokeGrant(ctx, args[0], reason)
			if err != nil {
				return err
			}
			printSuccess("Revoked grant for " + p.Email + ".")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "audit reason")
	return cmd
}

func newPlanCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage custom plan overrides",
	}

	var (
		maxTeams, maxBanks, maxGames int
		features                     []string
		setReason                    string
	)
	set := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Override plan limits for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := admin.CustomPlanInput{Features: features}
			if cmd.Flags().Changed("max-teams") {
				in.MaxTeams = &maxTeams
			}
			if cmd.Flags().Changed("max-banks") {
				in.MaxBanks = &maxBanks
			}
			if cmd.Flags().Changed("max-games") {
				in.MaxActiveGames = &maxGames
			}
			if in.MaxTeams == nil && in.MaxBanks == nil && in.MaxActiveGames == nil && len(in.Features) == 0 {
				return errors.New("set at least one of --max-teams, --max-banks, --max-games, --feature")
			}
			reason, err := reasonFlag(setReason)
			if err != nil {
				return err
			}
			in.Reason = reason
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			p, err := client.SetCustomPlan(ctx, args[0], in)
			if err != nil {
				return err
			}
			printSuccess("Custom plan set for " + p.Email + ".")
			return nil
		},
	}
	set.Flags().IntVar(&maxTeams, "max-teams", 0, "teams per game")
	set.Flags().IntVar(&maxBanks, "max-banks", 0, "question banks, -1 for unlimited")
	set.Flags().IntVar(&maxGames, "max-games", 0, "open games, -1 for unlimited")
	set.Flags().StringSliceVar(&features, "feature", nil, "feature to enable, repeatable")
	set.Flags().StringVar(&setReason, "reason", "", "audit reason")

	var clearReason string
	clearCmd := &cobra.Command{
		Use:   "clear <user-id>",
		Short: "Remove plan overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := reasonFlag(clearReason)
			if err != nil {
				return err
			}
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			p, err := client.ClearCustomPlan(ctx, args[0], reason)
			if err != nil {
				return err
			}
			printSuccess("Custom plan cleared for " + p.Email + ".")
			return nil
		},
	}
	clearCmd.Flags().StringVar(&clearReason, "reason", "", "audit reason")

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func newRefundCmd(apiBase *string) *cobra.Command {
	var in admin.RefundInput
	var yes bool
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Refund a payment through Stripe",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.UserID == "" || in.PaymentIntentID == "" {
				return errors.New("--user and --payment-intent are required")
			}
			reason, err := reasonFlag(in.Reason)
			if err != nil {
				return err
			}
			in.Reason = reason
			amount := "the full amount"
			if in.AmountCents > 0 {
				amount = fmt.Sprintf("$%.2f", float64(in.AmountCents)/100)
			}
			if ok, err := confirmed(yes, fmt.Sprintf("Refund %s of %s?", amount, in.PaymentIntentID)); err != nil || !ok {
				return err
			}
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			r, err := client.Refund(ctx, in)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Refund %s %s ($%.2f).", r.StripeRefundID, r.Status, float64(r.AmountCents)/100))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&in.PaymentIntentID, "payment-intent", "", "Stripe payment intent (pi_...)")
	cmd.Flags().Int64Var(&in.AmountCents, "amount", 0, "amount in cents, 0 for full refund")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "audit reason")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newImpersonateCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "impersonate",
		Short: "Act as a user for support",
	}

	var in admin.ImpersonationInput
	start := &cobra.Command{
		Use:   "start <user-id>",
		Short: "Open an impersonation session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, err := reasonFlag(in.Reason)
			if err != nil {
				return err
			}
			in.Reason = reason
			in.TargetUserID = args[0]
			client, sess, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			s, err := client.StartImpersonation(ctx, in)
			if err != nil {
				return err
			}
			sess.Impersonation = s.ID
			store, err := sessionStore()
			if err != nil {
				return err
			}
			if err := store.Save(sess); err != nil {
				return err
			}
			printSuccess("Impersonation started.")
			renderSession(s)
			printInfo("Send header X-Impersonation-Session: " + s.ID + " with the admin token.")
			return nil
		},
	}
	start.Flags().StringVar(&in.Reason, "reason", "", "audit reason")
	start.Flags().IntVar(&in.Minutes, "minutes", 0, "session length, server default when 0")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the open impersonation session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			s, err := client.ActiveImpersonation(ctx)
			if err != nil {
				return err
			}
			if s == nil {
				printInfo("No open impersonation session.")
				return nil
			}
			renderSession(*s)
			return nil
		},
	}

	end := &cobra.Command{
		Use:   "end [session-id]",
		Short: "End an impersonation session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			id := sess.Impersonation
			if len(args) == 1 {
				id = args[0]
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if id == "" {
				s, err := client.ActiveImpersonation(ctx)
				if err != nil {
					return err
				}
				if s == nil {
					printInfo("No open impersonation session.")
					return nil
				}
				id = s.ID
			}
			out, err := client.EndImpersonation(ctx, id)
			if err != nil {
				return err
			}
			if sess.Impersonation == id {
				sess.Impersonation = ""
				store, err := sessionStore()
				if err != nil {
					return err
				}
				if err := store.Save(sess); err != nil {
					return err
				}
			}
			if out.AlreadyEnded {
				printWarn("Session " + out.SessionID + " was already closed.")
				return nil
			}
			printSuccess("Impersonation ended.")
			return nil
		},
	}

	cmd.AddCommand(start, status, end)
	return cmd
}

// parseSince accepts RFC3339 or a duration meaning that long ago.
func parseSince(v string, now time.Time) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		t := now.Add(-d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC3339 nor a duration", v)
	}
	return &t, nil
}

func newAuditCmd(apiBase *string) *cobra.Command {
	var q cl.AuditQuery
	var since, until string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Browse the admin audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			var err error
			if q.Since, err = parseSince(since, now); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if q.Until, err = parseSince(until, now); err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			client, _, err := authedClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			page, err := client.Audit(ctx, q)
			if err != nil {
				return err
			}
			renderAudit(page.Items, page.Total, page.Offset)
			return nil
		},
	}
	cmd.Flags().StringVar(&q.AdminID, "admin", "", "filter by admin id")
	cmd.Flags().StringVar(&q.TargetUserID, "target", "", "filter by target user id")
	cmd.Flags().StringVar(&q.Action, "action", "", "filter by action, e.g. user.grant")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 time or duration ago (24h)")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 time or duration ago")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "page offset")
	return cmd
}
