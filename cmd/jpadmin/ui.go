package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"jeoparty/internal/account"
	"jeoparty/internal/admin"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// confirm asks a yes/no question; anything but y/yes is a no.
func confirm(label string) (bool, error) {
	fmt.Printf("%s [y/N]: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	text = strings.ToLower(strings.TrimSpace(text))
	return text == "y" || text == "yes", nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatLimit(n int) string {
	if n < 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "~"
}

func renderUsers(users []account.Profile, total, offset int) {
	accent.Printf("\n== USERS (%d-%d of %d) ==\n", min(offset+1, total), offset+len(users), total)
	if len(users) == 0 {
		printInfo("No users match.")
		return
	}
	fmt.Printf("%-36s %-30s %-8s %-9s %-10s %-6s\n", "ID", "EMAIL", "ROLE", "TIER", "STATUS", "FLAGS")
	for _, u := range users {
		flags := ""
		if u.Suspended {
			flags += "S"
		}
		if u.GrantTier != "" {
			flags += "G"
		}
		if !u.Custom.IsZero() {
			flags += "C"
		}
		line := fmt.Sprintf("%-36s %-30s %-8s %-9s %-10s %-6s", u.ID, truncate(u.Email, 30), u.Role, u.Tier, u.Status, flags)
		if u.Suspended {
			danger.Println(line)
			continue
		}
		fmt.Println(line)
	}
	printInfo("Flags: S suspended, G active grant, C custom plan")
}

func renderProfile(p account.Profile) {
	fmt.Printf("ID:             %s\n", p.ID)
	fmt.Printf("Email:          %s\n", p.Email)
	fmt.Printf("Name:           %s\n", p.DisplayName)
	fmt.Printf("Role:           %s\n", p.Role)
	fmt.Printf("Tier / Status:  %s / %s\n", p.Tier, p.Status)
	if p.TrialEndsAt != nil {
		fmt.Printf("Trial ends:     %s\n", formatTime(p.TrialEndsAt))
	}
	if p.GrantTier != "" {
		fmt.Printf("Grant:          %s until %s\n", p.GrantTier, formatTime(p.GrantExpiresAt))
	}
	if p.BillingInterval != "" {
		fmt.Printf("Billing:        %s, period ends %s, cancel at end %t\n", p.BillingInterval, formatTime(p.CurrentPeriodEnd), p.CancelAtPeriodEnd)
	}
	if p.Suspended {
		danger.Printf("Suspended:      %s (%s)\n", formatTime(p.SuspendedAt), p.SuspendedReason)
	}
	fmt.Printf("Created:        %s\n", formatTime(&p.CreatedAt))
}

func renderUserDetail(d admin.UserDetail) {
	accent.Printf("\n== %s ==\n", d.Profile.Email)
	renderProfile(d.Profile)

	accent.Println("\nEffective plan")
	fmt.Printf("Tier:           %s (%s)\n", d.Plan.Tier, d.Plan.Source)
	fmt.Printf("Teams/game:     %s\n", formatLimit(d.Plan.MaxTeams))
	fmt.Printf("Banks:          %d / %s\n", d.Usage.Banks, formatLimit(d.Plan.MaxBanks))
	fmt.Printf("Open games:     %d / %s\n", d.Usage.OpenGames, formatLimit(d.Plan.MaxActiveGames))
	features := make([]string, 0, len(d.Plan.Features))
	for _, f := range d.Plan.Features {
		features = append(features, string(f))
	}
	fmt.Printf("Features:       %s\n", strings.Join(features, ", "))
	if d.Plan.Custom {
		warn.Println("Custom plan overrides are active.")
	}

	if len(d.RecentGames) > 0 {
		accent.Println("\nRecent games")
		fmt.Printf("%-36s %-28s %-6s %-10s\n", "ID", "TITLE", "CODE", "STATUS")
		for _, g := range d.RecentGames {
			fmt.Printf("%-36s %-28s %-6s %-10s\n", g.ID, truncate(g.Title, 28), g.JoinCode, g.Status)
		}
	}
	if len(d.Refunds) > 0 {
		accent.Println("\nRefunds")
		for _, r := range d.Refunds {
			fmt.Printf("%s  %-28s %8.2f  %-10s %s\n", formatTime(&r.CreatedAt), r.PaymentIntentID, float64(r.AmountCents)/100, r.Status, r.Reason)
		}
	}
	if len(d.Impersonations) > 0 {
		accent.Println("\nOpen impersonation sessions")
		for _, s := range d.Impersonations {
			fmt.Printf("%s by %s until %s\n", s.ID, s.AdminID, formatTime(&s.ExpiresAt))
		}
	}
	if len(d.RecentAudit) > 0 {
		accent.Println("\nRecent audit")
		renderAuditRows(d.RecentAudit)
	}
}

func renderSession(s admin.Session) {
	fmt.Printf("Session:  %s\n", s.ID)
	fmt.Printf("Target:   %s\n", s.TargetID)
	fmt.Printf("Reason:   %s\n", s.Reason)
	fmt.Printf("Started:  %s\n", formatTime(&s.StartedAt))
	fmt.Printf("Expires:  %s\n", formatTime(&s.ExpiresAt))
}

func renderAudit(entries []admin.AuditEntry, total, offset int) {
	accent.Printf("\n== AUDIT LOG (%d-%d of %d) ==\n", min(offset+1, total), offset+len(entries), total)
	if len(entries) == 0 {
		printInfo("No entries.")
		return
	}
	renderAuditRows(entries)
}

func renderAuditRows(entries []admin.AuditEntry) {
	fmt.Printf("%-16s %-24s %-36s %-36s %s\n", "WHEN", "ACTION", "ADMIN", "TARGET", "DETAILS")
	for _, e := range entries {
		fmt.Printf("%-16s %-24s %-36s %-36s %s\n", formatTime(&e.CreatedAt), e.Action, e.AdminID, e.TargetUserID, formatDetails(e.Details))
	}
}

func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
