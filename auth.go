package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/provider"
	"github.com/tonimelisma/gdrive-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Google Drive in the browser",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved authentication token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account and its storage quota",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	oc, err := oauthConfig(&cc.Cfg.Auth)
	if err != nil {
		return err
	}

	tokenPath := cc.Cfg.Auth.TokenFile

	ts, err := drive.Login(ctx, oc, tokenPath, openBrowser, cc.Logger)
	if err != nil {
		return err
	}

	about, err := newDriveClient(&cc.Cfg.Network, ts, cc.Logger).About(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	acct := tokenfile.Account{
		Email:        about.Email,
		DisplayName:  about.DisplayName,
		PermissionID: about.PermissionID,
	}

	if err := tokenfile.SetAccount(tokenPath, acct); err != nil {
		return err
	}

	cc.Logger.Info("login complete", slog.String("email", about.Email))
	cc.Statusf("Logged in as %s.\n", about.Email)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := drive.Logout(cc.Cfg.Auth.TokenFile, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	PermissionID string `json:"permission_id"`
	QuotaUsed    int64  `json:"quota_used"`
	QuotaTotal   int64  `json:"quota_total"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	tf, err := tokenfile.Load(cc.Cfg.Auth.TokenFile)
	if err != nil {
		return err
	}

	if tf == nil {
		return drive.ErrNotLoggedIn
	}

	p, err := openProvider(ctx, cc, nil)
	if err != nil {
		return err
	}

	defer p.Disconnect()

	quota, err := p.Quota(ctx)
	if err != nil {
		return fmt.Errorf("fetching quota: %w", err)
	}

	out := newWhoamiOutput(&tf.Account, p.ConnectionID(), quota)

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	printWhoamiText(cc, out)

	return nil
}

func newWhoamiOutput(acct *tokenfile.Account, connID string, q provider.Quota) whoamiOutput {
	email := acct.Email
	if email == "" {
		email = q.Login
	}

	return whoamiOutput{
		Email:        email,
		DisplayName:  acct.DisplayName,
		PermissionID: connID,
		QuotaUsed:    q.Used,
		QuotaTotal:   q.Limit,
	}
}

func printWhoamiText(cc *CLIContext, out whoamiOutput) {
	if out.DisplayName != "" {
		fmt.Fprintf(cc.Out, "User:  %s (%s)\n", out.DisplayName, out.Email)
	} else {
		fmt.Fprintf(cc.Out, "User:  %s\n", out.Email)
	}

	fmt.Fprintf(cc.Out, "ID:    %s\n", out.PermissionID)
	fmt.Fprintf(cc.Out, "Quota: %s / %s\n", formatSize(out.QuotaUsed), formatSize(out.QuotaTotal))
}
