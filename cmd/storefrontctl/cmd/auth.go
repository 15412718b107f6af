package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/storefront/apiclient"
	"github.com/pilab-dev/storefront/cmd/storefrontctl/app"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Log in, log out and inspect the current session",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with email and password and persist the session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		var err error
		if email == "" {
			if email, err = prompt("Email: "); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = promptPassword("Password: "); err != nil {
				return err
			}
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Manager.Login(ctx, email, password); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Logged in as %s.\n", a.Manager.State().User.DisplayName())
			return printYAML(os.Stdout, a.Manager.State())
		})
	},
}

var oauthCmd = &cobra.Command{
	Use:   "oauth <auth-code>",
	Short: "Complete a social login by exchanging the OAuth authorization code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Manager.LoginWithOAuth(ctx, args[0]); err != nil {
				return fmt.Errorf("oauth login failed: %w", err)
			}
			return printYAML(os.Stdout, a.Manager.State())
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		req := apiclient.RegisterRequest{}
		req.FirstName, _ = flags.GetString("first-name")
		req.LastName, _ = flags.GetString("last-name")
		req.EmailAddress, _ = flags.GetString("email")
		req.Password, _ = flags.GetString("password")
		req.AgreeToTerms, _ = flags.GetBool("agree-terms")
		req.AgreeToPrivacyPolicy, _ = flags.GetBool("agree-privacy")

		if req.EmailAddress == "" {
			return errors.New("--email is required")
		}
		if req.Password == "" {
			var err error
			if req.Password, err = promptPassword("Password: "); err != nil {
				return err
			}
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Manager.Register(ctx, req); err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}
			fmt.Println("Registration successful. Log in with 'storefrontctl auth login'.")
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear the persisted session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if !a.Manager.State().IsLoggedIn {
				fmt.Println("Not logged in.")
			}
			a.Manager.Logout(ctx)
			fmt.Println("Logged out.")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the restored session state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			st := a.Manager.State()
			if !st.IsLoggedIn {
				fmt.Println("Not logged in.")
				return nil
			}
			return printYAML(os.Stdout, st)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch the user profile and verification flags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if !a.Manager.State().IsLoggedIn {
				return errors.New("not logged in")
			}
			if err := a.Manager.RefreshSession(ctx); err != nil {
				return fmt.Errorf("session refresh failed, logged out: %w", err)
			}
			return printYAML(os.Stdout, a.Manager.State())
		})
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, oauthCmd, registerCmd, logoutCmd, whoamiCmd, refreshCmd)

	loginCmd.Flags().String("email", "", "account email (prompted when empty)")
	loginCmd.Flags().String("password", "", "account password (prompted when empty)")

	registerCmd.Flags().String("first-name", "", "first name")
	registerCmd.Flags().String("last-name", "", "last name")
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("password", "", "account password (prompted when empty)")
	registerCmd.Flags().Bool("agree-terms", false, "accept the terms of service")
	registerCmd.Flags().Bool("agree-privacy", false, "accept the privacy policy")
}
