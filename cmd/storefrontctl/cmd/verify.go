package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/storefront/cmd/storefrontctl/app"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an organization email with a one-time password",
}

var sendOTPCmd = &cobra.Command{
	Use:   "send-otp <organizational-email>",
	Short: "Send a one-time password to the organization email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Manager.RequestOrganizationEmailOTP(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to send OTP: %w", err)
			}
			fmt.Printf("OTP sent to %s.\n", args[0])
			return nil
		})
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Submit the one-time password and refresh the verification status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		otp, _ := cmd.Flags().GetString("otp")
		role, _ := cmd.Flags().GetString("role")

		var err error
		if otp == "" {
			if otp, err = prompt("OTP: "); err != nil {
				return err
			}
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Manager.VerifyOrganizationEmail(ctx, email, otp, role); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			return printYAML(os.Stdout, a.Manager.State().Verification)
		})
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.AddCommand(sendOTPCmd, confirmCmd)

	confirmCmd.Flags().String("email", "", "organization email the OTP was sent to")
	confirmCmd.Flags().String("otp", "", "one-time password (prompted when empty)")
	confirmCmd.Flags().String("role", "buyer", "role to request for the account")
	_ = confirmCmd.MarkFlagRequired("email")
}
