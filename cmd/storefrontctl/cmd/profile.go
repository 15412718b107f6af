package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/storefront/cmd/storefrontctl/app"
	"github.com/pilab-dev/storefront/domain"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Edit the locally cached profile",
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Merge the given fields into the cached user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		str := func(name string) *string {
			if !flags.Changed(name) {
				return nil
			}
			v, _ := flags.GetString(name)
			return &v
		}

		patch := domain.UserPatch{
			FirstName:    str("first-name"),
			LastName:     str("last-name"),
			Name:         str("name"),
			AvatarURL:    str("avatar-url"),
			Organization: str("organization"),
			Position:     str("position"),
			Location:     str("location"),
			Bio:          str("bio"),
			PhoneNumber:  str("phone"),
		}
		if patch == (domain.UserPatch{}) {
			return errors.New("nothing to update, pass at least one field flag")
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Manager.UpdateUser(ctx, patch); err != nil {
				return fmt.Errorf("profile update failed: %w", err)
			}
			return printYAML(os.Stdout, a.Manager.State().User)
		})
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileUpdateCmd)

	f := profileUpdateCmd.Flags()
	f.String("first-name", "", "first name")
	f.String("last-name", "", "last name")
	f.String("name", "", "display name")
	f.String("avatar-url", "", "avatar URL")
	f.String("organization", "", "organization")
	f.String("position", "", "position")
	f.String("location", "", "location")
	f.String("bio", "", "about me")
	f.String("phone", "", "phone number")
}
