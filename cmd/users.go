package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/velikanov/kbase/internal/app"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the user whitelist and registrations",
}

var usersAllowCmd = &cobra.Command{
	Use:   "allow [username]",
	Short: "Add a username to the whitelist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			added, err := a.Access.Whitelist(ctx, args[0])
			if err != nil {
				return err
			}
			if !added {
				fmt.Printf("%s is already whitelisted\n", args[0])
				return nil
			}
			fmt.Printf("%s whitelisted\n", args[0])
			return nil
		})
	},
}

var usersDenyCmd = &cobra.Command{
	Use:   "deny [username]",
	Short: "Remove a username from the whitelist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			removed, err := a.Access.Unwhitelist(ctx, args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not on the whitelist", args[0])
			}
			fmt.Printf("%s removed from the whitelist\n", args[0])
			return nil
		})
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List whitelisted usernames",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			names, err := a.Access.ListWhitelist(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("whitelist is empty")
				return nil
			}
			for _, name := range names {
				fmt.Printf("@%s\n", name)
			}
			return nil
		})
	},
}

var usersRegisterCmd = &cobra.Command{
	Use:   "register [user-id] [username]",
	Short: "Register a whitelisted user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Access.Register(ctx, userID, args[1]); err != nil {
				return err
			}
			fmt.Printf("user %d registered as %s\n", userID, args[1])
			return nil
		})
	},
}

func init() {
	usersCmd.AddCommand(usersAllowCmd)
	usersCmd.AddCommand(usersDenyCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersRegisterCmd)
	rootCmd.AddCommand(usersCmd)
}
