// docgatectl is the offline admin console for the docgate database
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mechdocs/docgate/pkg/store"
)

var dbFile string

var rootCmd = &cobra.Command{
	Use:   "docgatectl",
	Short: "Admin console for the docgate user database",
	Long: `docgatectl operates directly on the docgate SQLite database:
listing and removing user bindings, toggling subscriptions, and
managing block records. Run it against a stopped service or accept
that the service sees the changes on its next storage read.`,
	SilenceUsage: true,
}

func openStore() (*store.Store, error) {
	st, err := store.Open(dbFile, 1)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbFile, err)
	}
	return st, nil
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user bindings",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent user bindings",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		users, err := st.ListRecent(context.Background(), limit)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No bindings.")
			return nil
		}
		for _, u := range users {
			sub := ""
			if u.Subscribed {
				sub = " [subscribed]"
			}
			fmt.Printf("%d\t%s\t%s\t%s%s\n", u.UserID, u.FullName, u.Role, u.AuthTime.Format(time.RFC3339), sub)
		}
		return nil
	},
}

var usersRmCmd = &cobra.Command{
	Use:   "rm <userID>",
	Short: "Remove a user binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RemoveBinding(context.Background(), userID); err != nil {
			return err
		}
		fmt.Printf("Binding for %d removed.\n", userID)
		return nil
	},
}

var subscriptionCmd = &cobra.Command{
	Use:   "subscription on|off <userID>",
	Short: "Toggle a user's subscription",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var active bool
		switch args[0] {
		case "on":
			active = true
		case "off":
			active = false
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		userID, err := parseUserID(args[1])
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetSubscription(context.Background(), userID, active); err != nil {
			return err
		}
		fmt.Printf("Subscription for %d set to %s.\n", userID, args[0])
		return nil
	},
}

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Manage block records",
}

var blocksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List block records",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		blocks, err := st.ListBlocks(context.Background())
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			fmt.Println("No blocks.")
			return nil
		}
		now := time.Now()
		for _, b := range blocks {
			state := "expired"
			if b.UnblockTime.After(now) {
				state = "active"
			}
			fmt.Printf("%d\tuntil %s\t%s\n", b.UserID, b.UnblockTime.Format(time.RFC3339), state)
		}
		return nil
	},
}

var blocksClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all block records",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ClearBlocks(context.Background()); err != nil {
			return err
		}
		fmt.Println("All blocks cleared.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFile, "db", envOr("DB_FILE", "docgate.db"), "database file path")
	usersListCmd.Flags().Int("limit", 20, "number of bindings to list")

	usersCmd.AddCommand(usersListCmd, usersRmCmd)
	blocksCmd.AddCommand(blocksListCmd, blocksClearCmd)
	rootCmd.AddCommand(usersCmd, subscriptionCmd, blocksCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
