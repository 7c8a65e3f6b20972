// punchctl is a small operator CLI inspecting punchbot's state file:
// which users the bot knows, and which reminder rules each has.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/punchbot/punchbot/internal/model"
	sqlitestore "github.com/punchbot/punchbot/internal/store/sqlite"
)

var (
	stateFlag string
	userFlag  string
	rootCmd   = &cobra.Command{
		Use:   "punchctl",
		Short: "Inspect punchbot's persisted user state",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&stateFlag, "state", "s", "./data/punchbot.db", "Path to the punchbot state file")

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List known users with their conversation state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsers(stateFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(usersCmd)

	remindersCmd := &cobra.Command{
		Use:   "reminders",
		Short: "List a user's reminder rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return runReminders(stateFlag, userFlag, os.Stdout)
		},
	}
	remindersCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	rootCmd.AddCommand(remindersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runUsers(statePath string, out io.Writer) error {
	st, err := sqlitestore.NewStore(statePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	recs, err := st.All(context.Background())
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Fprintf(out, "%s\tstate=%s\treminders=%d\n", rec.UserID, rec.State, len(rec.Reminders))
	}
	return nil
}

func runReminders(statePath, userID string, out io.Writer) error {
	st, err := sqlitestore.NewStore(statePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rec, err := st.Get(context.Background(), userID)
	if err != nil {
		return err
	}
	for i, r := range rec.Reminders {
		direction := "clock in"
		if r.Stamp == model.StampOut {
			direction = "clock out"
		}
		fmt.Fprintf(out, "%d: %s at %s on %s\n", i+1, direction, r.TimeOfDay, r.DaysLabel())
	}
	return nil
}
