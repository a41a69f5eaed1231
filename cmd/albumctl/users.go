package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevecastle/dicomalbum/auth"
)

func init() {
	usersCmd := &cobra.Command{Use: "users", Short: "User operations"}

	// create
	var password string
	createCmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := openStore(cmd.Context(), newLogger())
			if err != nil {
				return err
			}
			defer s.Close()
			u, err := auth.NewAuthService(s.DB(), cfg.JWTSecret).Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Created user %s (id %d)\n", u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().StringVarP(&password, "password", "p", "", "Password (required)")
	_ = createCmd.MarkFlagRequired("password")
	usersCmd.AddCommand(createCmd)

	// list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := openStore(cmd.Context(), newLogger())
			if err != nil {
				return err
			}
			defer s.Close()
			users, err := auth.NewAuthService(s.DB(), cfg.JWTSecret).ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(os.Stdout, "%d\t%s\t%s\n", u.ID, u.Username, time.Unix(u.CreatedAt, 0).Format(time.RFC3339))
			}
			return nil
		},
	}
	usersCmd.AddCommand(listCmd)

	// delete
	deleteCmd := &cobra.Command{
		Use:   "delete USERNAME",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := openStore(cmd.Context(), newLogger())
			if err != nil {
				return err
			}
			defer s.Close()
			return auth.NewAuthService(s.DB(), cfg.JWTSecret).DeleteUser(cmd.Context(), args[0])
		},
	}
	usersCmd.AddCommand(deleteCmd)

	rootCmd.AddCommand(usersCmd)
}
