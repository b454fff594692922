package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cvforge/internal/auth"
	"cvforge/internal/database"
	"cvforge/internal/repository"
)

func newUserCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var username string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account with a generated password",
		RunE: withEnv(open, func(cmd *cobra.Command, _ []string, e *env) error {
			username = strings.TrimSpace(username)
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			password, err := generateRandomPassword(24)
			if err != nil {
				return err
			}
			hashed, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			user := database.User{Username: username, PasswordHash: hashed}
			if err := repository.NewUserRepository(e.db).Create(cmd.Context(), &user); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "created user %q (id %d)\n", username, user.ID)
			fmt.Fprintf(e.out, "password: %s\n", password)
			return nil
		}),
	}
	create.Flags().StringVar(&username, "username", "", "login name")

	cmd.AddCommand(create)
	return cmd
}

func generateRandomPassword(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
