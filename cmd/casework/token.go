package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/casework/api"
	"github.com/warp/casework/welfare"
)

func tokenCmd() *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Long: `Sign a bearer token carrying a stored user's id and role, for calling the
API locally. Uses auth.jwt_secret and auth.issuer from the configuration.`,
		Example: `  casework token --user manager1
  curl -H "Authorization: Bearer $(casework token --user admin)" localhost:8080/api/dashboard`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required (CASEWORK_AUTH_JWT_SECRET)")
			}
			auth, err := api.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
			if err != nil {
				return err
			}

			user, err := a.store.FindUserByUsername(cmd.Context(), username)
			if err != nil {
				return fmt.Errorf("user %q: %w", username, err)
			}
			token, err := auth.Issue(welfare.Principal{UserID: user.ID, Role: user.Role}, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "username to issue the token for (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
