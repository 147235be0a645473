package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type tokenResponseJSON struct {
	Token        string `json:"token"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate against a topologyd server",
	}
	cmd.AddCommand(newAuthLoginCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var username, password string
	c := &cobra.Command{
		Use:   "login",
		Short: "Exchange admin credentials for a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"username": username, "password": password}
			var out tokenResponseJSON
			if err := clientFromCmd(cmd).do(context.Background(), "POST", "/v1/auth/login", req, &out); err != nil {
				return err
			}
			if outputFormat(cmd) == "json" {
				return newPrinter("json").json(out)
			}
			fmt.Println(out.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "export TOPOLOGYD_TOKEN=%s\n", out.Token)
			return nil
		},
	}
	c.Flags().StringVar(&username, "username", "", "admin username")
	c.Flags().StringVar(&password, "password", "", "admin password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}
