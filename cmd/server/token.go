package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roadsight/billboard-proxy/internal/auth"
	"github.com/roadsight/billboard-proxy/internal/config"
)

func newTokenCmd(cfgFile *string) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a configured user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if !cfg.Auth.Enabled {
				return errors.New("auth is disabled; set auth.enabled to issue tokens")
			}

			resp, err := auth.NewService(cfg.Auth).Issue(email)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email of a user listed in auth.users")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return err
				}
				return errors.New("no password on stdin")
			}

			hash, err := auth.HashPassword(strings.TrimRight(scanner.Text(), "\r"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
