package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"drivechain/crypto"
	gwmw "drivechain/gateway/middleware"
	"drivechain/services/ledgerd/api"
)

func (c *cli) loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login <keystore-path>",
		Short: "Exchange a keystore signature for a bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.loadKey(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			c.flags.keystore = ""
			client, err := c.client(ctx)
			if err != nil {
				return err
			}
			resp, err := client.Login(ctx, key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

// tokenCommand signs a token offline with the service's shared secret, for
// operators provisioning service accounts.
func (c *cli) tokenCommand() *cobra.Command {
	var (
		secret  string
		issuer  string
		ttl     time.Duration
		address string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the service secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			addr, err := crypto.ParseAddress(address)
			if err != nil {
				return fmt.Errorf("--address: %w", err)
			}
			auth := gwmw.NewAuthenticator(gwmw.AuthConfig{
				Enabled:    true,
				HMACSecret: secret,
				Issuer:     issuer,
				TokenTTL:   ttl,
			}, c.logger, nil)
			token, expires, err := auth.IssueToken(addr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.TokenResponse{Token: token, Address: addr.Hex(), ExpiresAt: expires})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret shared with ledgerd")
	cmd.Flags().StringVar(&issuer, "issuer", "drivechain", "token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&address, "address", "", "caller address the token identifies")
	return cmd
}
