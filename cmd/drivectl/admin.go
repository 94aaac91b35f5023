package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	ledgererrors "drivechain/core/errors"
	"drivechain/crypto"
	"drivechain/services/ledgerd/api"
)

func (c *cli) multiplierCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multiplier",
		Short: "Read and manage service type multipliers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every multiplier",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				entries, err := auth.Multipliers(ctx)
				if err != nil {
					return err
				}
				out := make([]api.Multiplier, 0, len(entries))
				for _, e := range entries {
					out = append(out, api.Multiplier{ServiceType: e.ServiceType, Multiplier: e.Multiplier})
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		},
		&cobra.Command{
			Use:   "get <service-type>",
			Short: "Show one multiplier",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				m, err := auth.Multiplier(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.Multiplier{ServiceType: args[0], Multiplier: m})
			},
		},
		&cobra.Command{
			Use:   "set <service-type> <multiplier>",
			Short: "Insert or overwrite a multiplier (owner only)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("%w: invalid multiplier %q", ledgererrors.ErrInvalidArgument, args[1])
				}
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				if err := auth.SetMultiplier(ctx, args[0], value); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.Multiplier{ServiceType: args[0], Multiplier: value})
			},
		},
	)
	return cmd
}

func (c *cli) verifierCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verifier",
		Short: "Manage authorized verifiers",
	}
	var disable bool
	set := &cobra.Command{
		Use:   "set <address>",
		Short: "Authorize (or with --disable revoke) a verifier (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			auth, err := c.authority(ctx)
			if err != nil {
				return err
			}
			if err := auth.SetVerifierStatus(ctx, addr, !disable); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.VerifierStatus{Address: addr.Hex(), Authorized: !disable})
		},
	}
	set.Flags().BoolVar(&disable, "disable", false, "revoke instead of authorize")
	cmd.AddCommand(
		set,
		&cobra.Command{
			Use:   "get <address>",
			Short: "Report whether an address is an authorized verifier",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				addr, err := crypto.ParseAddress(args[0])
				if err != nil {
					return err
				}
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				ok, err := auth.IsAuthorizedVerifier(ctx, addr)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.VerifierStatus{Address: addr.Hex(), Authorized: ok})
			},
		},
	)
	return cmd
}
