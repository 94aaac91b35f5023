package main

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	ledgererrors "drivechain/core/errors"
	"drivechain/crypto"
	"drivechain/services/ledgerd/api"
)

func (c *cli) pointsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Query balances and transfer points",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "balance <address>",
			Short: "Show balance and lifetime earnings",
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
				account, err := auth.Account(ctx, addr)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.Balance{
					Address:     addr.Hex(),
					Balance:     account.Balance.Dec(),
					TotalEarned: account.TotalEarned.Dec(),
				})
			},
		},
		&cobra.Command{
			Use:   "transfer <to> <amount>",
			Short: "Move points from the caller to another address",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				to, err := crypto.ParseAddress(args[0])
				if err != nil {
					return err
				}
				amount, err := uint256.FromDecimal(args[1])
				if err != nil {
					return fmt.Errorf("%w: invalid amount %q", ledgererrors.ErrInvalidArgument, args[1])
				}
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				remaining, err := auth.Transfer(ctx, to, amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.TransferResponse{NewBalanceOfCaller: remaining.Dec()})
			},
		},
	)
	return cmd
}
