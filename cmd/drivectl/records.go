package main

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	ledgererrors "drivechain/core/errors"
	"drivechain/crypto"
	"drivechain/native/servicerecord"
	"drivechain/services/ledgerd/api"
)

func (c *cli) mintCommand() *cobra.Command {
	var (
		d           servicerecord.Details
		beneficiary string
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a service record and credit its points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := optionalAddress(beneficiary)
			if err != nil {
				return fmt.Errorf("--beneficiary: %w", err)
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			auth, err := c.authority(ctx)
			if err != nil {
				return err
			}
			result, err := auth.Mint(ctx, d, to)
			if err != nil {
				return err
			}
			out := api.MintResponse{ID: result.ID}
			if result.Credited {
				amount := result.Amount.Dec()
				out.CreditedAmount = &amount
			} else if result.CreditErr != nil {
				out.CreditError = &api.Error{
					Kind:    string(ledgererrors.KindOf(result.CreditErr)),
					Message: result.CreditErr.Error(),
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&d.ServiceType, "type", "", "service type, e.g. \"Oil Change\"")
	f.StringVar(&d.ServiceDate, "date", "", "service date")
	f.StringVar(&d.ServiceProvider, "provider", "", "service provider")
	f.StringVar(&d.VehicleInfo, "vehicle", "", "vehicle description")
	f.StringVar(&d.ServiceDetails, "details", "", "free-form service details")
	f.StringVar(&beneficiary, "beneficiary", "", "points recipient (defaults to the caller)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (c *cli) recordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect, verify and award service records",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a service record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				record, err := auth.Record(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.FromRecord(record))
			},
		},
		c.recordListCommand(),
		&cobra.Command{
			Use:   "verify <id>",
			Short: "Verify a service record as the caller",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				record, err := auth.Verify(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.FromRecord(record))
			},
		},
		c.recordAwardCommand(),
		&cobra.Command{
			Use:   "points <id>",
			Short: "Show the points credited for a record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ctx, cancel := c.context(cmd)
				defer cancel()
				auth, err := c.authority(ctx)
				if err != nil {
					return err
				}
				amount, credited, err := auth.RecordPoints(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.RecordPoints{RecordID: id, Amount: amount.Dec(), Credited: credited})
			},
		},
	)
	return cmd
}

func (c *cli) recordListCommand() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List record ids minted by an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := optionalAddress(owner)
			if err != nil {
				return fmt.Errorf("--owner: %w", err)
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			client, err := c.client(ctx)
			if err != nil {
				return err
			}
			ids, err := client.RecordsByOwner(ctx, addr)
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []uint64{}
			}
			out := api.RecordList{IDs: ids}
			if addr != (common.Address{}) {
				out.Owner = addr.Hex()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address (defaults to the caller)")
	return cmd
}

func (c *cli) recordAwardCommand() *cobra.Command {
	var beneficiary string
	cmd := &cobra.Command{
		Use:   "award <id>",
		Short: "Credit the points of a record minted without them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			to, err := optionalAddress(beneficiary)
			if err != nil {
				return fmt.Errorf("--beneficiary: %w", err)
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			auth, err := c.authority(ctx)
			if err != nil {
				return err
			}
			result, err := auth.Award(ctx, id, to)
			if err != nil {
				return err
			}
			out := api.AwardResponse{
				RecordID:        result.RecordID,
				Amount:          result.Amount.Dec(),
				AlreadyCredited: result.AlreadyCredited,
			}
			if result.Beneficiary != (common.Address{}) {
				out.Beneficiary = result.Beneficiary.Hex()
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "points recipient (defaults to the record owner)")
	return cmd
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid record id %q", ledgererrors.ErrInvalidArgument, raw)
	}
	return id, nil
}

func optionalAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(raw)
}
