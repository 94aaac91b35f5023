package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"drivechain/crypto"
)

type keyInfo struct {
	Address  string `json:"address"`
	Bech32   string `json:"bech32"`
	Keystore string `json:"keystore,omitempty"`
}

func describeKey(key *crypto.PrivateKey, path string) (keyInfo, error) {
	addr := key.Address()
	b32, err := crypto.EncodeBech32(addr)
	if err != nil {
		return keyInfo{}, err
	}
	return keyInfo{Address: addr.Hex(), Bech32: b32, Keystore: path}, nil
}

func (c *cli) keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Create and inspect signing keys",
	}
	var force bool
	newCmd := &cobra.Command{
		Use:   "new <keystore-path>",
		Short: "Generate a key and write it to an encrypted keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("keystore %s already exists; use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			pass, err := c.pass.Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(path, key, pass); err != nil {
				return fmt.Errorf("write keystore: %w", err)
			}
			info, err := describeKey(key, path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	newCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	cmd.AddCommand(
		newCmd,
		&cobra.Command{
			Use:   "show <keystore-path>",
			Short: "Print the address held by a keystore",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := c.loadKey(args[0])
				if err != nil {
					return err
				}
				info, err := describeKey(key, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			},
		},
	)
	return cmd
}
