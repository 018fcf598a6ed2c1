package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/ops"
)

func newSealCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seal [descriptor.json|-]",
		Short: "Seal a descriptor into a request body for the HTTP API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return fmt.Errorf("read descriptor: %w", err)
			}
			if _, err := ops.Decode(data); err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			key, err := cfg.EnvelopeKey()
			if err != nil {
				return err
			}
			if key == nil {
				return errors.New("seal requires server.key or server.key_file")
			}
			box, err := envelope.New(key)
			if err != nil {
				return err
			}
			token, err := box.SealString(data)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"encryptedAuth": token})
		},
	}
}
