package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotd/pkg/client"
	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/ops"
)

// readInput reads a file argument, or stdin when it is "-" or absent.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func newExecCmd(opts *globalOptions) *cobra.Command {
	var (
		sealed    bool
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "exec [descriptor.json|-]",
		Short: "Execute one operation descriptor against local storage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return fmt.Errorf("read descriptor: %w", err)
			}
			if serverURL != "" {
				return execRemote(cmd, opts, serverURL, data)
			}

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if sealed {
				var body struct {
					EncryptedAuth string `json:"encryptedAuth"`
				}
				if err := json.Unmarshal(data, &body); err != nil {
					return fmt.Errorf("decode sealed body: %w", err)
				}
				key, err := a.cfg.EnvelopeKey()
				if err != nil {
					return err
				}
				if key == nil {
					return errors.New("--sealed requires server.key or server.key_file")
				}
				box, err := envelope.New(key)
				if err != nil {
					return err
				}
				if data, err = box.OpenString(body.EncryptedAuth); err != nil {
					return err
				}
			}

			desc, err := ops.Decode(data)
			if err != nil {
				return err
			}
			return printResponse(cmd, a.dispatcher().Dispatch(cmd.Context(), desc))
		},
	}
	cmd.Flags().BoolVar(&sealed, "sealed", false, `input is {"encryptedAuth": ...} sealed with the configured key`)
	cmd.Flags().StringVar(&serverURL, "server", "", "send the descriptor to a gotd server instead of local storage")
	return cmd
}

// execRemote sends a plain descriptor to a gotd server, sealing it with
// the configured key when there is one.
func execRemote(cmd *cobra.Command, opts *globalOptions, serverURL string, data []byte) error {
	desc, err := ops.Decode(data)
	if err != nil {
		return err
	}
	c, err := remoteClient(opts, serverURL)
	if err != nil {
		return err
	}
	resp, err := c.Do(cmd.Context(), desc)
	if err != nil {
		return err
	}
	return printResponse(cmd, resp)
}

func remoteClient(opts *globalOptions, serverURL string) (*client.Client, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	key, err := cfg.EnvelopeKey()
	if err != nil {
		return nil, err
	}
	copts := client.Options{CompressUploads: true}
	if key != nil {
		if copts.Box, err = envelope.New(key); err != nil {
			return nil, err
		}
	}
	return client.New(serverURL, copts)
}

// printResponse writes resp as indented JSON and turns a failed response
// into a command error.
func printResponse(cmd *cobra.Command, resp *ops.Response) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.IsSuccessful {
		return fmt.Errorf("%s: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	return nil
}
