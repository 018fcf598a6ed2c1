package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newFsckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fsck [name...]",
		Short: "Verify every object reachable from each branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			names := args
			if len(names) == 0 {
				names = a.reg.List()
			}
			out := cmd.OutOrStdout()
			var failed []error
			for _, name := range names {
				r, err := a.reg.Get(name)
				if err != nil {
					failed = append(failed, err)
					continue
				}
				n, err := r.Verify()
				if err != nil {
					fmt.Fprintf(out, "error: %s: %v\n", name, err)
					failed = append(failed, fmt.Errorf("%s: %w", name, err))
					continue
				}
				fmt.Fprintf(out, "ok: verified %d objects in %s\n", n, name)
			}
			if len(failed) > 0 {
				return fmt.Errorf("fsck: %w", errors.Join(failed...))
			}
			return nil
		},
	}
}
