package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "gotd",
		Short:         "Version-control operations service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "override storage.data_dir")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newExecCmd(opts))
	root.AddCommand(newUploadCmd(opts))
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newSealCmd(opts))
	root.AddCommand(newReposCmd(opts))
	root.AddCommand(newDeleteRepoCmd(opts))
	root.AddCommand(newFsckCmd(opts))
	root.AddCommand(newReflogCmd(opts))
	root.AddCommand(newConfigCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gotd %s\n", version)
		},
	}
}
