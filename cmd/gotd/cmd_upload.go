package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotd/pkg/ops"
	"github.com/odvcencio/gotd/pkg/upload"
)

func newUploadCmd(opts *globalOptions) *cobra.Command {
	var (
		serverURL string
		repoName  string
		branch    string
		message   string
		prefix    string
		author    string
		email     string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Commit local files to a gotd server through an upload session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]upload.File, 0, len(args))
			for _, p := range args {
				data, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("read %s: %w", p, err)
				}
				name := filepath.ToSlash(filepath.Clean(p))
				if filepath.IsAbs(p) || strings.HasPrefix(name, "../") {
					name = filepath.Base(p)
				}
				if prefix != "" {
					name = strings.TrimSuffix(prefix, "/") + "/" + filepath.Base(p)
				}
				files = append(files, upload.File{Path: name, Data: data})
			}

			c, err := remoteClient(opts, serverURL)
			if err != nil {
				return err
			}
			resp, err := c.Upload(cmd.Context(), &ops.Descriptor{
				Operation:     "commit",
				Repository:    repoName,
				Branch:        branch,
				CommitMessage: message,
				Author:        ops.Author{Name: author, Email: email},
			}, files)
			if err != nil {
				return err
			}
			return printResponse(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8420", "gotd server URL")
	cmd.Flags().StringVarP(&repoName, "repo", "r", "", "repository name")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch (current branch when empty)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&prefix, "prefix", "", "store files under this directory by base name")
	cmd.Flags().StringVar(&author, "author", "", "author name")
	cmd.Flags().StringVar(&email, "email", "", "author email")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
