package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/server"
	"github.com/odvcencio/gotd/pkg/upload"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr           string
		allowPlaintext bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operations API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if allowPlaintext {
				a.cfg.Server.AllowPlaintext = true
			}

			key, err := a.cfg.EnvelopeKey()
			if err != nil {
				return err
			}
			var box *envelope.Box
			if key != nil {
				if box, err = envelope.New(key); err != nil {
					return err
				}
			} else {
				a.logger.Warn("no envelope key configured; sealed requests will be rejected")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			uploads := upload.NewManager(upload.Options{
				TTL:      a.cfg.Upload.TTL.Duration,
				MaxBytes: a.cfg.Upload.MaxBytes,
				Logger:   a.logger,
			})
			go uploads.Run(ctx)

			gin.SetMode(gin.ReleaseMode)
			srv := server.New(a.dispatcher(), server.Options{
				Box:            box,
				AllowPlaintext: a.cfg.Server.AllowPlaintext,
				Uploads:        uploads,
				MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
				Logger:         a.logger,
			})
			a.logger.Info("starting gotd", "version", version,
				"data_dir", a.cfg.Storage.DataDir, "repositories", len(a.reg.List()))
			return srv.Run(ctx, a.cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&allowPlaintext, "allow-plaintext", false, "accept unsealed JSON descriptors")
	return cmd
}
