package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/ocr-scanner/internal/server"
)

func newServeCommand(parent *ff.FlagSet, opts *options) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "ocr-scanner serve [FLAGS]",
		ShortHelp: "Serve the scanning API over HTTP",
		Flags:     fs,
		Exec: func(ctx context.Context, _ []string) error {
			if err := opts.setupLogging(); err != nil {
				return err
			}

			sess, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			basicAuth := server.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			}
			if basicAuth.Username != "" || basicAuth.Password != "" {
				slog.Info("Basic auth enabled", "user", basicAuth.Username)
			}

			srv := server.NewServer(sess.coordinator, sess.library, basicAuth)
			addr := fmt.Sprintf(":%d", *port)
			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
			return srv.Start(ctx, addr)
		},
	}
}
