package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voicerelay/internal/app"
	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/upstream"
)

type queryOptions struct {
	token  string
	userID string
	orgID  string
}

// newQueryCommand runs the pipeline in-process with the environment config.
func newQueryCommand(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Relay one query in-process and print the paced chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := joinArgs(args)
			if err != nil {
				return err
			}
			if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.TranscriptsEnabled = false

			logLevel := "warn"
			if root.verbose {
				logLevel = "debug"
			}
			logger := observability.NewLogger(logLevel, "console")
			defer func() { _ = logger.Sync() }()

			ctx, cancel := withTimeout(cmd, root)
			defer cancel()

			built, err := app.Build(ctx, cfg, logger, app.BuildOptions{Registerer: prometheus.NewRegistry()})
			if err != nil {
				return err
			}
			defer func() { _ = built.Cleanup() }()

			out := cmd.OutOrStdout()
			res, err := built.Pipeline.Run(ctx, relay.Turn{
				Messages: protocol.AppendQuery(nil, text),
				Credentials: upstream.Credentials{
					Token:  opts.token,
					UserID: opts.userID,
					OrgID:  opts.orgID,
				},
			}, func(chunk string) error {
				_, err := fmt.Fprint(out, chunk)
				return err
			})
			fmt.Fprintln(out)
			if root.verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "route=%s outcome=%s events=%d chunks=%d trace=%v\n",
					cfg.Route, res.Outcome, res.Events, res.Emitted, res.Trace)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.token, "token", "", "Bearer token (defaults to REEVO_JWT_TOKEN)")
	cmd.Flags().StringVar(&opts.userID, "user-id", "", "User id (defaults to REEVO_USER_ID)")
	cmd.Flags().StringVar(&opts.orgID, "org-id", "", "Org id (defaults to REEVO_ORG_ID)")
	return cmd
}
