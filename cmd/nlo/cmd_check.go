package main

import (
	"context"
	"os"

	"nlo/internal/check"
	"nlo/internal/credentials"

	"github.com/urfave/cli/v3"
)

func runCheck(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd, cmd.Args().First())
	if err != nil {
		return err
	}
	defer a.Close()

	opts := check.Options{
		Config:    a.cfg,
		Namespace: a.namespace,
		Out:       os.Stdout,
	}
	if cmd.Bool("store") {
		store, _, err := a.newStore(ctx, a.env)
		if err != nil {
			return err
		}
		opts.Store = store
		opts.StoreURI = credentials.SnapshotBaseURI(a.env, a.cfg.Snapshot.BaseURI)
	}
	return check.Run(ctx, opts)
}
