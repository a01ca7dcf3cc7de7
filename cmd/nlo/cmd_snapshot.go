package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"nlo/internal/capture"
	"nlo/internal/config"
	"nlo/internal/credentials"
	"nlo/internal/list"
	"nlo/internal/opserr"

	"github.com/urfave/cli/v3"
)

func captureSnapshot(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, "snapshot", func(a *app) error {
		creds, err := credentials.FromEnv(a.env)
		if err != nil {
			return err
		}
		uri := cmd.String("uri")
		if uri == "" {
			uri = credentials.SnapshotBaseURI(a.env, a.cfg.Snapshot.BaseURI)
		}
		if uri == "" {
			return opserr.Precondition("no snapshot destination; pass --uri or set %s", credentials.EnvSnapshotBaseURI)
		}

		timeout, err := snapshotTimeout(cmd, a.cfg.SnapshotTimeout())
		if err != nil {
			return err
		}

		c, err := a.newCluster()
		if err != nil {
			return err
		}

		opts := capture.Options{
			StatefulSet:    a.cfg.SnapshotWorkload(),
			PVC:            cmd.String("pvc"),
			Image:          a.cfg.SnapshotImage(),
			URI:            uri,
			ScriptFile:     a.cfg.Snapshot.Script,
			Timeout:        timeout,
			RolloutTimeout: a.cfg.SnapshotRolloutTimeout(),
			PollInterval:   a.cfg.SnapshotPollInterval(),
			Credentials:    creds,
		}
		if v := cmd.String("statefulset"); v != "" {
			opts.StatefulSet = v
		}
		if v := cmd.String("image"); v != "" {
			opts.Image = v
		}
		if v := cmd.String("script"); v != "" {
			opts.ScriptFile = v
		}
		if err := capture.New(c).Capture(ctx, opts); err != nil {
			return err
		}
		slog.Info("Snapshot uploaded", "namespace", a.namespace, "workload", opts.StatefulSet, "uri", uri)
		return nil
	})
}

// snapshotTimeout lets --timeout replace the configured pod deadline, held to
// the same floor the config file is.
func snapshotTimeout(cmd *cli.Command, configured time.Duration) (time.Duration, error) {
	if !cmd.IsSet("timeout") {
		return configured, nil
	}
	d := cmd.Duration("timeout")
	if d < config.MinSnapshotTimeout {
		return 0, opserr.Precondition("--timeout must be at least %s", config.MinSnapshotTimeout)
	}
	return d, nil
}

func listSnapshots(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd, cmd.Args().First())
	if err != nil {
		return err
	}
	defer a.Close()

	return a.track(ctx, "snapshots", func() error {
		uri := cmd.String("uri")
		if uri == "" {
			uri = credentials.SnapshotBaseURI(a.env, a.cfg.Snapshot.BaseURI)
		}
		_, lister, err := a.newStore(ctx, a.env)
		if err != nil {
			return err
		}
		return list.Run(ctx, lister, uri, os.Stdout)
	})
}
