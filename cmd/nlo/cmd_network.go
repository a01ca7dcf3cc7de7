package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"nlo/internal/lock"
	"nlo/internal/network"
	"nlo/internal/opserr"

	"github.com/urfave/cli/v3"
)

func namespaceArg(cmd *cli.Command) (string, error) {
	ns := cmd.Args().First()
	if ns == "" {
		return "", opserr.Precondition("a namespace argument is required")
	}
	return ns, nil
}

// withApp resolves the namespace, builds the app, takes the namespace lock
// and runs fn as the tracked operation op.
func withApp(ctx context.Context, cmd *cli.Command, op string, fn func(a *app) error) error {
	ns, err := namespaceArg(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, ns)
	if err != nil {
		return err
	}
	defer a.Close()

	release, err := lock.Acquire(lock.Path(filepath.Join(a.cfg.LogRoot(), ns)), op)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("Failed to release namespace lock", "namespace", ns, "error", err)
		}
	}()

	return a.track(ctx, op, func() error { return fn(a) })
}

func runNetwork(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, "run", func(a *app) error {
		n, err := a.openNetwork(cmd.StringSlice("profiles"))
		if err != nil {
			return err
		}
		env := a.env
		if cmd.Bool("seeds-from-cluster") {
			if env, err = a.withClusterSeeds(ctx, env); err != nil {
				return err
			}
		}
		return n.Up(ctx, network.UpOptions{Snapshot: cmd.String("snapshot"), Env: env})
	})
}

func stopNetwork(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, "stop", func(a *app) error {
		n, err := a.openNetwork(cmd.StringSlice("profiles"))
		if err != nil {
			return err
		}
		return n.Down(ctx, a.env)
	})
}

func restoreSnapshot(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, "restore", func(a *app) error {
		n, err := a.openNetwork(nil)
		if err != nil {
			return err
		}
		return n.Restore(ctx, cmd.String("snapshot"), a.env)
	})
}

func writeKeystore(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, "keystore", func(a *app) error {
		n, err := a.openNetwork(nil)
		if err != nil {
			return err
		}
		env := a.env
		if cmd.Bool("seeds-from-cluster") {
			if env, err = a.withClusterSeeds(ctx, env); err != nil {
				return err
			}
		}
		if err := n.PrepareKeystore(env); err != nil {
			return err
		}
		slog.Info("Keystore written", "namespace", a.namespace)
		return nil
	})
}
