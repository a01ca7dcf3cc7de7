package main

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"nlo/internal/network"
	"nlo/internal/rollout"
	"nlo/internal/runtimeupgrade"
	"nlo/internal/sequence"

	"github.com/urfave/cli/v3"
)

func compileFilter(cmd *cli.Command, name string) (*regexp.Regexp, error) {
	expr := cmd.String(name)
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s expression: %w", name, err)
	}
	return re, nil
}

// imageUpgrade brings the fleet up on the starting tag, restoring snapshot
// first when given, then rolls every selected service to the new tag.
func (a *app) imageUpgrade(ctx context.Context, cmd *cli.Command, snapshot string) error {
	from, to, err := rollout.TagsFromEnv(a.env)
	if err != nil {
		return err
	}
	include, err := compileFilter(cmd, "include")
	if err != nil {
		return err
	}
	exclude, err := compileFilter(cmd, "exclude")
	if err != nil {
		return err
	}

	n, err := a.openNetwork(cmd.StringSlice("profiles"))
	if err != nil {
		return err
	}

	plan := rollout.Plan{
		Services:       cmd.StringSlice("services"),
		Include:        include,
		Exclude:        exclude,
		FromTag:        from,
		ToTag:          to,
		ImageEnvVar:    a.cfg.ImageEnvVar(),
		RequireHealthy: a.cfg.RequireHealthy() && !cmd.Bool("no-health-gate"),
		WaitBetween:    a.cfg.WaitBetween(),
		HealthTimeout:  a.cfg.HealthTimeout(),
		PollInterval:   a.cfg.HealthPollInterval(),
	}
	if cmd.IsSet("wait-between") {
		plan.WaitBetween = cmd.Duration("wait-between")
	}
	if cmd.IsSet("health-timeout") {
		plan.HealthTimeout = cmd.Duration("health-timeout")
	}

	if !cmd.Bool("skip-run") {
		slog.Info("Ensuring network is up with starting tag", "namespace", a.namespace, "tag", from)
		if err := n.Up(ctx, network.UpOptions{Snapshot: snapshot, Env: a.env.With(plan.ImageEnvVar, from)}); err != nil {
			return err
		}
	}

	upgraded, err := rollout.New(n.Controller).Run(ctx, plan, a.env)
	a.metrics.SetUpgraded(a.namespace, len(upgraded))
	return err
}

// runtimeUpgrade submits the wasm blob, bringing the network up first
// unless skipRun is set.
func (a *app) runtimeUpgrade(ctx context.Context, cmd *cli.Command, snapshot string, skipRun bool) error {
	opts := runtimeupgrade.Options{
		WasmPath:    cmd.String("wasm"),
		RPCURL:      a.cfg.RPCURL(),
		SudoURI:     runtimeupgrade.ResolveSudoURI(cmd.String("sudo-uri"), a.env, a.cfg),
		DelayBlocks: a.cfg.DelayBlocks(),
		SkipRun:     skipRun,
	}
	if v := cmd.String("rpc-url"); v != "" {
		opts.RPCURL = v
	}
	if cmd.IsSet("delay-blocks") {
		opts.DelayBlocks = int(cmd.Int("delay-blocks"))
	}

	u := &runtimeupgrade.Upgrader{
		Dial: runtimeupgrade.DialNode,
		BringUp: func(ctx context.Context) error {
			n, err := a.openNetwork(cmd.StringSlice("profiles"))
			if err != nil {
				return err
			}
			return n.Up(ctx, network.UpOptions{Snapshot: snapshot, Env: a.env})
		},
	}

	block, err := u.Run(ctx, opts)
	if err != nil {
		return err
	}
	slog.Info("Runtime upgrade finalized", "namespace", a.namespace, "block", block)
	return nil
}

func imageUpgrade(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, "image-upgrade", func(a *app) error {
		return a.imageUpgrade(ctx, cmd, cmd.String("snapshot"))
	})
}

func runtimeUpgrade(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, "runtime-upgrade", func(a *app) error {
		return a.runtimeUpgrade(ctx, cmd, cmd.String("snapshot"), cmd.Bool("skip-run"))
	})
}

func upgradeSequence(ctx context.Context, cmd *cli.Command) error {
	order, err := sequence.ParseOrder(cmd.String("order"))
	if err != nil {
		return err
	}
	return withApp(ctx, cmd, "upgrade-sequence", func(a *app) error {
		c := &sequence.Composer{
			Runtime: func(ctx context.Context, snapshot string, skipRun bool) error {
				return a.runtimeUpgrade(ctx, cmd, snapshot, skipRun)
			},
			Image: func(ctx context.Context, snapshot string) error {
				return a.imageUpgrade(ctx, cmd, snapshot)
			},
		}
		return c.Run(ctx, a.namespace, order, cmd.String("snapshot"))
	})
}
