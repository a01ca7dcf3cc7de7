package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"nlo/internal/archive"
	"nlo/internal/config"
	"nlo/internal/credentials"
	"nlo/internal/crypto"
	"nlo/internal/execx"
	"nlo/internal/metrics"
	"nlo/internal/network"
	"nlo/internal/objstore"
	"nlo/internal/restore"
	"nlo/internal/seeds"
	"nlo/internal/util"
	"nlo/internal/workload"

	"github.com/urfave/cli/v3"
)

const s3RetryAttempts = 5

// cluster is what the Kubernetes drivers offer to capture and seed extraction.
type cluster interface {
	workload.Cluster
	workload.PodExec
}

type app struct {
	cfg       *config.Config
	env       config.Env
	namespace string
	metrics   *metrics.Recorder
	logFile   *os.File
}

// newApp loads config, env files and the per-namespace log for one command.
func newApp(cmd *cli.Command, namespace string) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, logFile, err := util.SetupLogging(util.LogPath(cfg.LogRoot(), namespace, time.Now()), cmd.Bool("verbose"))
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	env, err := config.LoadEnv(cmd.StringSlice("env-file")...)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	return &app{
		cfg:       cfg,
		env:       env,
		namespace: namespace,
		metrics:   metrics.New(),
		logFile:   logFile,
	}, nil
}

func (a *app) Close() {
	if err := a.logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

// track records the outcome of op and pushes the metrics when a gateway is configured.
func (a *app) track(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	a.metrics.Observe(op, start, err)
	if perr := a.metrics.Push(context.WithoutCancel(ctx), a.cfg.Metrics.Pushgateway, a.cfg.MetricsJob()); perr != nil {
		slog.Warn("Failed to push metrics", "error", perr)
	}
	return err
}

func (a *app) openNetwork(profiles []string) (*network.Network, error) {
	n, err := network.Open(a.cfg, a.namespace)
	if err != nil {
		return nil, err
	}
	n.Controller = &workload.Compose{Runner: execx.OS{}, File: n.Topology.Path, Profiles: profiles}
	n.NewRestorer = a.newRestorer
	return n, nil
}

func (a *app) newStore(ctx context.Context, env config.Env) (objstore.Store, objstore.Lister, error) {
	creds, err := credentials.FromEnv(env)
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.ObjectStore() == "cli" {
		s := &objstore.CLI{Runner: execx.OS{}, Creds: creds, Env: env.Environ()}
		return s, s, nil
	}
	s, err := objstore.NewS3(ctx, creds, a.cfg.SnapshotRegion(), s3RetryAttempts)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func (a *app) newCodec() archive.Codec {
	if a.cfg.ArchiveCodec() == "cli" {
		return archive.CLI{Runner: execx.OS{}}
	}
	return archive.Native{}
}

func (a *app) newRestorer(ctx context.Context, env config.Env) (network.SnapshotRestorer, error) {
	store, _, err := a.newStore(ctx, env)
	if err != nil {
		return nil, err
	}
	r := &restore.Restorer{
		Store:   store,
		Codec:   a.newCodec(),
		Aliases: a.cfg.ChainAliases(),
	}
	if path := a.cfg.Snapshot.AgeIdentityFile; path != "" {
		identity, err := crypto.LoadIdentity(path)
		if err != nil {
			return nil, err
		}
		r.Identity = identity
	}
	return r, nil
}

func (a *app) newCluster() (cluster, error) {
	k := a.cfg.Kubernetes
	if a.cfg.KubeDriver() == "kubectl" {
		return &workload.Kubectl{
			Runner:     execx.OS{},
			Namespace:  a.namespace,
			Kubeconfig: k.Kubeconfig,
			Context:    k.Context,
		}, nil
	}
	kube, err := workload.NewKube(k.Kubeconfig, k.Context, a.namespace)
	if err != nil {
		return nil, err
	}
	return kube, nil
}

// withClusterSeeds merges the seeds of the namespace's authority pods into env.
func (a *app) withClusterSeeds(ctx context.Context, env config.Env) (config.Env, error) {
	c, err := a.newCluster()
	if err != nil {
		return env, err
	}
	found, err := seeds.FromCluster(ctx, c, a.cfg.SeedPodSelector())
	if err != nil {
		return env, fmt.Errorf("failed to read seeds from cluster: %w", err)
	}
	slog.Info("Loaded seeds from cluster", "namespace", a.namespace, "vars", len(found))
	return env.Merge(found), nil
}
